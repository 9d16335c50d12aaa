package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"postpurchase-api/internal/validation"
)

func TestHTTPStatus(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("bad"), http.StatusBadRequest},
		{"field validation", &validation.ValidationError{Field: "shop", Message: "is required"}, http.StatusBadRequest},
		{"not found", NotFound("missing"), http.StatusNotFound},
		{"quota", QuotaExceeded("limit"), http.StatusTooManyRequests},
		{"forbidden", Forbidden("inactive"), http.StatusForbidden},
		{"external transport", ExternalService("billing down", cause), http.StatusBadGateway},
		{"external rejected", Rejected("bad plan", cause), http.StatusBadRequest},
		{"persistence", Persistence("db", cause), http.StatusInternalServerError},
		{"timeout", Timeout("slow", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"bare deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"unknown", cause, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("save offer: %w", NotFound("offer not found"))
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindValidation))
}

func TestMessage_KeepsDetailSeparate(t *testing.T) {
	err := Persistence("failed to store event", errors.New("disk I/O error"))
	msg, detail := Message(err)
	assert.Equal(t, "failed to store event", msg)
	assert.Equal(t, "disk I/O error", detail)

	msg, detail = Message(errors.New("raw"))
	assert.Equal(t, "internal server error", msg)
	assert.Equal(t, "raw", detail)
}

func TestIsPartial(t *testing.T) {
	assert.True(t, IsPartial(PartialPersistence("aggregate failed", errors.New("x"))))
	assert.False(t, IsPartial(Persistence("write failed", errors.New("x"))))
	assert.False(t, IsPartial(errors.New("x")))
}

func TestFromContext(t *testing.T) {
	assert.True(t, Is(FromContext("billing", context.DeadlineExceeded), KindTimeout))
	plain := errors.New("x")
	assert.Same(t, plain, FromContext("billing", plain))
}
