package gid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToNumericID(t *testing.T) {
	tests := map[string]string{
		"123":                                   "123",
		" 456 ":                                 "456",
		"gid://shopify/Product/789":             "789",
		"gid://shopify/ProductVariant/42":       "42",
		"gid://shopify/Product/789?from=upsell": "789",
		"gid://shopify/Product/789/":            "789",
		"":                                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToNumericID(in), "input %q", in)
	}
}

func TestToGlobalID(t *testing.T) {
	assert.Equal(t, "gid://shopify/Product/123", ToGlobalID(KindProduct, "123"))
	assert.Equal(t, "gid://shopify/ProductVariant/9", ToGlobalID(KindProductVariant, "gid://shopify/ProductVariant/9"))
	assert.Equal(t, "", ToGlobalID(KindProduct, ""))
}

func TestIsGlobal(t *testing.T) {
	assert.True(t, IsGlobal("gid://shopify/Product/1"))
	assert.False(t, IsGlobal("1"))
}

func TestMatchesProductRef(t *testing.T) {
	tests := []struct {
		name      string
		stored    string
		purchased string
		want      bool
	}{
		{"numeric both", "123", "123", true},
		{"stored numeric, purchased global", "123", "gid://shopify/Product/123", true},
		{"stored global, purchased numeric", "gid://shopify/Product/123", "123", true},
		{"global both", "gid://shopify/Product/123", "gid://shopify/Product/123", true},
		{"different ids", "123", "124", false},
		{"suffix is not a partial number", "gid://shopify/Product/1123", "123", false},
		{"empty stored", "", "123", false},
		{"empty purchased", "123", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesProductRef(tt.stored, tt.purchased))
		})
	}
}
