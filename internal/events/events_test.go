package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpurchase-api/internal/models"
)

func TestPublish_DeliversToSubscribers(t *testing.T) {
	m := NewManager(true, nil)

	var mu sync.Mutex
	var got []Event
	m.Subscribe(EventOfferSaved, func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	})

	m.PublishOfferSaved(context.Background(), models.Offer{ID: "o1"}, true, false)
	m.PublishFunnelRecorded(context.Background(), models.OfferEvent{ID: "e1"})
	m.Wait()

	require.Len(t, got, 1)
	assert.Equal(t, EventOfferSaved, got[0].Type)
	assert.Equal(t, "o1", got[0].Data.(OfferSavedData).Offer.ID)
}

func TestPublish_SurvivesCancelledRequestContext(t *testing.T) {
	m := NewManager(true, nil)

	var ctxErr error
	m.Subscribe(EventSubscriptionChanged, func(ctx context.Context, e Event) error {
		ctxErr = ctx.Err()
		return errors.New("handler failure is only logged")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.PublishSubscriptionChanged(ctx, "demo.myshopify.com", "free", "deactivated")
	m.Wait()

	assert.NoError(t, ctxErr)
}

func TestDisabledManagerDropsEverything(t *testing.T) {
	m := NewManager(false, nil)
	called := false
	m.Subscribe(EventOfferSaved, func(ctx context.Context, e Event) error {
		called = true
		return nil
	})
	m.PublishOfferSaved(context.Background(), models.Offer{}, true, false)
	m.Shutdown()
	assert.False(t, called)
}

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_ForwardsFunnelEvents(t *testing.T) {
	w := &recordingWriter{}
	enabled := true
	sink := newKafkaSink(w, func() bool { return enabled })

	m := NewManager(true, nil)
	sink.Register(m)

	m.PublishFunnelRecorded(context.Background(), models.OfferEvent{
		ID: "e1", Shop: "demo.myshopify.com", OfferID: "o1", EventType: models.EventAccept,
	})
	m.Wait()

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "o1", string(msg.Key))

	var body struct {
		Type EventType `json:"type"`
		Data struct {
			Event models.OfferEvent `json:"event"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, EventFunnelRecorded, body.Type)
	assert.Equal(t, models.EventAccept, body.Data.Event.EventType)

	enabled = false
	m.PublishFunnelRecorded(context.Background(), models.OfferEvent{ID: "e2", OfferID: "o1"})
	m.Wait()
	assert.Len(t, w.msgs, 1)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_ForwardsOfferAndSubscriptionChangesKeyedByShop(t *testing.T) {
	w := &recordingWriter{}
	sink := newKafkaSink(w, nil)

	m := NewManager(true, nil)
	sink.Register(m)

	m.PublishOfferSaved(context.Background(), models.Offer{ID: "o1", Shop: "demo.myshopify.com"}, true, false)
	m.Wait()
	m.PublishSubscriptionChanged(context.Background(), "demo.myshopify.com", "starter", "active")
	m.Wait()

	require.Len(t, w.msgs, 2)
	for _, msg := range w.msgs {
		assert.Equal(t, "demo.myshopify.com", string(msg.Key))
	}

	types := make([]EventType, 0, len(w.msgs))
	for _, msg := range w.msgs {
		var body struct {
			Type EventType `json:"type"`
		}
		require.NoError(t, json.Unmarshal(msg.Value, &body))
		types = append(types, body.Type)
	}
	assert.ElementsMatch(t, []EventType{EventOfferSaved, EventSubscriptionChanged}, types)

	var changed struct {
		Data SubscriptionChangedData `json:"data"`
	}
	for _, msg := range w.msgs {
		if string(msg.Headers[0].Value) == string(EventSubscriptionChanged) {
			require.NoError(t, json.Unmarshal(msg.Value, &changed))
		}
	}
	assert.Equal(t, "starter", changed.Data.PlanID)
}
