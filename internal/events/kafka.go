package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards domain events to a Kafka topic. Funnel events are
// keyed by offer id and offer and subscription changes by shop, so related
// messages share a partition. Handlers run concurrently, so messages for one
// key are not guaranteed to arrive in publish order.
type KafkaSink struct {
	writer  messageWriter
	enabled func() bool
	timeout time.Duration
}

// NewKafkaSink writes to topic on brokers while enabled returns true.
func NewKafkaSink(brokers []string, topic string, enabled func() bool) *KafkaSink {
	return newKafkaSink(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, enabled)
}

func newKafkaSink(w messageWriter, enabled func() bool) *KafkaSink {
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &KafkaSink{writer: w, enabled: enabled, timeout: 10 * time.Second}
}

// Register subscribes the sink to every event type it forwards.
func (s *KafkaSink) Register(m *Manager) {
	m.Subscribe(EventFunnelRecorded, s.Handle)
	m.Subscribe(EventOfferSaved, s.Handle)
	m.Subscribe(EventSubscriptionChanged, s.Handle)
}

// Handle writes one event. Unknown payloads are ignored.
func (s *KafkaSink) Handle(ctx context.Context, event Event) error {
	if !s.enabled() {
		return nil
	}

	var key, shop, kind string
	switch data := event.Data.(type) {
	case FunnelRecordedData:
		key, shop, kind = data.Event.OfferID, data.Event.Shop, string(data.Event.EventType)
	case OfferSavedData:
		key, shop, kind = data.Offer.Shop, data.Offer.Shop, string(event.Type)
	case SubscriptionChangedData:
		key, shop, kind = data.Shop, data.Shop, string(event.Type)
	default:
		return nil
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(kind)},
			{Key: "shop", Value: []byte(shop)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write %s event: %w", event.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
