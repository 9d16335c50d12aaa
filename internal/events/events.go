package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"postpurchase-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventOfferSaved is emitted when an offer is created or replaced.
	EventOfferSaved EventType = "offer.saved"
	// EventFunnelRecorded is emitted after a funnel event is stored.
	EventFunnelRecorded EventType = "offer.event_recorded"
	// EventSubscriptionChanged is emitted on plan changes, confirmations and
	// cancellations.
	EventSubscriptionChanged EventType = "subscription.changed"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// OfferSavedData contains data for offer saved events.
type OfferSavedData struct {
	Offer      models.Offer `json:"offer"`
	Created    bool         `json:"created"`
	Downgraded bool         `json:"downgraded"`
}

// FunnelRecordedData contains data for funnel recorded events.
type FunnelRecordedData struct {
	Event models.OfferEvent `json:"event"`
}

// SubscriptionChangedData contains data for subscription changed events.
type SubscriptionChangedData struct {
	Shop   string `json:"shop"`
	PlanID string `json:"plan_id"`
	Status string `json:"status"`
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	log      *slog.Logger
	inflight sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		log:      log,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish runs every handler subscribed to eventType in its own goroutine.
// Handlers outlive the request that published the event.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data any) {
	m.mu.RLock()
	if !m.enabled || len(m.handlers[eventType]) == 0 {
		m.mu.RUnlock()
		return
	}
	handlers := m.handlers[eventType]
	m.inflight.Add(len(handlers))
	m.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		go func(h Handler) {
			defer m.inflight.Done()
			if err := h(ctx, event); err != nil {
				m.log.WarnContext(ctx, "event handler failed",
					slog.String("event_type", string(eventType)),
					slog.String("error", err.Error()))
			}
		}(handler)
	}
}

// PublishOfferSaved publishes an offer saved event.
func (m *Manager) PublishOfferSaved(ctx context.Context, offer models.Offer, created, downgraded bool) {
	m.Publish(ctx, EventOfferSaved, OfferSavedData{Offer: offer, Created: created, Downgraded: downgraded})
}

// PublishFunnelRecorded publishes a funnel recorded event.
func (m *Manager) PublishFunnelRecorded(ctx context.Context, event models.OfferEvent) {
	m.Publish(ctx, EventFunnelRecorded, FunnelRecordedData{Event: event})
}

// PublishSubscriptionChanged publishes a subscription changed event.
func (m *Manager) PublishSubscriptionChanged(ctx context.Context, shop, planID, status string) {
	m.Publish(ctx, EventSubscriptionChanged, SubscriptionChangedData{Shop: shop, PlanID: planID, Status: status})
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.inflight.Wait()
}
