package features

import (
	"sort"
	"sync"
)

// FeatureFlag represents a runtime feature flag.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// NewDefaultManager registers the known flags with the given initial
// states. Names missing from enabled start disabled.
func NewDefaultManager(enabled map[string]bool) *Manager {
	m := NewManager()
	m.Register(ConcurrentResolution, enabled[ConcurrentResolution],
		"Resolve purchased items in parallel")
	m.Register(EventStream, enabled[EventStream],
		"Forward recorded funnel events to the event stream")
	m.Register(SubscriptionCache, enabled[SubscriptionCache],
		"Cache canonical subscriptions between requests")
	return m
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled checks if a feature flag is enabled. Unknown flags are off.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}

	return flag.Enabled
}

// Check returns a func bound to one flag, for components that only take a
// predicate.
func (m *Manager) Check(name string) func() bool {
	return func() bool { return m.IsEnabled(name) }
}

// Enable enables a feature flag.
func (m *Manager) Enable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = true
	}
}

// Disable disables a feature flag.
func (m *Manager) Disable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = false
	}
}

// GetAll returns copies of all feature flags sorted by name.
func (m *Manager) GetAll() []FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]FeatureFlag, 0, len(m.flags))
	for _, v := range m.flags {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

const (
	// ConcurrentResolution fans out per-item offer lookups.
	ConcurrentResolution = "concurrent_resolution"
	// EventStream forwards funnel events to Kafka.
	EventStream = "event_stream"
	// SubscriptionCache caches canonical subscriptions.
	SubscriptionCache = "subscription_cache"
)
