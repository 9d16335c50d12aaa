package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultManager(t *testing.T) {
	m := NewDefaultManager(map[string]bool{ConcurrentResolution: true})

	assert.True(t, m.IsEnabled(ConcurrentResolution))
	assert.False(t, m.IsEnabled(EventStream))
	assert.False(t, m.IsEnabled("unknown"))

	check := m.Check(EventStream)
	assert.False(t, check())
	m.Enable(EventStream)
	assert.True(t, check())
	m.Disable(EventStream)
	assert.False(t, check())

	all := m.GetAll()
	assert.Len(t, all, 3)
	assert.Equal(t, ConcurrentResolution, all[0].Name)
}

func TestEnableUnknownIsNoop(t *testing.T) {
	m := NewManager()
	m.Enable("ghost")
	assert.False(t, m.IsEnabled("ghost"))
	assert.Empty(t, m.GetAll())
}
