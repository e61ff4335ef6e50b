package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	c := NewTTLCache(10, time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k", []byte("v"))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestExpiry(t *testing.T) {
	c := NewTTLCache(10, 10*time.Millisecond)
	c.Set("k", []byte("v"))

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestLRUEviction(t *testing.T) {
	c := NewTTLCache(2, time.Minute)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	// Touch "a" so "b" becomes least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", []byte("3"))
	assert.Equal(t, 2, c.Size())

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestSetUpdatesInPlace(t *testing.T) {
	c := NewTTLCache(2, time.Minute)
	c.Set("k", []byte("old"))
	c.Set("k", []byte("new"))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
	assert.Equal(t, 1, c.Size())
}

func TestInvalidate(t *testing.T) {
	c := NewTTLCache(10, time.Minute)
	c.Set("k", []byte("v"))
	c.Invalidate("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestInvalidatePrefix(t *testing.T) {
	c := NewTTLCache(10, time.Minute)
	c.Set("t1|/providers", []byte("a"))
	c.Set("t1|/tools", []byte("b"))
	c.Set("t2|/providers", []byte("c"))

	c.InvalidatePrefix("t1|")

	_, ok := c.Get("t1|/providers")
	assert.False(t, ok)
	_, ok = c.Get("t1|/tools")
	assert.False(t, ok)
	_, ok = c.Get("t2|/providers")
	assert.True(t, ok)
}

func TestInvalidateAll(t *testing.T) {
	c := NewTTLCache(10, time.Minute)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("v"))
	}
	c.InvalidateAll()
	assert.Zero(t, c.Size())
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 60*time.Second, cfg.RegistryTTL)
	assert.Equal(t, 30*time.Second, cfg.ProjectionTTL)
	assert.Equal(t, 1000, cfg.MaxSize)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PLUGIN_CACHE_ENABLED", "false")
	t.Setenv("PLUGIN_CACHE_REGISTRY_TTL", "120")
	t.Setenv("PLUGIN_CACHE_MAX_SIZE", "50")

	cfg := ConfigFromEnv()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 120*time.Second, cfg.RegistryTTL)
	assert.Equal(t, 50, cfg.MaxSize)
}

func TestNilManagerIsSafe(t *testing.T) {
	var m *Manager
	m.InvalidateRegistry()
	m.InvalidateTenant("t1")
	assert.Nil(t, NewManager(&Config{Enabled: false}))
	assert.Nil(t, NewManager(nil))
}
