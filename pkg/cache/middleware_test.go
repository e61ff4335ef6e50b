package cache

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistack/plugin-registry/pkg/tenancy"
)

func countingHandler(hits *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func TestMiddlewareHitAndMiss(t *testing.T) {
	c := NewTTLCache(10, time.Minute)
	var hits atomic.Int32
	handler := Middleware(c, nil)(countingHandler(&hits))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/registry", nil))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.EqualValues(t, 1, hits.Load())

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/registry", nil))
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, `{"ok":true}`, w.Body.String())
	// The handler was not invoked again.
	assert.EqualValues(t, 1, hits.Load())
}

func TestMiddlewareSkipsNonGet(t *testing.T) {
	c := NewTTLCache(10, time.Minute)
	var hits atomic.Int32
	handler := Middleware(c, nil)(countingHandler(&hits))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/registry", nil))
	}
	assert.EqualValues(t, 2, hits.Load())
	assert.Zero(t, c.Size())
}

func TestMiddlewareDoesNotCacheErrors(t *testing.T) {
	c := NewTTLCache(10, time.Minute)
	handler := Middleware(c, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/registry", nil))
	assert.Zero(t, c.Size())
}

func TestProjectionMiddlewareTenantKeys(t *testing.T) {
	m := NewManager(DefaultConfig())
	var hits atomic.Int32
	handler := m.ProjectionMiddleware()(countingHandler(&hits))

	get := func(tenantID string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/providers", nil)
		r = r.WithContext(tenancy.WithTenant(r.Context(), tenancy.TenantContext{TenantID: tenantID}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, "MISS", get("t1").Header().Get("X-Cache"))
	assert.Equal(t, "HIT", get("t1").Header().Get("X-Cache"))
	// A different tenant does not share the entry.
	assert.Equal(t, "MISS", get("t2").Header().Get("X-Cache"))

	m.InvalidateTenant("t1")
	assert.Equal(t, "MISS", get("t1").Header().Get("X-Cache"))
	assert.Equal(t, "HIT", get("t2").Header().Get("X-Cache"))
}

func TestProjectionMiddlewareSkipsWithoutTenant(t *testing.T) {
	m := NewManager(DefaultConfig())
	var hits atomic.Int32
	handler := m.ProjectionMiddleware()(countingHandler(&hits))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/providers", nil))
	}
	assert.EqualValues(t, 2, hits.Load())
}
