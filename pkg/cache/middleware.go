package cache

import (
	"bytes"
	"net/http"
)

// KeyFunc derives the cache key for a request. Returning "" skips the
// cache for that request.
type KeyFunc func(r *http.Request) string

// URIKey keys the cache by the full request URI (path + query).
func URIKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// cacheResponseWriter captures the response body and status code so
// successful responses can be stored.
type cacheResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *cacheResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *cacheResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Middleware caches GET responses in the provided cache, keyed by keyFn.
// Hits are served with X-Cache: HIT; only 200 responses are stored.
func Middleware(c *TTLCache, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = URIKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if cached, ok := c.Get(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(cached)
				return
			}

			crw := &cacheResponseWriter{ResponseWriter: w}
			crw.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(crw, r)

			if crw.statusCode == http.StatusOK {
				c.Set(key, crw.body.Bytes())
			}
		})
	}
}
