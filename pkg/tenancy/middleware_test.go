package tenancy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		mode       Mode
		url        string
		header     string
		wantStatus int
		wantID     string // expected tenant in context (empty if error expected)
	}{
		{
			name:       "single mode: no tenant param -> default",
			mode:       ModeSingle,
			url:        "/api/test",
			wantStatus: http.StatusOK,
			wantID:     "default",
		},
		{
			name:       "single mode: tenant param provided -> still default",
			mode:       ModeSingle,
			url:        "/api/test?tenantId=team-a",
			wantStatus: http.StatusOK,
			wantID:     "default",
		},
		{
			name:       "header mode: tenant from header",
			mode:       ModeHeader,
			url:        "/api/test",
			header:     "team-b",
			wantStatus: http.StatusOK,
			wantID:     "team-b",
		},
		{
			name:       "header mode: tenant from query param",
			mode:       ModeHeader,
			url:        "/api/test?tenantId=team-a",
			wantStatus: http.StatusOK,
			wantID:     "team-a",
		},
		{
			name:       "header mode: both header and query -> header wins",
			mode:       ModeHeader,
			url:        "/api/test?tenantId=from-query",
			header:     "from-header",
			wantStatus: http.StatusOK,
			wantID:     "from-header",
		},
		{
			name:       "header mode: missing tenant -> 400",
			mode:       ModeHeader,
			url:        "/api/test",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "header mode: invalid tenant (special chars) -> 400",
			mode:       ModeHeader,
			url:        "/api/test?tenantId=team_a",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "header mode: invalid tenant (uppercase) -> 400",
			mode:       ModeHeader,
			url:        "/api/test?tenantId=Team-A",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var capturedID string
			handler := NewMiddleware(tt.mode)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				capturedID = TenantIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				r.Header.Set(TenantHeader, tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			if tt.wantStatus == http.StatusOK {
				if capturedID != tt.wantID {
					t.Errorf("tenant in context = %q, want %q", capturedID, tt.wantID)
				}
			}

			if tt.wantStatus == http.StatusBadRequest {
				// Verify the error response is proper JSON.
				var errBody map[string]string
				if err := json.NewDecoder(w.Body).Decode(&errBody); err != nil {
					t.Fatalf("failed to decode error body: %v", err)
				}
				if errBody["error"] != "bad_request" {
					t.Errorf("error field = %q, want %q", errBody["error"], "bad_request")
				}
				if errBody["message"] == "" {
					t.Error("expected non-empty message in error response")
				}
				if ct := w.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type = %q, want %q", ct, "application/json")
				}
			}
		})
	}
}

func TestMiddleware_WithCustomResolver(t *testing.T) {
	// Test using Middleware() directly with a custom resolver.
	resolver := SingleTenantResolver{}
	handler := Middleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := TenantIDFromContext(r.Context())
		if id != "default" {
			t.Errorf("expected tenant 'default', got %q", id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
