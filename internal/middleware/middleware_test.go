package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/pratsy91/periskope-chat/internal/auth"
	"github.com/pratsy91/periskope-chat/internal/models"
)

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokens("test-secret", time.Hour)
	valid, _ := tokens.Issue(&models.User{ID: 123, Username: "alice"})
	foreign, _ := auth.NewTokens("other-secret", time.Hour).Issue(&models.User{ID: 123})

	// Mock next handler
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r.Context())
		if !ok {
			t.Error("Expected userID in context")
		}
		if userID != 123 {
			t.Errorf("Expected userID 123, got %v", userID)
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name           string
		cookieValue    string
		expectedStatus int
	}{
		{
			name:           "Valid Cookie",
			cookieValue:    valid,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Invalid Signature",
			cookieValue:    foreign,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid Value",
			cookieValue:    "not_a_token",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tt.cookieValue})
			rr := httptest.NewRecorder()

			Auth(tokens)(nextHandler).ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v",
					rr.Code, tt.expectedStatus)
			}
		})
	}

	t.Run("Bearer Token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+valid)
		rr := httptest.NewRecorder()

		Auth(tokens)(nextHandler).ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})

	t.Run("Missing Cookie", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		rr := httptest.NewRecorder()

		Auth(tokens)(nextHandler).ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v",
				rr.Code, http.StatusUnauthorized)
		}
	})
}

func TestLoggingMiddleware(t *testing.T) {
	// Mock next handler that returns 404
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Context().Value(RequestIDKey) == nil {
			t.Error("Expected request id in context")
		}
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()

	Logging(zaptest.NewLogger(t))(nextHandler).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("handler returned wrong status code: got %v want %v",
			rr.Code, http.StatusNotFound)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID response header")
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rr = httptest.NewRecorder()
	Logging(zaptest.NewLogger(t))(nextHandler).ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("Expected propagated request id abc, got %q", got)
	}
}

// MockHijacker implements http.Hijacker for testing
type MockHijacker struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (m *MockHijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	m.hijacked = true
	return nil, nil, nil
}

func TestLoggingMiddleware_Hijack(t *testing.T) {
	// Mock next handler that tries to hijack
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			t.Error("ResponseWriter does not implement http.Hijacker")
			return
		}
		_, _, err := hijacker.Hijack()
		if err != nil {
			t.Errorf("Hijack failed: %v", err)
		}
	})

	req := httptest.NewRequest("GET", "/", nil)
	// The middleware wraps the writer passed to ServeHTTP, so that writer has
	// to support hijacking itself.
	mockWriter := &MockHijacker{ResponseRecorder: httptest.NewRecorder()}

	Logging(zaptest.NewLogger(t))(nextHandler).ServeHTTP(mockWriter, req)

	if !mockWriter.hijacked {
		t.Error("Expected hijack to reach the underlying writer")
	}
}
