package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/pratsy91/periskope-chat/internal/auth"
	"github.com/pratsy91/periskope-chat/internal/models"
	"github.com/pratsy91/periskope-chat/internal/store/sqlstore"
)

func newAuthHandler(t *testing.T) (*AuthHandler, *sqlstore.SQLStore) {
	store, err := sqlstore.New("sqlite3", ":memory:", zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	svc := &auth.Service{Store: store, Tokens: auth.NewTokens("test-secret", time.Hour), Logger: zaptest.NewLogger(t)}
	return &AuthHandler{Auth: svc, TokenTTL: time.Hour, Logger: zaptest.NewLogger(t)}, store
}

func TestSignup(t *testing.T) {
	handler, _ := newAuthHandler(t)

	creds := Credentials{
		Username: "testuser",
		Password: "password123",
	}
	body, _ := json.Marshal(creds)

	req, err := http.NewRequest("POST", "/signup", bytes.NewBuffer(body))
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(handler.Signup).ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusCreated {
		t.Errorf("handler returned wrong status code: got %v want %v",
			status, http.StatusCreated)
	}

	// Test duplicate user
	req, _ = http.NewRequest("POST", "/signup", bytes.NewBuffer(body))
	rr = httptest.NewRecorder()
	http.HandlerFunc(handler.Signup).ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusConflict {
		t.Errorf("handler returned wrong status code for duplicate user: got %v want %v",
			status, http.StatusConflict)
	}
}

func TestLogin(t *testing.T) {
	handler, store := newAuthHandler(t)

	if _, err := handler.Auth.SignUp(testContext(t), "testuser", "password123"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name           string
		creds          Credentials
		expectedStatus int
	}{
		{"Valid Password", Credentials{"testuser", "password123"}, http.StatusOK},
		{"Wrong Password", Credentials{"testuser", "nope"}, http.StatusUnauthorized},
		{"Blank Username", Credentials{"  ", ""}, http.StatusBadRequest},
		{"New Username", Credentials{"newcomer", ""}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.creds)
			req, _ := http.NewRequest("POST", "/login", bytes.NewBuffer(body))
			rr := httptest.NewRecorder()
			http.HandlerFunc(handler.Login).ServeHTTP(rr, req)

			if status := rr.Code; status != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v",
					status, tt.expectedStatus)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			// Check cookies
			cookies := rr.Result().Cookies()
			if len(cookies) == 0 || cookies[0].Name != auth.CookieName {
				t.Error("Expected session cookie to be set")
			}
			var res models.AuthResult
			json.NewDecoder(rr.Body).Decode(&res)
			if res.Token == "" || res.User.Username != tt.creds.Username {
				t.Errorf("Unexpected result %+v", res)
			}
		})
	}

	if _, err := store.GetUserByUsername(testContext(t), "newcomer"); err != nil {
		t.Errorf("Expected login to create newcomer: %v", err)
	}
}

func TestLogout(t *testing.T) {
	handler, _ := newAuthHandler(t)

	req, _ := http.NewRequest("POST", "/logout", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(handler.Logout).ServeHTTP(rr, req)

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("Expected expired session cookie, got %+v", cookies)
	}
}
