package auth

import (
	"net/http"
	"strings"
	"time"
)

// CookieName is the cookie carrying the session token.
const CookieName = "session"

// SessionCookie returns the cookie that stores token for ttl.
func SessionCookie(token string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearedCookie expires the session cookie.
func ClearedCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	}
}

// TokenFromRequest returns the session token of r, taken from an
// "Authorization: Bearer" header or else the session cookie.
func TokenFromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		return strings.TrimSpace(token), ok && strings.TrimSpace(token) != ""
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
