package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pratsy91/periskope-chat/internal/models"
)

func TestSessionLifecycle(t *testing.T) {
	stores := map[string]Store{
		"Memory": NewMemoryStore(),
		"File":   NewFileStore(filepath.Join(t.TempDir(), "nested", "session.yml")),
	}

	for name, st := range stores {
		t.Run(name, func(t *testing.T) {
			sess, err := Load(st)
			if err != nil {
				t.Fatal(err)
			}
			if !errors.Is(sess.Require(), ErrNotLoggedIn) {
				t.Error("Expected empty store to be logged out")
			}

			res := &models.AuthResult{User: models.User{ID: 42, Username: "alice"}, Token: "tok"}
			if _, err := Login(st, res); err != nil {
				t.Fatalf("Login failed: %v", err)
			}

			sess, err = Load(st)
			if err != nil {
				t.Fatal(err)
			}
			if err := sess.Require(); err != nil {
				t.Errorf("Expected logged in session, got %v", err)
			}
			if sess.UserID != 42 || sess.Username != "alice" || sess.Token != "tok" {
				t.Errorf("Unexpected session %+v", sess)
			}

			if err := Logout(st); err != nil {
				t.Fatal(err)
			}
			sess, _ = Load(st)
			if sess.LoggedIn {
				t.Error("Expected logged out session after Logout")
			}
			if err := Logout(st); err != nil {
				t.Errorf("Expected repeated Logout to succeed, got %v", err)
			}
		})
	}
}

func TestLoadIncomplete(t *testing.T) {
	st := NewMemoryStore()
	st.Set(KeyLoggedIn, "true")
	st.Set(KeyUserID, "not-a-number")

	sess, err := Load(st)
	if err != nil {
		t.Fatal(err)
	}
	if sess.LoggedIn {
		t.Error("Expected malformed user id to yield a logged out session")
	}
}

func TestFileStorePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yml")
	st := NewFileStore(path)
	if err := st.Set(KeyToken, "secret"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Expected mode 0600, got %o", perm)
	}

	os.WriteFile(path, []byte("{not yaml"), 0o600)
	if _, _, err := st.Get(KeyToken); err == nil {
		t.Error("Expected error for corrupt session file")
	}
}
