// Package session persists who is logged in on this device.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pratsy91/periskope-chat/internal/models"
)

var ErrNotLoggedIn = errors.New("not logged in")

// Keys of the values kept in a Store.
const (
	KeyLoggedIn = "loggedIn"
	KeyUserID   = "userId"
	KeyUsername = "username"
	KeyToken    = "token"
)

// Store is a small string key-value store.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Clear() error
}

// Session is the signed-in identity passed explicitly to client components.
type Session struct {
	LoggedIn bool
	UserID   int64
	Username string
	Token    string
}

// Require returns ErrNotLoggedIn unless the session belongs to a user.
func (s Session) Require() error {
	if !s.LoggedIn || s.UserID == 0 {
		return ErrNotLoggedIn
	}
	return nil
}

// Load reads the session from st. A missing or incomplete session yields a
// logged-out Session without error.
func Load(st Store) (Session, error) {
	var sess Session

	loggedIn, _, err := st.Get(KeyLoggedIn)
	if err != nil {
		return sess, err
	}
	if loggedIn != "true" {
		return sess, nil
	}

	rawID, ok, err := st.Get(KeyUserID)
	if err != nil || !ok {
		return sess, err
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return sess, nil
	}
	username, _, err := st.Get(KeyUsername)
	if err != nil {
		return sess, err
	}
	token, _, err := st.Get(KeyToken)
	if err != nil {
		return sess, err
	}

	return Session{LoggedIn: true, UserID: id, Username: username, Token: token}, nil
}

// Login stores the identity of a successful sign-in.
func Login(st Store, res *models.AuthResult) (Session, error) {
	sess := Session{LoggedIn: true, UserID: res.User.ID, Username: res.User.Username, Token: res.Token}
	for _, kv := range [][2]string{
		{KeyUserID, strconv.FormatInt(sess.UserID, 10)},
		{KeyUsername, sess.Username},
		{KeyToken, sess.Token},
		{KeyLoggedIn, "true"},
	} {
		if err := st.Set(kv[0], kv[1]); err != nil {
			return Session{}, err
		}
	}
	return sess, nil
}

// Logout forgets the stored session.
func Logout(st Store) error {
	return st.Clear()
}

// MemoryStore keeps values for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
	return nil
}

// FileStore keeps values in a YAML file readable only by the owner.
type FileStore struct {
	Path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) read() (map[string]string, error) {
	values := map[string]string{}
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	return values, nil
}

func (f *FileStore) write(values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0o600)
}

func (f *FileStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.read()
	if err != nil {
		return err
	}
	values[key] = value
	return f.write(values)
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
