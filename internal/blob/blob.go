package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AttachmentsBucket holds files attached to chat messages.
const AttachmentsBucket = "chat-attachments"

var (
	ErrInvalidPath = errors.New("invalid object path")
	ErrExists      = errors.New("object already exists")
)

// Store keeps objects as files under Root/<bucket>/<path> and serves them
// publicly below BaseURL.
type Store struct {
	Root    string
	BaseURL string
}

// ObjectPath returns the attachment path "{chatId}/{unixMillis}_{filename}".
func ObjectPath(chatID int64, at time.Time, filename string) string {
	return fmt.Sprintf("%d/%d_%s", chatID, at.UnixMilli(), path.Base(filename))
}

// Clean validates an object key and returns it normalized. Keys must be
// relative and stay inside their bucket.
func Clean(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// AttachmentChat returns the chat an attachment key belongs to, taken from
// its leading "{chatId}" segment.
func AttachmentChat(key string) (int64, error) {
	k, err := Clean(key)
	if err != nil {
		return 0, err
	}
	first, _, ok := strings.Cut(k, "/")
	if !ok {
		return 0, ErrInvalidPath
	}
	id, err := strconv.ParseInt(first, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidPath
	}
	return id, nil
}

func (s *Store) file(bucket, key string) (string, error) {
	b, err := Clean(bucket)
	if err != nil || strings.Contains(b, "/") {
		return "", ErrInvalidPath
	}
	k, err := Clean(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, b, filepath.FromSlash(k)), nil
}

// Upload writes r to bucket/key and returns its public URL. Objects are
// immutable: ErrExists is returned if bucket/key is already stored.
func (s *Store) Upload(ctx context.Context, bucket, key string, r io.Reader) (string, error) {
	name, err := s.file(bucket, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return "", fmt.Errorf("failed to create bucket directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(name), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	// link fails instead of replacing an existing object
	if err := os.Link(tmp.Name(), name); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", ErrExists
		}
		return "", fmt.Errorf("failed to store object: %w", err)
	}
	return s.PublicURL(bucket, key), nil
}

// Open returns the object at bucket/key.
func (s *Store) Open(bucket, key string) (*os.File, error) {
	name, err := s.file(bucket, key)
	if err != nil {
		return nil, err
	}
	return os.Open(name)
}

// PublicURL returns the URL the object at bucket/key is served under.
func (s *Store) PublicURL(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(s.BaseURL, "/") + "/storage/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
