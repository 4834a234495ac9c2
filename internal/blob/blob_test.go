package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestObjectPath(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	got := ObjectPath(42, at, "photos/cat.png")
	if got != "42/1700000000123_cat.png" {
		t.Errorf("Expected 42/1700000000123_cat.png, got %s", got)
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"1/2_a.txt", false},
		{"a/./b", false},
		{"", true},
		{"/etc/passwd", true},
		{"../secret", true},
		{"a/../../secret", true},
		{"..", true},
		{"a\\b", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, err := Clean(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("Clean(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestUploadAndOpen(t *testing.T) {
	s := &Store{Root: t.TempDir(), BaseURL: "http://localhost:8080/"}

	url, err := s.Upload(context.Background(), AttachmentsBucket, "7/100_my file.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	want := "http://localhost:8080/storage/chat-attachments/7/100_my%20file.txt"
	if url != want {
		t.Errorf("Expected URL %s, got %s", want, url)
	}

	f, err := s.Open(AttachmentsBucket, "7/100_my file.txt")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "hello" {
		t.Errorf("Expected content hello, got %q", data)
	}

	if _, err := s.Upload(context.Background(), "../x", "a", strings.NewReader("")); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Expected ErrInvalidPath for bad bucket, got %v", err)
	}
}

func TestUploadCanceled(t *testing.T) {
	s := &Store{Root: t.TempDir()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Upload(ctx, AttachmentsBucket, "1/a", strings.NewReader("data")); err == nil {
		t.Error("Expected error for canceled upload")
	}
	if _, err := s.Open(AttachmentsBucket, "1/a"); err == nil {
		t.Error("Expected no object after canceled upload")
	}
}

func TestUploadKeepsExisting(t *testing.T) {
	s := &Store{Root: t.TempDir()}
	ctx := context.Background()

	if _, err := s.Upload(ctx, AttachmentsBucket, "3/1_photo.png", strings.NewReader("original")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upload(ctx, AttachmentsBucket, "3/1_photo.png", strings.NewReader("replaced")); !errors.Is(err, ErrExists) {
		t.Errorf("Expected ErrExists, got %v", err)
	}

	f, err := s.Open(AttachmentsBucket, "3/1_photo.png")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "original" {
		t.Errorf("Expected original content, got %q", data)
	}
}

func TestAttachmentChat(t *testing.T) {
	tests := []struct {
		key     string
		want    int64
		wantErr bool
	}{
		{"12/100_a.png", 12, false},
		{"./12/100_a.png", 12, false},
		{"12", 0, true},
		{"abc/100_a.png", 0, true},
		{"0/100_a.png", 0, true},
		{"-4/100_a.png", 0, true},
		{"../12/a.png", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := AttachmentChat(tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPath) {
					t.Errorf("Expected ErrInvalidPath, got %d %v", got, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Expected %d, got %d %v", tt.want, got, err)
			}
		})
	}
}
