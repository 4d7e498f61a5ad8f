package storage

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

// Uploader implements domain.ObjectStorage on top of a FileStore and turns
// stored keys into public URLs below baseURL.
type Uploader struct {
	store   *FileStore
	baseURL string
}

// NewUploader wires a store with the URL prefix it is served under.
func NewUploader(store *FileStore, baseURL string) *Uploader {
	return &Uploader{store: store, baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// Upload writes data under key. Uploading the same key twice overwrites the
// object and returns the same URL.
func (u *Uploader) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty object %q", domain.ErrStorageFailure, key)
	}
	if ext := ExtensionFor(mimeType); ext != "" && !strings.Contains(lastSegment(key), ".") {
		key += ext
	}
	stored, err := u.store.Write(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrStorageFailure, err)
	}
	return u.URL(stored), nil
}

// URL returns the public URL of a stored key.
func (u *Uploader) URL(key string) string {
	if u.baseURL == "" {
		return "/" + key
	}
	return u.baseURL + "/" + key
}

// ResultKey is the storage key of a job's enhanced output.
func ResultKey(accountID, batchID, jobID string) string {
	return fmt.Sprintf("results/%s/%s/%s", safeSegment(accountID), batchID, jobID)
}

// OriginalKey is the storage key of an archived source image.
func OriginalKey(accountID, batchID, jobID string) string {
	return fmt.Sprintf("originals/%s/%s/%s", safeSegment(accountID), batchID, jobID)
}

// ExtensionFor maps a MIME type to a file extension, preferring the common one.
func ExtensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "":
		return ""
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func lastSegment(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "anonymous"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

var _ domain.ObjectStorage = (*Uploader)(nil)
