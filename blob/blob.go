package blob

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"
	"time"
)

var ErrInvalidKey = errors.New("invalid blob key")

// Store keeps raw uploads and extracted images. Put returns a locator that
// Presign can turn into a URL the vision model can fetch.
type Store interface {
	Put(ctx context.Context, data []byte, key, contentType string) (string, error)
	Presign(ctx context.Context, locator string, ttl time.Duration) (string, error)
}

// ContentType guesses a MIME type from the key extension.
func ContentType(key string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(key))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// cleanKey rejects keys that would escape the bucket or base directory.
func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(key, "\\", "/")), "/")
	if key == "" || key == "." {
		return "", ErrInvalidKey
	}
	return key, nil
}
