package blob

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore writes blobs below a directory and hands out file:// locators.
// Presigning is the identity; vision clients read file URLs directly.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalStore{dir: abs}, nil
}

func (l *LocalStore) Put(_ context.Context, data []byte, key, _ string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", key, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String(), nil
}

func (l *LocalStore) Presign(_ context.Context, locator string, _ time.Duration) (string, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, locator)
	}
	if !strings.HasPrefix(filepath.FromSlash(u.Path), l.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the blob dir", ErrInvalidKey, locator)
	}
	return locator, nil
}
