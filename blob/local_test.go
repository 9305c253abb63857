package blob

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutAndPresign(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	loc, err := s.Put(context.Background(), []byte("png"), "doc-1/images/b1.png", "image/png")
	require.NoError(t, err)

	u, err := url.Parse(loc)
	require.NoError(t, err)
	assert.Equal(t, "file", u.Scheme)
	data, err := os.ReadFile(u.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
	assert.Equal(t, filepath.Join(dir, "doc-1", "images", "b1.png"), filepath.FromSlash(u.Path))

	signed, err := s.Presign(context.Background(), loc, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, loc, signed)
}

func TestLocalStoreKeepsKeysInside(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	loc, err := s.Put(context.Background(), []byte("x"), "../../etc/passwd", "")
	require.NoError(t, err)
	u, _ := url.Parse(loc)
	assert.Equal(t, filepath.Join(dir, "etc", "passwd"), filepath.FromSlash(u.Path))

	_, err = s.Put(context.Background(), []byte("x"), "", "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = s.Presign(context.Background(), "file:///etc/passwd", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = s.Presign(context.Background(), "s3://bucket/key", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", ContentType("a/B.PNG"))
	assert.Equal(t, "application/pdf", ContentType("paper.pdf"))
	assert.Equal(t, "application/octet-stream", ContentType("noext"))
}
