package storage_test

import (
	"context"
	"encoding/base64"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"loaner-backend/internal/storage"
)

// A 1x1 transparent PNG.
const pixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func TestLocalStorageService_SaveAndRead(t *testing.T) {
	s, err := storage.NewLocalStorageService("http://localhost:8080/", t.TempDir(), 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SaveFile("devices/LNR-1/a.txt", strings.NewReader("hello")))
	exists, size, err := s.FileExists(ctx, "devices/LNR-1/a.txt")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(5), size)

	rc, err := s.ReadFile("devices/LNR-1/a.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello", string(data))

	assert.Equal(t, "http://localhost:8080/media/devices/LNR-1/a.txt", s.URL("devices/LNR-1/a.txt"))

	require.NoError(t, s.DeleteFile(ctx, "devices/LNR-1/a.txt"))
	exists, _, err = s.FileExists(ctx, "devices/LNR-1/a.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorageService_KeysStayInsideMediaDir(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.NewLocalStorageService("", dir, 0)
	require.NoError(t, err)

	require.NoError(t, s.SaveFile("../../escape.txt", strings.NewReader("x")))
	exists, _, err := s.FileExists(context.Background(), "escape.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = s.ReadFile("/")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestLocalStorageService_SavePhotos(t *testing.T) {
	s, err := storage.NewLocalStorageService("http://media", t.TempDir(), 1<<20)
	require.NoError(t, err)

	photos := []string{
		pixelPNG,
		"data:image/png;base64," + pixelPNG,
		"!!not base64!!",
		base64.StdEncoding.EncodeToString([]byte("plain text, not an image")),
	}
	urls := s.SavePhotos(context.Background(), "LNR 1", photos)
	require.Len(t, urls, 2)
	for _, u := range urls {
		assert.True(t, strings.HasPrefix(u, "http://media/media/LNR_1/"), u)
		assert.True(t, strings.HasSuffix(u, ".png"), u)
	}
}

func TestDecodePhoto_SizeLimit(t *testing.T) {
	_, _, err := storage.DecodePhoto(pixelPNG, 10)
	assert.Error(t, err)

	data, ext, err := storage.DecodePhoto(pixelPNG, 0)
	require.NoError(t, err)
	assert.Equal(t, ".png", ext)
	assert.NotEmpty(t, data)
}
