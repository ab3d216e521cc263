package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"loaner-backend/internal/logger"
)

var ErrInvalidKey = errors.New("invalid storage key")

// LocalStorageService stores media on the local filesystem and serves it
// back through the API's media route.
type LocalStorageService struct {
	baseURL  string // Server URL (e.g., "http://localhost:8080")
	mediaDir string
	maxBytes int64
}

func NewLocalStorageService(baseURL, mediaDir string, maxBytes int64) (*LocalStorageService, error) {
	if err := os.MkdirAll(mediaDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &LocalStorageService{
		baseURL:  strings.TrimRight(baseURL, "/"),
		mediaDir: mediaDir,
		maxBytes: maxBytes,
	}, nil
}

// path resolves key inside the media directory and refuses keys that would
// leave it.
func (m *LocalStorageService) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", ErrInvalidKey
	}
	return filepath.Join(m.mediaDir, clean), nil
}

func (m *LocalStorageService) URL(key string) string {
	return fmt.Sprintf("%s/media/%s", m.baseURL, strings.TrimLeft(key, "/"))
}

func (m *LocalStorageService) FileExists(ctx context.Context, key string) (bool, int64, error) {
	fullPath, err := m.path(key)
	if err != nil {
		return false, 0, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return true, info.Size(), nil
}

func (m *LocalStorageService) DeleteFile(ctx context.Context, key string) error {
	fullPath, err := m.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (m *LocalStorageService) SaveFile(key string, reader io.Reader) error {
	fullPath, err := m.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (m *LocalStorageService) ReadFile(key string) (io.ReadCloser, error) {
	fullPath, err := m.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// DecodePhoto turns a base64 image, optionally a data URL, into bytes and a
// file extension. Anything that is not an image is rejected.
func DecodePhoto(encoded string, maxBytes int64) ([]byte, string, error) {
	if i := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && i > 0 {
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, "", fmt.Errorf("photo is not valid base64: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("photo is %d bytes, limit is %d", len(data), maxBytes)
	}
	ext, ok := imageExtensions[http.DetectContentType(data)]
	if !ok {
		return nil, "", fmt.Errorf("photo is not a supported image")
	}
	return data, ext, nil
}

// SavePhotos decodes and stores the photos concurrently under the device's
// asset tag. Photos that fail are logged and skipped; the returned URLs keep
// the order of the saved photos.
func (m *LocalStorageService) SavePhotos(ctx context.Context, assetTag string, photos []string) []string {
	urls := make([]string, len(photos))
	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, photo := range photos {
		i, photo := i, photo
		g.Go(func() error {
			data, ext, err := DecodePhoto(photo, m.maxBytes)
			if err != nil {
				logger.Warn("Skipping device photo", "asset_tag", assetTag, "index", i, "error", err)
				return nil
			}
			key := filepath.ToSlash(filepath.Join(sanitizeSegment(assetTag), uuid.NewString()+ext))
			if err := m.SaveFile(key, bytes.NewReader(data)); err != nil {
				logger.Warn("Failed to save device photo", "asset_tag", assetTag, "index", i, "error", err)
				return nil
			}
			mu.Lock()
			urls[i] = m.URL(key)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	saved := urls[:0]
	for _, u := range urls {
		if u != "" {
			saved = append(saved, u)
		}
	}
	return saved
}

func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
