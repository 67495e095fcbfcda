package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/docutag/curator/slug"
	"github.com/docutag/curator/storage"
)

// PublicPrefix is the path under which mirrored thumbnails are served
const PublicPrefix = "/api/thumbnails/"

// ErrImageTooSmall is returned for images below MinDimension on either side
var ErrImageTooSmall = errors.New("image too small")

// MinDimension is the smallest width or height accepted for a mirrored thumbnail
const MinDimension = 16

// MirrorConfig contains mirror configuration
type MirrorConfig struct {
	HTTPTimeout       time.Duration
	MaxImageSizeBytes int64
	UserAgent         string
}

// DefaultMirrorConfig returns default mirror configuration
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		HTTPTimeout:       15 * time.Second,
		MaxImageSizeBytes: 10 * 1024 * 1024,
		UserAgent:         BrowserUserAgent,
	}
}

// Mirror copies remote thumbnails into storage
type Mirror struct {
	config     MirrorConfig
	storage    storage.Backend
	httpClient *http.Client
}

// NewMirror creates a Mirror writing into store
func NewMirror(config MirrorConfig, store storage.Backend) *Mirror {
	defaults := DefaultMirrorConfig()
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = defaults.HTTPTimeout
	}
	if config.MaxImageSizeBytes <= 0 {
		config.MaxImageSizeBytes = defaults.MaxImageSizeBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}

	return &Mirror{
		config:  config,
		storage: store,
		httpClient: &http.Client{
			Timeout:   config.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Mirror downloads imageURL, validates it decodes as an image and stores it.
// It returns the public path of the stored copy.
func (m *Mirror) Mirror(ctx context.Context, imageURL string) (string, error) {
	if strings.HasPrefix(imageURL, PublicPrefix) {
		return imageURL, nil
	}

	data, err := m.download(ctx, imageURL)
	if err != nil {
		return "", err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	if cfg.Width < MinDimension || cfg.Height < MinDimension {
		return "", fmt.Errorf("%w: %dx%d", ErrImageTooSmall, cfg.Width, cfg.Height)
	}

	key, err := m.storage.SaveImage(ctx, data, slug.GenerateWithFallback(slug.FromURL(imageURL), "thumbnail"), "image/"+format)
	if err != nil {
		return "", fmt.Errorf("failed to store thumbnail: %w", err)
	}

	return PublicPrefix + key, nil
}

// download fetches imageURL, refusing bodies larger than MaxImageSizeBytes
func (m *Mirror) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", m.config.UserAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.config.MaxImageSizeBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > m.config.MaxImageSizeBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", m.config.MaxImageSizeBytes)
	}

	return data, nil
}
