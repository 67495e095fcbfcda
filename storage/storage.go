package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist in the backend
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that are empty or escape the storage root
	ErrInvalidKey = errors.New("invalid storage key")
)

// Key prefixes
const (
	DocumentsPrefix  = "documents"
	ThumbnailsPrefix = "thumbnails"
)

// Backend stores uploaded documents and mirrored thumbnails
type Backend interface {
	// SaveDocument stores an uploaded document and returns its key
	SaveDocument(ctx context.Context, data []byte, slug, contentType string) (string, error)
	// SaveImage stores an image and returns its key
	SaveImage(ctx context.Context, data []byte, slug, contentType string) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Config contains storage configuration
type Config struct {
	Backend  string // "filesystem" or "s3"
	BasePath string // Base directory for the filesystem backend
	S3       S3Config
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		Backend:  "filesystem",
		BasePath: "./storage",
	}
}

// Open returns the backend selected by cfg.Backend
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "filesystem", "fs":
		return New(cfg)
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Storage handles filesystem storage operations
type Storage struct {
	config Config
}

// New creates a new filesystem Storage rooted at config.BasePath
func New(config Config) (*Storage, error) {
	if config.BasePath == "" {
		config.BasePath = DefaultConfig().BasePath
	}
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}

	return &Storage{
		config: config,
	}, nil
}

// SaveDocument writes a document under documents/YYYY/MM/
func (s *Storage) SaveDocument(ctx context.Context, data []byte, slug, contentType string) (string, error) {
	ext := DocumentExtension(contentType)
	if ext == "" {
		ext = ".txt"
	}
	return s.save(ctx, DocumentsPrefix, data, slug, ext)
}

// SaveImage writes an image under thumbnails/YYYY/MM/
func (s *Storage) SaveImage(ctx context.Context, data []byte, slug, contentType string) (string, error) {
	ext := ImageExtension(contentType)
	if ext == "" {
		ext = ".jpg"
	}
	return s.save(ctx, ThumbnailsPrefix, data, slug, ext)
}

func (s *Storage) save(ctx context.Context, prefix string, data []byte, slug, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if slug == "" {
		slug = "untitled"
	}

	dir := datedDir(prefix, time.Now())
	dirPath := filepath.Join(s.config.BasePath, filepath.FromSlash(dir))
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", prefix, err)
	}

	// Pick the first free name: slug.ext, slug-1.ext, slug-2.ext ...
	filename := slug + ext
	counter := 1
	for fileExists(filepath.Join(dirPath, filename)) {
		filename = fmt.Sprintf("%s-%d%s", slug, counter, ext)
		counter++
	}

	if err := os.WriteFile(filepath.Join(dirPath, filename), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s file: %w", prefix, err)
	}

	return path.Join(dir, filename), nil
}

// Read returns the bytes stored under key
func (s *Storage) Read(ctx context.Context, key string) ([]byte, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}

// Delete removes the file stored under key; missing files are not an error
func (s *Storage) Delete(ctx context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// GetFullPath returns the full filesystem path for a key
func (s *Storage) GetFullPath(key string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(key))
}

func (s *Storage) resolve(key string) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return s.GetFullPath(clean), nil
}

// CleanKey normalizes a storage key and rejects keys that are empty, absolute or contain "..".
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", ErrInvalidKey
		}
	}
	clean := path.Clean(key)
	if clean == "." {
		return "", ErrInvalidKey
	}
	return clean, nil
}

func datedDir(prefix string, now time.Time) string {
	return path.Join(prefix, fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", int(now.Month())))
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func normalizeContentType(contentType string) string {
	return strings.TrimSpace(strings.ToLower(strings.Split(contentType, ";")[0]))
}

// ImageExtension returns the file extension for an image content type
func ImageExtension(contentType string) string {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ""
	}
}

// DocumentExtension returns the file extension for an accepted document content type.
// An empty result means the type is not accepted for upload.
func DocumentExtension(contentType string) string {
	switch normalizeContentType(contentType) {
	case "text/plain":
		return ".txt"
	case "text/markdown", "text/x-markdown":
		return ".md"
	case "text/html":
		return ".html"
	default:
		return ""
	}
}

// ContentTypeForKey guesses the content type of a stored object from its extension
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
