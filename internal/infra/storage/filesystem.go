package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
)

var _ adapter.FileStore = (*FileStore)(nil)

// Categories are the top-level directories assets may be written to.
var Categories = map[string]bool{
	"avatars": true,
	"voices":  true,
	"scenes":  true,
	"videos":  true,
	"uploads": true,
	"temp":    true,
}

// FileStore persists assets onto the local filesystem. Refs are "<category>/<name>"
// relative to the root.
type FileStore struct {
	basePath string
}

func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

func (s *FileStore) BasePath() string { return s.basePath }

// Store writes data under category with a generated name and returns its ref.
func (s *FileStore) Store(ctx context.Context, data []byte, category string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !Categories[category] {
		return "", fmt.Errorf("%w: unknown asset category %q", domain.ErrInvalidArgument, category)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty asset", domain.ErrInvalidArgument)
	}
	ref, err := sanitizeKey(category + "/" + uuid.NewString() + extensionFor(data))
	if err != nil {
		return "", err
	}
	full := s.Path(ref)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("storage: commit file: %w", err)
	}
	return ref, nil
}

// Path resolves a ref to its absolute location.
func (s *FileStore) Path(ref string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(ref))
}

// Open returns the file behind ref. Refs that escape the root are rejected.
func (s *FileStore) Open(ref string) (*os.File, error) {
	clean, err := sanitizeKey(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(clean))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	return f, err
}

var extensions = map[string]string{
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"audio/mpeg":       ".mp3",
	"audio/wave":       ".wav",
	"audio/wav":        ".wav",
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"application/json": ".json",
}

func extensionFor(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if ext, ok := extensions[ct]; ok {
		return ext
	}
	switch {
	case len(data) > 3 && string(data[:3]) == "ID3":
		return ".mp3"
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		return ".json"
	case strings.HasPrefix(ct, "text/"):
		return ".txt"
	}
	return ".bin"
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: invalid key", domain.ErrInvalidArgument)
	}
	return cleaned, nil
}
