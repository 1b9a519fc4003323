// Package objectstore keeps uploaded binary objects (profile images) on an
// afero filesystem under generated keys.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/vovakirdan/mindconnect-server/internal/utils"
)

var (
	// ErrNotFound is returned for unknown keys.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys escaping the store root.
	ErrInvalidKey = errors.New("invalid object key")
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("object too large")
)

// DefaultMaxSize bounds a single object.
const DefaultMaxSize = 5 << 20

// Store writes objects to fs and exposes them under baseURL.
type Store struct {
	fs      afero.Fs
	baseURL string
	maxSize int64
}

// New creates a store rooted at dir on the OS filesystem.
func New(dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return NewWithFs(afero.NewBasePathFs(afero.NewOsFs(), dir), baseURL), nil
}

// NewWithFs creates a store over an arbitrary filesystem. Tests pass afero.NewMemMapFs().
func NewWithFs(fs afero.Fs, baseURL string) *Store {
	return &Store{
		fs:      fs,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: DefaultMaxSize,
	}
}

// Put stores r under prefix with a fresh key and returns the key.
func (s *Store) Put(ctx context.Context, prefix, ext string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := path.Join(cleanPrefix(prefix), utils.NewID()+normalizeExt(ext))

	if err := s.fs.MkdirAll(path.Dir(key), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	f, err := s.fs.Create(key)
	if err != nil {
		return "", fmt.Errorf("create object: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	closeErr := f.Close()
	if err == nil && n > s.maxSize {
		err = ErrTooLarge
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(key)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	return key, nil
}

// Open returns the object stored under key.
func (s *Store) Open(key string) (afero.File, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(clean)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	if info, statErr := f.Stat(); statErr == nil && info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

// Delete removes an object. Missing objects are not an error.
func (s *Store) Delete(key string) error {
	clean, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(clean); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// URL returns the public URL of key.
func (s *Store) URL(key string) string {
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// KeyFromURL reverses URL. ok is false for URLs this store did not produce.
func (s *Store) KeyFromURL(u string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(u, prefix) {
		return "", false
	}
	return strings.TrimPrefix(u, prefix), true
}

func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	clean := path.Clean(key)
	if key == "" || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidKey
	}
	return clean, nil
}

func cleanPrefix(prefix string) string {
	clean := path.Clean("/" + prefix)
	return strings.TrimPrefix(clean, "/")
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
