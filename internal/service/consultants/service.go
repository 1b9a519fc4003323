package consultants

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindconnect-server/internal/store"
)

// Common errors for consultant operations.
var (
	ErrConsultantNotFound = errors.New("consultant not found")
	ErrInvalidName        = errors.New("invalid consultant name")
	ErrInvalidImage       = errors.New("unsupported image type")
)

var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Images is the object storage consultants keep profile pictures in.
type Images interface {
	Put(ctx context.Context, prefix, ext string, r io.Reader) (string, error)
	Delete(key string) error
	URL(key string) string
	KeyFromURL(u string) (string, bool)
}

// Input holds the editable consultant fields.
type Input struct {
	Name           string
	Specialization string
	Experience     string
	ImageURL       string
}

// Service manages the consultant directory.
type Service struct {
	store  store.ConsultantStore
	images Images
	log    *zerolog.Logger
}

// New creates a consultant service. images may be nil, disabling uploads.
func New(st store.ConsultantStore, images Images, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{store: st, images: images, log: logger}
}

// Create adds a consultant.
func (s *Service) Create(ctx context.Context, in Input) (*store.Consultant, error) {
	c, err := fromInput(in)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateConsultant(ctx, c); err != nil {
		return nil, fmt.Errorf("create consultant: %w", err)
	}
	s.log.Info().Int64("consultant_id", c.ID).Str("name", c.Name).Msg("consultant created")
	return c, nil
}

// Get retrieves a consultant.
func (s *Service) Get(ctx context.Context, id int64) (*store.Consultant, error) {
	c, err := s.store.GetConsultant(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConsultantNotFound
		}
		return nil, fmt.Errorf("get consultant: %w", err)
	}
	return c, nil
}

// Search lists consultants whose name or specialization contains query.
func (s *Service) Search(ctx context.Context, query string) ([]*store.Consultant, error) {
	list, err := s.store.ListConsultants(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("list consultants: %w", err)
	}
	return list, nil
}

// Update replaces the editable fields of a consultant. An empty ImageURL
// keeps the current image.
func (s *Service) Update(ctx context.Context, id int64, in Input) (*store.Consultant, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := fromInput(in)
	if err != nil {
		return nil, err
	}
	next.ID = id
	if next.ImageURL == "" {
		next.ImageURL = current.ImageURL
	}

	if err := s.store.UpdateConsultant(ctx, next); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConsultantNotFound
		}
		return nil, fmt.Errorf("update consultant: %w", err)
	}
	if next.ImageURL != current.ImageURL {
		s.dropImage(current.ImageURL)
	}
	return s.Get(ctx, id)
}

// Delete removes a consultant and its uploaded image.
func (s *Service) Delete(ctx context.Context, id int64) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConsultant(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConsultantNotFound
		}
		return fmt.Errorf("delete consultant: %w", err)
	}
	s.dropImage(current.ImageURL)
	s.log.Info().Int64("consultant_id", id).Msg("consultant deleted")
	return nil
}

// SetImage stores an uploaded profile picture and points the consultant at it.
// contentType or, failing that, the filename extension selects the format.
func (s *Service) SetImage(ctx context.Context, id int64, filename, contentType string, r io.Reader) (*store.Consultant, error) {
	if s.images == nil {
		return nil, errors.New("image uploads disabled")
	}
	ext, ok := imageExt(filename, contentType)
	if !ok {
		return nil, ErrInvalidImage
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	key, err := s.images.Put(ctx, fmt.Sprintf("consultants/%d", id), ext, r)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	next := *current
	next.ImageURL = s.images.URL(key)
	if err := s.store.UpdateConsultant(ctx, &next); err != nil {
		_ = s.images.Delete(key)
		return nil, fmt.Errorf("update consultant: %w", err)
	}
	s.dropImage(current.ImageURL)

	s.log.Info().Int64("consultant_id", id).Str("key", key).Msg("consultant image updated")
	return s.Get(ctx, id)
}

func (s *Service) dropImage(url string) {
	if s.images == nil || url == "" {
		return
	}
	key, ok := s.images.KeyFromURL(url)
	if !ok {
		return
	}
	if err := s.images.Delete(key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to delete old image")
	}
}

func fromInput(in Input) (*store.Consultant, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 128 {
		return nil, ErrInvalidName
	}
	return &store.Consultant{
		Name:           name,
		Specialization: strings.TrimSpace(in.Specialization),
		Experience:     strings.TrimSpace(in.Experience),
		ImageURL:       strings.TrimSpace(in.ImageURL),
	}, nil
}

func imageExt(filename, contentType string) (string, bool) {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if ext, ok := imageTypes[mediaType]; ok {
			return ext, true
		}
	}
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".jpg", ".jpeg":
		return ".jpg", true
	case ".png", ".gif", ".webp":
		return ext, true
	}
	return "", false
}
