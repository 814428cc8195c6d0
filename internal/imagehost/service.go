package imagehost

import (
	"context"
	"fmt"
	"path"
	"strings"

	"samadhan/internal/db"
)

// Image describes a hosted image. PublicID is the backend key used to delete
// it later.
type Image struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Store persists encoded images under a key and returns their public URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Remove(ctx context.Context, key string) error
}

type Service struct {
	store    Store
	maxBytes int64
	maxEdge  int
}

func NewService(store Store, maxBytes int64, maxEdge int) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("image store is required")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max upload bytes must be > 0")
	}
	return &Service{store: store, maxBytes: maxBytes, maxEdge: maxEdge}, nil
}

// Upload decodes a base64 image, normalizes it and stores it under folder.
func (s *Service) Upload(ctx context.Context, data, folder string) (*Image, error) {
	folder, err := cleanFolder(folder)
	if err != nil {
		return nil, err
	}

	raw, err := DecodeBase64(data, s.maxBytes)
	if err != nil {
		return nil, err
	}

	normalized, err := Normalize(raw, s.maxEdge, DefaultJPEGQuality)
	if err != nil {
		return nil, err
	}

	imageID, err := db.GenerateID("img")
	if err != nil {
		return nil, fmt.Errorf("generating image id: %w", err)
	}

	key := path.Join(folder, pathPrefix(imageID), imageID+extensionFor(normalized.MimeType))
	url, err := s.store.Put(ctx, key, normalized.MimeType, normalized.Data)
	if err != nil {
		return nil, fmt.Errorf("storing image: %w", err)
	}

	return &Image{
		URL:      url,
		PublicID: key,
		Width:    normalized.Width,
		Height:   normalized.Height,
	}, nil
}

func (s *Service) Delete(ctx context.Context, publicID string) error {
	key, err := cleanKey(publicID)
	if err != nil {
		return err
	}
	return s.store.Remove(ctx, key)
}

func cleanFolder(folder string) (string, error) {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(folder, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrInvalidPath
		}
	}
	return folder, nil
}

func cleanKey(key string) (string, error) {
	clean := path.Clean(strings.TrimSpace(key))
	if clean == "." || clean == "/" || strings.HasPrefix(clean, "/") || strings.HasPrefix(clean, "..") {
		return "", ErrInvalidPath
	}
	return clean, nil
}

func pathPrefix(imageID string) string {
	randomPart := strings.TrimPrefix(imageID, "img_")
	if len(randomPart) < 2 {
		return "xx"
	}
	return randomPart[:2]
}

func extensionFor(mimeType string) string {
	if mimeType == "image/png" {
		return ".png"
	}
	return ".jpg"
}
