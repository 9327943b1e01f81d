// Package storage stores and deletes proof files for review threads. A
// validating facade sits in front of a disk or MinIO backend: it enforces
// the size cap and MIME allow-list and derives flat stored names, so a
// stored name can never point outside the proof root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"resolutionbingo/api/internal/util"
)

var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrUnsafePath          = errors.New("path outside proof storage root")
)

// extensionByMime is the proof upload allow-list. The stored extension comes
// from the declared MIME type, never from the client filename.
var extensionByMime = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
}

// Backend persists blobs under flat names inside a fixed root.
type Backend interface {
	Put(ctx context.Context, name string, data []byte, mimeType string) error
	Delete(ctx context.Context, name string) error
}

type Service struct {
	backend  Backend
	maxBytes int64
}

func NewService(backend Backend, maxBytes int64) *Service {
	return &Service{backend: backend, maxBytes: maxBytes}
}

func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// SaveFile validates and stores a proof blob, returning the stored name.
func (s *Service) SaveFile(ctx context.Context, data []byte, mimeType string) (string, error) {
	if int64(len(data)) > s.maxBytes {
		return "", ErrFileTooLarge
	}
	ext, ok := extensionByMime[normalizeMime(mimeType)]
	if !ok {
		return "", ErrUnsupportedFileType
	}
	name := util.NewID("proof") + ext
	if err := s.backend.Put(ctx, name, data, normalizeMime(mimeType)); err != nil {
		return "", fmt.Errorf("store proof file: %w", err)
	}
	return name, nil
}

// DeleteFile removes a stored blob. Names that could escape the storage
// root are refused, not skipped.
func (s *Service) DeleteFile(ctx context.Context, name string) error {
	if !safeName(name) {
		return ErrUnsafePath
	}
	if err := s.backend.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete proof file: %w", err)
	}
	return nil
}

// AllowedMime reports whether uploads of the given MIME type are accepted.
func AllowedMime(mimeType string) bool {
	_, ok := extensionByMime[normalizeMime(mimeType)]
	return ok
}

func normalizeMime(mimeType string) string {
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

// safeName accepts only the flat names SaveFile generates.
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}
