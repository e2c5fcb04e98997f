package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/manthysbr/aule-vton/internal/core/domain"
)

// FileStore keeps session artifacts under <root>/<session_id>/<name>.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
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

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Write persists data for a session and returns the file's path.
func (s *FileStore) Write(ctx context.Context, session domain.SessionID, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fullPath, err := s.path(session, name)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(fullPath, data); err != nil {
		return "", err
	}
	return fullPath, nil
}

// Read returns an artifact's bytes. Missing files report os.ErrNotExist.
func (s *FileStore) Read(ctx context.Context, session domain.SessionID, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := s.path(session, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s/%s: %w", session, name, err)
	}
	return data, nil
}

func (s *FileStore) path(session domain.SessionID, name string) (string, error) {
	dir, err := sanitizeSegment(string(session))
	if err != nil {
		return "", err
	}
	key, err := sanitizeSegment(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, dir, key), nil
}

// sanitizeSegment accepts a single path element and rejects anything that could
// escape the storage root.
func sanitizeSegment(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: storage key is required", domain.ErrValidation)
	}
	key = strings.ReplaceAll(key, "\\", "/")
	if strings.Contains(key, "/") || key == "." || key == ".." {
		return "", fmt.Errorf("%w: invalid storage key %q", domain.ErrValidation, key)
	}
	return key, nil
}

// writeFileAtomic writes to a temp file in the target directory and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("storage: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}
