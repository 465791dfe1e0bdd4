package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const contentIDPrefix = "sha256:"

var (
	// ErrNotFound is returned by Get when no blob has the requested content id.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidContentID is returned for ids that are not "sha256:<64 hex>".
	ErrInvalidContentID = errors.New("invalid content id")
)

// Store defines the contract for Content-Addressed Storage (CAS) of published blobs.
// Content ids have the form "sha256:<hex>" and depend only on the stored bytes.
type Store interface {
	// Put persists data and returns its content id. Storing the same bytes twice is a no-op.
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	// Get retrieves data by its content id.
	Get(ctx context.Context, id string) ([]byte, error)
	// Exists checks if a blob exists by its content id.
	Exists(ctx context.Context, id string) (bool, error)
	// Delete removes a blob by its content id.
	Delete(ctx context.Context, id string) error
}

// ContentID returns the "sha256:<hex>" id of data and the bare hex digest.
func ContentID(data []byte) (id, digest string) {
	sum := sha256.Sum256(data)
	digest = hex.EncodeToString(sum[:])
	return contentIDPrefix + digest, digest
}

// parseContentID validates id and returns its hex digest.
func parseContentID(id string) (string, error) {
	digest, ok := strings.CutPrefix(id, contentIDPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentID, id)
	}
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != sha256.Size {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentID, id)
	}
	return digest, nil
}

// FileStore is a filesystem-backed implementation of Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a new CAS store at the specified directory.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: 0755 is intentional for a shared publish directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(digest string) string {
	return filepath.Join(s.baseDir, digest+".blob")
}

func (s *FileStore) Put(ctx context.Context, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, digest := ContentID(data)
	path := s.path(digest)

	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	// Write to a temp file in the same dir, then rename.
	tmp, err := os.CreateTemp(s.baseDir, digest+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return id, nil
}

func (s *FileStore) Get(ctx context.Context, id string) ([]byte, error) {
	digest, err := parseContentID(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(digest)) //nolint:gosec // digest validated as hex
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read blob %s: %w", id, err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, id string) (bool, error) {
	digest, err := parseContentID(id)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(s.path(digest))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob %s: %w", id, err)
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	digest, err := parseContentID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(digest)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}
