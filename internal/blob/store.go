// Package blob stores uploaded file payloads on disk, addressed by a
// server-generated id within a room namespace.
package blob

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Load when no blob exists for the id.
var ErrNotFound = errors.New("blob not found")

// Store is a filesystem-backed blob store. Each namespace is a directory
// under the root; each blob is a file named by its generated id.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. The directory is created on first
// save, not here, so a read-only server start stays cheap.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// path validates that client-supplied components cannot escape the store
// root. Room names and ids arrive over the wire unauthenticated.
func (s *Store) path(namespace, name string) (string, error) {
	for _, part := range []string{namespace, name} {
		if part == "" || strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return "", fmt.Errorf("invalid blob path component %q", part)
		}
	}
	return filepath.Join(s.dir, namespace, name), nil
}

// Save writes data under the namespace and returns the generated opaque id.
func (s *Store) Save(namespace string, data []byte) (string, error) {
	id := uuid.NewString()
	path, err := s.path(namespace, id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating namespace %q: %w", namespace, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("saving blob %s: %w", id, err)
	}
	return id, nil
}

// Load reads the blob stored under the namespace for the id. It returns
// ErrNotFound when the id is unknown.
func (s *Store) Load(namespace, id string) ([]byte, error) {
	path, err := s.path(namespace, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading blob %s: %w", id, err)
	}
	return data, nil
}
