// Package credstore manages the per-session local credential directories.
package credstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
)

// ErrInvalidID is returned for identities that cannot be used as a directory name.
var ErrInvalidID = errors.New("credstore: invalid session id")

// Store roots every credential directory under a single base directory.
type Store struct {
	base string
}

// New creates a Store rooted at base. The directory is created lazily.
func New(base string) (*Store, error) {
	if base == "" {
		return nil, fmt.Errorf("credstore: base directory is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("credstore: resolve %s: %w", base, err)
	}
	return &Store{base: abs}, nil
}

// Base returns the absolute base directory.
func (s *Store) Base() string { return s.base }

// Path returns the credential directory for id.
func (s *Store) Path(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.base, id), nil
}

// Ensure creates the credential directory for id if needed and returns its path.
func (s *Store) Ensure(id string) (string, error) {
	dir, err := s.Path(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("credstore: create %s: %w", dir, err)
	}
	return dir, nil
}

// Exists reports whether the credential directory for id is present.
func (s *Store) Exists(id string) bool {
	dir, err := s.Path(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Remove deletes the credential directory for id recursively. Missing
// directories are not an error.
func (s *Store) Remove(id string) error {
	dir, err := s.Path(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("credstore: remove %s: %w", dir, err)
	}
	return nil
}

// WriteFile atomically replaces name inside dir with data.
func WriteFile(dir, name string, data []byte) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("credstore: invalid file name %q", name)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credstore: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("credstore: write %s: %w", path, err)
	}
	return nil
}

// Files returns the regular files directly inside dir, sorted by name.
// Subdirectories are skipped.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("credstore: list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ReadAll returns the contents of every regular file in dir keyed by name.
func ReadAll(dir string) (map[string][]byte, error) {
	names, err := Files(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("credstore: read %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
