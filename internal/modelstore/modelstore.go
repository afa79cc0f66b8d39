// Package modelstore persists trained detector state as one artifact per
// model under a configured directory.
package modelstore

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Store writes and reads model artifacts. Saves are atomic: the blob is
// written to a temp file and renamed into place so a crash mid-write never
// leaves a truncated artifact.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("model directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".model")
}

// Save writes the serialized model blob for name.
func (s *Store) Save(name string, blob []byte) error {
	if name == "" {
		return fmt.Errorf("model name is empty")
	}
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write artifact for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close artifact for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to install artifact for %s: %w", name, err)
	}
	return nil
}

// Load reads the artifact for name. Missing artifacts return os.ErrNotExist.
func (s *Store) Load(name string) ([]byte, error) {
	blob, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact for %s: %w", name, err)
	}
	return blob, nil
}

// LoadAll returns every artifact in the directory keyed by model name.
// Unreadable artifacts are logged and skipped.
func (s *Store) LoadAll() (map[string][]byte, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list model directory: %w", err)
	}
	out := make(map[string][]byte)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".model") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".model")
		blob, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			log.Printf("Skipping unreadable model artifact %s: %v", e.Name(), err)
			continue
		}
		out[name] = blob
	}
	return out, nil
}

// Exists reports whether an artifact for name is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}
