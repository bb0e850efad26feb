// Package composer stores the scripts written in the browser composer.
package composer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fastql/server/internal/storage"
)

// ScriptExt is the suffix of listed scripts.
const ScriptExt = ".sql"

var (
	// ErrInvalidName is returned for names that leave the composer directory.
	ErrInvalidName = errors.New("invalid script name")
	// ErrNotFound is returned when a script does not exist.
	ErrNotFound = errors.New("script not found")
)

// Script is one stored script.
type Script struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Store reads and writes scripts under one directory.
type Store struct {
	root string
	fs   storage.FS
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, fs storage.FS) *Store {
	return &Store{root: filepath.Clean(dir), fs: fs}
}

// Root returns the composer directory.
func (s *Store) Root() string {
	return s.root
}

// List returns the names of the scripts directly in the composer directory,
// without the .sql suffix.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := doublestar.Glob(os.DirFS(s.root), "*"+ScriptExt, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.root, err)
	}

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(m, ScriptExt))
	}
	sort.Strings(names)
	return names, nil
}

// Read returns a script by file name.
func (s *Store) Read(ctx context.Context, filename string) (Script, error) {
	p, err := s.resolve(filename)
	if err != nil {
		return Script{}, err
	}

	exists, err := s.fs.Exists(ctx, p)
	if err != nil {
		return Script{}, fmt.Errorf("stat %s: %w", filename, err)
	}
	if !exists {
		return Script{}, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}

	data, err := s.fs.ReadFile(ctx, p)
	if err != nil {
		return Script{}, fmt.Errorf("read %s: %w", filename, err)
	}
	return Script{Filename: filename, Content: string(data)}, nil
}

// Write stores content as subPath/name inside the composer directory.
func (s *Store) Write(ctx context.Context, subPath, name, content string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	p, err := s.resolve(filepath.Join(subPath, name))
	if err != nil {
		return err
	}
	if dir := filepath.Dir(p); dir != s.root {
		if err := s.fs.MkdirAll(ctx, dir); err != nil {
			return fmt.Errorf("create %s: %w", subPath, err)
		}
	}
	if err := s.fs.WriteFile(ctx, p, []byte(content)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// resolve joins rel onto the root and rejects results outside it.
func (s *Store) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, rel)
	}
	p := filepath.Join(s.root, rel)
	r, err := filepath.Rel(s.root, p)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, rel)
	}
	return p, nil
}
