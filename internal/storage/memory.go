package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
)

// OpKind names a filesystem operation.
type OpKind string

const (
	OpExists   OpKind = "exists"
	OpMkdirAll OpKind = "mkdir"
	OpRead     OpKind = "read"
	OpWrite    OpKind = "write"
)

// Op is one recorded operation.
type Op struct {
	Kind OpKind
	Path string
}

func (o Op) String() string {
	return fmt.Sprintf("%s %s", o.Kind, o.Path)
}

// Hook runs before every Memory operation. A non-nil error fails the
// operation without touching state.
type Hook func(ctx context.Context, op Op) error

// Memory is an in-memory FS. Paths are cleaned but otherwise used verbatim;
// "." and "/" always exist.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	ops   []Op
	hook  Hook
}

var _ FS = (*Memory)(nil)

// NewMemory returns an empty in-memory filesystem.
func NewMemory() *Memory {
	return &Memory{
		files: make(map[string][]byte),
		dirs:  map[string]bool{".": true, "/": true},
	}
}

// SetHook installs a hook called before each operation.
func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	m.hook = h
	m.mu.Unlock()
}

// Ops returns a copy of the operations performed so far.
func (m *Memory) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Op(nil), m.ops...)
}

// ResetOps forgets the recorded operations.
func (m *Memory) ResetOps() {
	m.mu.Lock()
	m.ops = nil
	m.mu.Unlock()
}

// Put seeds a file, creating its parent directories. It is not recorded.
func (m *Memory) Put(p string, data []byte) {
	p = filepath.Clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAllLocked(filepath.Dir(p))
	m.files[p] = append([]byte(nil), data...)
}

// File returns a file's contents and whether it exists. It is not recorded.
func (m *Memory) File(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[filepath.Clean(p)]
	return append([]byte(nil), data...), ok
}

// IsDir reports whether a directory exists. It is not recorded.
func (m *Memory) IsDir(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirs[filepath.Clean(p)]
}

// Files lists every file path in sorted order.
func (m *Memory) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (m *Memory) begin(ctx context.Context, kind OpKind, p string) (string, error) {
	p = filepath.Clean(p)
	op := Op{Kind: kind, Path: p}

	m.mu.Lock()
	m.ops = append(m.ops, op)
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op); err != nil {
			return p, err
		}
	}
	return p, ctx.Err()
}

// Exists reports whether a file or directory exists.
func (m *Memory) Exists(ctx context.Context, p string) (bool, error) {
	p, err := m.begin(ctx, OpExists, p)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, isFile := m.files[p]
	return isFile || m.dirs[p], nil
}

// MkdirAll creates a directory and its parents.
func (m *Memory) MkdirAll(ctx context.Context, p string) error {
	p, err := m.begin(ctx, OpMkdirAll, p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for dir := p; ; dir = filepath.Dir(dir) {
		if _, isFile := m.files[dir]; isFile {
			return &fs.PathError{Op: "mkdir", Path: dir, Err: errors.New("not a directory")}
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}
	m.mkdirAllLocked(p)
	return nil
}

// ReadFile returns a file's contents.
func (m *Memory) ReadFile(ctx context.Context, p string) ([]byte, error) {
	p, err := m.begin(ctx, OpRead, p)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

// WriteFile stores a file. The parent directory must exist.
func (m *Memory) WriteFile(ctx context.Context, p string, data []byte) error {
	p, err := m.begin(ctx, OpWrite, p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirs[p] {
		return &fs.PathError{Op: "open", Path: p, Err: errors.New("is a directory")}
	}
	if !m.dirs[filepath.Dir(p)] {
		return &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	m.files[p] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) mkdirAllLocked(p string) {
	for dir := p; !m.dirs[dir]; dir = filepath.Dir(dir) {
		m.dirs[dir] = true
		if dir == filepath.Dir(dir) {
			return
		}
	}
}
