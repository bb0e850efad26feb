// Package storage is the filesystem capability used by control commands and
// the script composer.
//
// Callers depend on the FS interface only. AFS backs it with viant/afs for
// real deployments; Memory is an in-process implementation that records
// every operation so tests can assert exact side-effect sequences.
package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// FS is the set of filesystem operations the bridge performs.
type FS interface {
	Exists(ctx context.Context, path string) (bool, error)
	MkdirAll(ctx context.Context, path string) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}

// AFS implements FS on top of an afs.Service. Relative paths are resolved
// against root, which is either a local directory or an afs URL.
type AFS struct {
	service afs.Service
	root    string
}

var _ FS = (*AFS)(nil)

// NewAFS creates a storage rooted at root.
func NewAFS(root string) *AFS {
	return NewAFSWithService(afs.New(), root)
}

// NewAFSWithService creates a storage over an existing afs service.
func NewAFSWithService(service afs.Service, root string) *AFS {
	if !hasScheme(root) {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return &AFS{service: service, root: root}
}

// Root returns the base every relative path is resolved against.
func (a *AFS) Root() string {
	return a.root
}

// Resolve maps a command path onto a location understood by afs.
func (a *AFS) Resolve(p string) string {
	if hasScheme(p) {
		return p
	}
	if hasScheme(a.root) {
		return url.Join(a.root, filepath.ToSlash(p))
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(a.root, p)
}

// Exists reports whether a file or directory exists.
func (a *AFS) Exists(ctx context.Context, p string) (bool, error) {
	return a.service.Exists(ctx, a.Resolve(p))
}

// MkdirAll creates a directory and any missing parents.
func (a *AFS) MkdirAll(ctx context.Context, p string) error {
	return a.service.Create(ctx, a.Resolve(p), file.DefaultDirOsMode, true)
}

// ReadFile returns the full contents of a file.
func (a *AFS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	return a.service.DownloadWithURL(ctx, a.Resolve(p))
}

// WriteFile replaces the contents of a file, creating it if needed. An
// existing file keeps its permission bits.
func (a *AFS) WriteFile(ctx context.Context, p string, data []byte) error {
	u := a.Resolve(p)
	mode := file.DefaultFileOsMode
	if obj, err := a.service.Object(ctx, u); err == nil && !obj.IsDir() {
		mode = obj.Mode().Perm()
	}
	return a.service.Upload(ctx, u, mode, bytes.NewReader(data))
}

func hasScheme(p string) bool {
	return strings.Contains(p, "://")
}
