// Package workspace prepares the output tree shared by all sessions.
//
// Layout under the output directory:
//
//	output/
//	  .composer/        saved composer scripts
//	    .temp/          scratch scripts, emptied on start and shutdown
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/fastql/server/internal/infrastructure/logging"
	"github.com/fastql/server/internal/storage"
)

const (
	ComposerDirName = ".composer"
	TempDirName     = ".temp"
)

// Workspace owns the output directory tree.
type Workspace struct {
	root   string
	fs     storage.FS
	logger *logging.Logger
}

// New creates a workspace rooted at the output directory.
func New(root string, fs storage.FS, logger *logging.Logger) *Workspace {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Workspace{root: root, fs: fs, logger: logger}
}

// Root returns the output directory.
func (w *Workspace) Root() string {
	return w.root
}

// ComposerDir returns the composer script directory.
func (w *Workspace) ComposerDir() string {
	return filepath.Join(w.root, ComposerDirName)
}

// TempDir returns the composer scratch directory.
func (w *Workspace) TempDir() string {
	return filepath.Join(w.root, ComposerDirName, TempDirName)
}

// Prepare creates any missing directories of the tree and empties the temp
// directory.
func (w *Workspace) Prepare(ctx context.Context) error {
	for _, dir := range []string{w.root, w.ComposerDir(), w.TempDir()} {
		exists, err := w.fs.Exists(ctx, dir)
		if err != nil {
			return fmt.Errorf("stat %s: %w", dir, err)
		}
		if exists {
			continue
		}
		if err := w.fs.MkdirAll(ctx, dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		w.logger.Info("Created directory", zap.String("dir", dir))
	}

	_, err := w.ClearTemp(ctx)
	return err
}

// ClearTemp removes the regular files directly inside the temp directory.
// Subdirectories and symlinks are left alone. It returns how many files were
// removed.
func (w *Workspace) ClearTemp(ctx context.Context) (int, error) {
	root := w.TempDir()
	var removed atomic.Int64
	conf := fastwalk.Config{Follow: false}

	err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("Failed to remove temp file", zap.String("path", p), zap.Error(err))
			return nil
		}
		removed.Add(1)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return int(removed.Load()), fmt.Errorf("clear %s: %w", root, err)
	}

	if n := removed.Load(); n > 0 {
		w.logger.Info("Cleared temp directory", zap.String("dir", root), zap.Int64("files", n))
	}
	return int(removed.Load()), nil
}
