package interceptor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fastql/server/internal/infrastructure/logging"
	"github.com/fastql/server/internal/storage"
)

// LineTerminator ends every line forwarded to the process.
const LineTerminator = "\r"

// Outcome reports what applying a command did on the host.
type Outcome struct {
	Command Command
	// Notices are client-facing lines, already framed with CRLF.
	Notices []string
	// Rewritten is set when a START script had its line endings replaced.
	Rewritten bool
	// Err is the side-effect failure, if any. It never blocks forwarding.
	Err error
}

// Interceptor applies host-side effects for control lines before they are
// forwarded to the process.
type Interceptor struct {
	fs      storage.FS
	timeout time.Duration
	logger  *logging.Logger
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithTimeout bounds how long a side effect may delay forwarding. Zero
// disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(i *Interceptor) {
		i.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(i *Interceptor) {
		if l != nil {
			i.logger = l
		}
	}
}

// New creates an interceptor over fs.
func New(fs storage.FS, opts ...Option) *Interceptor {
	i := &Interceptor{
		fs:     fs,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Process parses line, applies its side effect, passes any notices to
// notify, and then forwards line plus LineTerminator to w. Forwarding
// happens whatever the side effect did; the returned error is only the
// forwarding error.
func (i *Interceptor) Process(ctx context.Context, line string, w io.Writer, notify func(string)) (Outcome, error) {
	out := i.Apply(ctx, Parse(line))
	if notify != nil {
		for _, n := range out.Notices {
			notify(n)
		}
	}

	if _, err := io.WriteString(w, line+LineTerminator); err != nil {
		return out, fmt.Errorf("forward %s: %w", out.Command.Verb, err)
	}
	return out, nil
}

// Apply runs the side effect for cmd. Commands without one return an empty
// outcome.
func (i *Interceptor) Apply(ctx context.Context, cmd Command) Outcome {
	switch cmd.Verb {
	case VerbSpool:
		return i.run(ctx, cmd, i.spool)
	case VerbStart:
		return i.run(ctx, cmd, i.normalize)
	default:
		return Outcome{Command: cmd}
	}
}

// run executes fn detached from ctx cancellation and waits for it until ctx
// ends or the timeout passes. An abandoned side effect keeps running; only
// its result is dropped.
func (i *Interceptor) run(ctx context.Context, cmd Command, fn func(context.Context, Command) Outcome) Outcome {
	wait := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	done := make(chan Outcome, 1)
	go func() {
		done <- fn(context.WithoutCancel(ctx), cmd)
	}()

	select {
	case out := <-done:
		return out
	case <-wait.Done():
		err := fmt.Errorf("%s side effect abandoned: %w", cmd.Verb, wait.Err())
		i.logger.Warn("Side effect did not finish in time",
			zap.String("verb", cmd.Verb.String()),
			zap.String("path", cmd.Path),
			zap.Duration("timeout", i.timeout))
		return i.failed(cmd, err)
	}
}

func (i *Interceptor) spool(ctx context.Context, cmd Command) Outcome {
	out := Outcome{Command: cmd}
	dir := filepath.Dir(cmd.Path)

	exists, err := i.fs.Exists(ctx, dir)
	if err != nil {
		return i.failed(cmd, fmt.Errorf("stat %s: %w", dir, err))
	}
	if !exists {
		if err := i.fs.MkdirAll(ctx, dir); err != nil {
			return i.failed(cmd, fmt.Errorf("create directory %s: %w", dir, err))
		}
		out.Notices = append(out.Notices, DirectoryCreated(dir))
		i.logger.Info("Created spool directory", zap.String("dir", dir))
	}

	exists, err = i.fs.Exists(ctx, cmd.Path)
	if err != nil {
		return i.failed(cmd, fmt.Errorf("stat %s: %w", cmd.Path, err))
	}
	if !exists {
		if err := i.fs.WriteFile(ctx, cmd.Path, nil); err != nil {
			return i.failed(cmd, fmt.Errorf("create spool file %s: %w", cmd.Path, err))
		}
		out.Notices = append(out.Notices, SpoolFileCreated(cmd.Path))
		i.logger.Info("Created spool file", zap.String("path", cmd.Path))
	}

	return out
}

func (i *Interceptor) normalize(ctx context.Context, cmd Command) Outcome {
	out := Outcome{Command: cmd}

	data, err := i.fs.ReadFile(ctx, cmd.Path)
	if err != nil {
		return i.failed(cmd, fmt.Errorf("read script %s: %w", cmd.Path, err))
	}

	normalized, err := NormalizeLineEndings(data)
	if err != nil {
		return i.failed(cmd, fmt.Errorf("normalize %s: %w", cmd.Path, err))
	}
	if len(normalized) == len(data) && string(normalized) == string(data) {
		return out
	}

	if err := i.fs.WriteFile(ctx, cmd.Path, normalized); err != nil {
		return i.failed(cmd, fmt.Errorf("write script %s: %w", cmd.Path, err))
	}
	out.Rewritten = true
	i.logger.Debug("Normalized script line endings", zap.String("path", cmd.Path))
	return out
}

// failed builds the outcome for a side-effect failure. SPOOL failures are
// reported to the client; START failures are only logged.
func (i *Interceptor) failed(cmd Command, err error) Outcome {
	out := Outcome{Command: cmd, Err: err}
	if cmd.Verb == VerbSpool {
		out.Notices = []string{SpoolFailed(cmd.Path)}
	}
	i.logger.Error("Control command side effect failed",
		zap.String("verb", cmd.Verb.String()),
		zap.Error(err))
	return out
}

// DirectoryCreated is the notice sent after a missing spool directory is
// created.
func DirectoryCreated(dir string) string {
	return "\r\nDirectory created: " + dir + "\r\n"
}

// SpoolFileCreated is the notice sent after an empty spool file is created.
func SpoolFileCreated(path string) string {
	return "\r\nSpool file created: " + path + "\r\n"
}

// SpoolFailed is the notice sent when the spool target could not be
// prepared.
func SpoolFailed(path string) string {
	return "\r\nError creating directory for spool file: " + path + "\r\n"
}
