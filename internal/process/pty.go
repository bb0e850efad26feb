package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

const (
	defaultTerm = "xterm-color"
	defaultCols = 120
	defaultRows = 30

	readBufferSize = 32 * 1024
	eventBuffer    = 64
)

// PTYSpawner starts processes attached to a pseudo-terminal.
type PTYSpawner struct{}

// NewPTYSpawner creates a spawner.
func NewPTYSpawner() *PTYSpawner {
	return &PTYSpawner{}
}

// Spawn starts spec.Path behind a new PTY. The context bounds only the
// start; it does not govern the lifetime of the process.
func (s *PTYSpawner) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	if spec.Path == "" {
		return nil, &SpawnError{Path: spec.Path, Err: errors.New("no executable configured")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}

	term := spec.Term
	if term == "" {
		term = defaultTerm
	}
	cols, rows := spec.Cols, spec.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), "TERM="+term)
	cmd.Env = append(cmd.Env, spec.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}

	h := &ptyHandle{
		cmd:    cmd,
		ptmx:   ptmx,
		events: make(chan Event, eventBuffer),
		killed: make(chan struct{}),
	}
	go h.pump()

	return h, nil
}

type ptyHandle struct {
	cmd  *exec.Cmd
	ptmx *os.File

	events chan Event

	killed    chan struct{}
	killOnce  sync.Once
	closeOnce sync.Once
}

func (h *ptyHandle) Write(p []byte) (int, error) {
	select {
	case <-h.killed:
		return 0, os.ErrClosed
	default:
	}
	return h.ptmx.Write(p)
}

func (h *ptyHandle) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > math.MaxUint16 || rows > math.MaxUint16 {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}
	return pty.Setsize(h.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

func (h *ptyHandle) Kill() error {
	var err error
	h.killOnce.Do(func() {
		close(h.killed)
		if h.cmd.Process != nil {
			if kerr := h.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				err = kerr
			}
		}
		h.closePTY()
	})
	return err
}

func (h *ptyHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *ptyHandle) Events() <-chan Event {
	return h.events
}

// pump relays PTY output until it ends, then reaps the process and reports
// its exit code.
func (h *ptyHandle) pump() {
	defer close(h.events)

	buf := make([]byte, readBufferSize)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !h.emit(Event{Kind: EventData, Data: chunk}) {
				break
			}
		}
		if err != nil {
			if !endOfOutput(err) {
				h.emit(Event{Kind: EventError, Err: fmt.Errorf("read pty: %w", err)})
			}
			break
		}
	}

	waitErr := h.cmd.Wait()
	h.closePTY()
	h.emit(Event{Kind: EventExit, Code: exitCode(h.cmd.ProcessState, waitErr)})
}

// emit delivers an event unless the handle was killed.
func (h *ptyHandle) emit(ev Event) bool {
	select {
	case <-h.killed:
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.killed:
		return false
	}
}

func (h *ptyHandle) closePTY() {
	h.closeOnce.Do(func() {
		h.ptmx.Close()
	})
}

// endOfOutput reports errors that only mean the terminal side has gone.
// Linux returns EIO once the child closes the slave end.
func endOfOutput(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}

func exitCode(state *os.ProcessState, err error) int {
	if state != nil {
		return state.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
