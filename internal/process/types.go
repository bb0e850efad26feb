package process

import (
	"context"
	"fmt"
)

// EventKind identifies a process notification.
type EventKind int

const (
	EventData EventKind = iota
	EventExit
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventExit:
		return "exit"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification from a running process. Data events carry
// output bytes; Exit carries the exit code; Error carries a runtime failure
// that does not end the process.
type Event struct {
	Kind EventKind
	Data []byte
	Code int
	Err  error
}

// Spec describes the process to start.
type Spec struct {
	Path string
	Args []string
	Dir  string
	Env  []string // appended to the inherited environment
	Term string
	Cols int
	Rows int
}

// Handle is a running pseudo-terminal process.
//
// Events delivers notifications in order. Every Data event read before the
// process ended precedes the single Exit event, after which the channel is
// closed. Once Kill has been called no further events are delivered.
type Handle interface {
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Kill() error
	Pid() int
	Events() <-chan Event
}

// Spawner starts processes.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Handle, error)
}

// SpawnError reports a process that could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
