package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fastql/server/internal/infrastructure/logging"
	"github.com/fastql/server/internal/infrastructure/monitoring"
	"github.com/fastql/server/internal/interceptor"
	"github.com/fastql/server/internal/process"
)

var (
	// ErrSessionClosed is returned when sending to a session whose loop has
	// ended or that was disconnected.
	ErrSessionClosed = errors.New("session closed")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("session already running")
)

const clientEventBuffer = 256

// Client is the connection a session writes to. Close must be safe to call
// more than once.
type Client interface {
	Output(p []byte) error
	Close() error
}

// EventKind identifies a client event.
type EventKind int

const (
	EventInput EventKind = iota
	EventControl
	EventResize
)

// ClientEvent is one message from the client. Input and control lines
// travel on the same channel so their relative order is kept.
type ClientEvent struct {
	Kind EventKind
	Data []byte
	Line string
	Cols int
	Rows int
}

// Info describes a live session.
type Info struct {
	ID        string    `json:"id"`
	Pid       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
}

// Session binds one client to one process.
type Session struct {
	id      string
	tool    string
	created time.Time

	handle      process.Handle
	client      Client
	interceptor *interceptor.Interceptor
	logger      *logging.Logger
	metrics     *monitoring.Metrics

	events   chan ClientEvent
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
	running  atomic.Bool
	onClose  func(*Session)

	closeOnce sync.Once
}

func newSession(id, tool string, h process.Handle, client Client, ic *interceptor.Interceptor, logger *logging.Logger, metrics *monitoring.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:          id,
		tool:        tool,
		created:     time.Now(),
		handle:      h,
		client:      client,
		interceptor: ic,
		logger:      logger,
		metrics:     metrics,
		events:      make(chan ClientEvent, clientEventBuffer),
		ctx:         ctx,
		cancel:      cancel,
		finished:    make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Info returns a description of the session.
func (s *Session) Info() Info {
	return Info{ID: s.id, Pid: s.handle.Pid(), CreatedAt: s.created}
}

// Done is closed once the dispatch loop has ended.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// Input queues raw terminal bytes for the process.
func (s *Session) Input(p []byte) error {
	return s.send(ClientEvent{Kind: EventInput, Data: p})
}

// Control queues a control line.
func (s *Session) Control(line string) error {
	return s.send(ClientEvent{Kind: EventControl, Line: line})
}

// Resize queues a terminal window change.
func (s *Session) Resize(cols, rows int) error {
	return s.send(ClientEvent{Kind: EventResize, Cols: cols, Rows: rows})
}

// Send queues an arbitrary client event.
func (s *Session) Send(ev ClientEvent) error {
	return s.send(ev)
}

func (s *Session) send(ev ClientEvent) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-s.finished:
		return ErrSessionClosed
	}
}

// Disconnect reports that the client has gone. The process is killed and
// the loop ends without writing anything further to the client.
func (s *Session) Disconnect() {
	s.cancel()
	if err := s.handle.Kill(); err != nil {
		s.logger.Warn("Failed to kill process", zap.Error(err))
	}
}

// Run is the dispatch loop. It returns when the client disconnects, the
// process exits, or ctx is cancelled. The process is dead when Run returns.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	defer s.finish()

	s.logger.Info("Session started", zap.Int("pid", s.handle.Pid()))

	procEvents := s.handle.Events()
	for {
		// A disconnect wins over anything else that is ready.
		if s.ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-s.ctx.Done():
			return ctx.Err()

		case ev := <-s.events:
			s.handleClient(ev)

		case ev, ok := <-procEvents:
			if !ok {
				s.logger.Warn("Process event stream ended without exit")
				s.closeClient()
				return nil
			}
			if done := s.handleProcess(ev); done {
				return nil
			}
		}
	}
}

func (s *Session) handleClient(ev ClientEvent) {
	switch ev.Kind {
	case EventInput:
		if _, err := s.forward(ev.Data); err != nil {
			s.processError(err)
		}
	case EventControl:
		s.control(ev.Line)
	case EventResize:
		if err := s.handle.Resize(ev.Cols, ev.Rows); err != nil {
			s.logger.Warn("Resize failed", zap.Int("cols", ev.Cols), zap.Int("rows", ev.Rows), zap.Error(err))
		}
	}
}

func (s *Session) control(line string) {
	timer := monitoring.NewTimer(s.metrics)
	out, err := s.interceptor.Process(s.ctx, line, writerFunc(s.forward), func(notice string) {
		s.emit([]byte(notice))
	})
	timer.Stop(out.Command.Verb.String(), out.Err != nil)

	s.logger.Debug("Control command",
		zap.String("verb", out.Command.Verb.String()),
		zap.String("arg", out.Command.Arg),
		zap.Bool("side_effect_failed", out.Err != nil))

	if err != nil {
		s.processError(err)
	}
}

// handleProcess reports whether the event ended the session.
func (s *Session) handleProcess(ev process.Event) bool {
	switch ev.Kind {
	case process.EventData:
		s.emit(ev.Data)
		s.metrics.AddRelayBytes("out", len(ev.Data))
	case process.EventError:
		s.processError(ev.Err)
	case process.EventExit:
		s.logger.Info("Process exited", zap.Int("code", ev.Code))
		s.metrics.IncProcessExits()
		s.emit([]byte(ExitNotice(s.tool, ev.Code)))
		s.closeClient()
		return true
	}
	return false
}

func (s *Session) processError(err error) {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Error("Process error", zap.Error(err))
	s.metrics.IncProcessErrors()
	s.emit([]byte(ErrorNotice(s.tool, err)))
}

func (s *Session) forward(p []byte) (int, error) {
	n, err := s.handle.Write(p)
	s.metrics.AddRelayBytes("in", n)
	return n, err
}

// emit writes to the client unless the client has gone.
func (s *Session) emit(p []byte) {
	if s.ctx.Err() != nil {
		return
	}
	if err := s.client.Output(p); err != nil {
		s.logger.Debug("Client write failed", zap.Error(err))
	}
}

func (s *Session) closeClient() {
	s.closeOnce.Do(func() {
		if err := s.client.Close(); err != nil {
			s.logger.Debug("Client close failed", zap.Error(err))
		}
	})
}

func (s *Session) finish() {
	s.cancel()
	if err := s.handle.Kill(); err != nil {
		s.logger.Debug("Kill after loop end", zap.Error(err))
	}
	close(s.finished)
	if s.onClose != nil {
		s.onClose(s)
	}
	s.logger.Info("Session ended")
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}

// SpawnFailedNotice is sent when the process could not be started.
func SpawnFailedNotice(tool string, err error) string {
	return fmt.Sprintf("Error starting %s: %v\r\nDisconnecting...", tool, err)
}

// ExitNotice is sent once when the process exits on its own.
func ExitNotice(tool string, code int) string {
	return fmt.Sprintf("\r\n%s exited (code %d)\r\n", tool, code)
}

// ErrorNotice is sent for process errors; the session stays up.
func ErrorNotice(tool string, err error) string {
	return fmt.Sprintf("\r\n%s error: %v\r\n", tool, err)
}
