package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastql/server/internal/infrastructure/logging"
	"github.com/fastql/server/internal/infrastructure/monitoring"
	"github.com/fastql/server/internal/interceptor"
	"github.com/fastql/server/internal/process"
)

// ErrShuttingDown is returned by Open after Shutdown.
var ErrShuttingDown = errors.New("session manager is shutting down")

// Config describes the process every session runs.
type Config struct {
	// Tool is the display name used in client notices.
	Tool string
	// Spec is passed to the spawner for every session.
	Spec process.Spec
	// SpawnTimeout bounds Spawn. Zero means no bound.
	SpawnTimeout time.Duration
}

// Stats summarizes the manager.
type Stats struct {
	Active int    `json:"active"`
	Total  uint64 `json:"total"`
	Failed uint64 `json:"failed"`
}

// Manager opens sessions and tracks the live ones.
type Manager struct {
	spawner     process.Spawner
	interceptor *interceptor.Interceptor
	cfg         Config
	logger      *logging.Logger
	metrics     *monitoring.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	total    uint64
	failed   uint64
	closed   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a session manager
func NewManager(spawner process.Spawner, ic *interceptor.Interceptor, cfg Config, opts ...Option) *Manager {
	if cfg.Tool == "" {
		cfg.Tool = "SQLcl"
	}
	m := &Manager{
		spawner:     spawner,
		interceptor: ic,
		cfg:         cfg,
		logger:      logging.NewNop(),
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open spawns a process for client and registers the session. On failure
// the client gets one notice and is closed, and the error is a
// *process.SpawnError. The caller must call Run on the returned session.
func (m *Manager) Open(ctx context.Context, client Client) (*Session, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		m.dropClient(client)
		return nil, ErrShuttingDown
	}

	h, err := m.spawn(ctx)
	if err != nil {
		var spawnErr *process.SpawnError
		if !errors.As(err, &spawnErr) {
			spawnErr = &process.SpawnError{Path: m.cfg.Spec.Path, Err: err}
		}

		m.mu.Lock()
		m.failed++
		m.mu.Unlock()
		m.metrics.IncSpawnFailures()
		m.logger.Error("Failed to start process", zap.String("path", spawnErr.Path), zap.Error(spawnErr.Err))

		if err := client.Output([]byte(SpawnFailedNotice(m.cfg.Tool, spawnErr.Err))); err != nil {
			m.logger.Debug("Client write failed", zap.Error(err))
		}
		m.dropClient(client)
		return nil, spawnErr
	}

	id := uuid.NewString()
	s := newSession(id, m.cfg.Tool, h, client, m.interceptor, m.logger.Session(id), m.metrics)
	s.onClose = m.remove

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		h.Kill()
		m.dropClient(client)
		return nil, ErrShuttingDown
	}
	m.sessions[id] = s
	m.total++
	m.mu.Unlock()

	m.metrics.SessionOpened()
	return s, nil
}

// spawn applies SpawnTimeout. A handle that arrives after the deadline is
// killed.
func (m *Manager) spawn(ctx context.Context) (process.Handle, error) {
	if m.cfg.SpawnTimeout <= 0 {
		return m.spawner.Spawn(ctx, m.cfg.Spec)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.SpawnTimeout)
	defer cancel()

	type result struct {
		h   process.Handle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := m.spawner.Spawn(ctx, m.cfg.Spec)
		done <- result{h, err}
	}()

	select {
	case r := <-done:
		return r.h, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.h != nil {
				r.h.Kill()
			}
		}()
		return nil, &process.SpawnError{
			Path: m.cfg.Spec.Path,
			Err:  fmt.Errorf("timed out after %s: %w", m.cfg.SpawnTimeout, ctx.Err()),
		}
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	_, ok := m.sessions[s.id]
	delete(m.sessions, s.id)
	m.mu.Unlock()

	if ok {
		m.metrics.SessionClosed()
	}
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns the live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Stats returns session counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Active: len(m.sessions),
		Total:  m.total,
		Failed: m.failed,
	}
}

// Shutdown refuses new sessions, disconnects every live one and closes its
// client, then waits for their loops to end or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down sessions", zap.Int("count", len(live)))

	for _, s := range live {
		s.Disconnect()
		s.closeClient()
	}

	for _, s := range live {
		if !s.running.Load() {
			m.remove(s)
			continue
		}
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for sessions: %w", ctx.Err())
		}
	}
	return nil
}

// dropClient closes a client that never got a running session.
func (m *Manager) dropClient(client Client) {
	if err := client.Close(); err != nil {
		m.logger.Debug("Client close failed", zap.Error(err))
	}
}
