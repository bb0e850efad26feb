package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fastql/server/internal/infrastructure/logging"
	"github.com/fastql/server/internal/infrastructure/monitoring"
	"github.com/fastql/server/internal/session"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionOpener starts a session for a new client.
type SessionOpener interface {
	Open(ctx context.Context, client session.Client) (*session.Session, error)
}

// Handler manages WebSocket connections
type Handler struct {
	sessions     SessionOpener
	logger       *logging.Logger
	metrics      *monitoring.Metrics
	pingInterval time.Duration

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithPingInterval sets how often idle sockets are pinged. A failed ping
// ends the session.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions SessionOpener, opts ...Option) *Handler {
	h := &Handler{
		sessions:     sessions,
		logger:       logging.NewNop(),
		pingInterval: pingPeriod,
		conns:        make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleConnection upgrades the request and runs one terminal session for
// the lifetime of the socket.
func (h *Handler) HandleConnection(c *gin.Context) {
	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := newConn(wsConn, h.metrics)
	h.track(cl)
	defer func() {
		h.untrack(cl)
		cl.Close()
	}()

	remote := c.ClientIP()
	h.logger.Info("Client connected", zap.String("remote", remote))

	s, err := h.sessions.Open(c.Request.Context(), cl)
	if err != nil {
		h.logger.Warn("Session not started", zap.String("remote", remote), zap.Error(err))
		return
	}
	log := h.logger.Session(s.ID())

	if err := cl.writeEvent(serverMessage{Event: EventSession, ID: s.ID()}); err != nil {
		log.Debug("Failed to send session id", zap.Error(err))
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.Run(context.Background())
	}()

	stopPing := make(chan struct{})
	go h.keepalive(cl, s, stopPing, runDone)

	h.readLoop(cl, s, log)

	close(stopPing)
	s.Disconnect()
	<-runDone
	log.Info("Client disconnected", zap.String("remote", remote))
}

// readLoop feeds client frames to the session until the socket fails or the
// session stops accepting events.
func (h *Handler) readLoop(cl *conn, s *session.Session, log *logging.Logger) {
	ws := cl.ws
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		var sendErr error
		switch messageType {
		case websocket.BinaryMessage:
			h.metrics.RecordWSMessage("in", "binary")
			sendErr = s.Input(data)
		case websocket.TextMessage:
			h.metrics.RecordWSMessage("in", "text")
			ev, err := decodeClientEvent(data)
			if err != nil {
				log.Warn("Ignoring client message", zap.Error(err))
				continue
			}
			sendErr = s.Send(ev)
		}

		if errors.Is(sendErr, session.ErrSessionClosed) {
			return
		}
	}
}

// keepalive pings the client. A socket that can no longer be written is
// treated as a disconnect even while readLoop is stuck queueing an event.
func (h *Handler) keepalive(cl *conn, s *session.Session, stop, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := cl.ping(); err != nil {
				h.logger.Session(s.ID()).Debug("Ping failed, dropping session", zap.Error(err))
				s.Disconnect()
				return
			}
		case <-stop:
			return
		case <-done:
			return
		}
	}
}

func (h *Handler) track(c *conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncWSConnections()
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		h.metrics.DecWSConnections()
	}
}

// Connections returns the number of open sockets.
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every open socket with a going-away frame so the server
// can stop.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if len(conns) > 0 {
		h.logger.Info("Closing WebSocket connections", zap.Int("count", len(conns)))
	}
	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}
