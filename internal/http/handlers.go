package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fastql/server/internal/composer"
	"github.com/fastql/server/internal/infrastructure/logging"
	"github.com/fastql/server/internal/infrastructure/monitoring"
	"github.com/fastql/server/internal/session"
	"github.com/fastql/server/internal/version"
)

// SessionLister reports live terminal sessions.
type SessionLister interface {
	Stats() session.Stats
	List() []session.Info
}

// ScriptStore holds composer scripts.
type ScriptStore interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, filename string) (composer.Script, error)
	Write(ctx context.Context, subPath, name, content string) error
}

// VersionChecker reports the running and latest versions.
type VersionChecker interface {
	Check(ctx context.Context) (version.Info, error)
}

// SaveScriptRequest is the body of POST /composer.
type SaveScriptRequest struct {
	SubPath string `json:"subPath"`
	Name    string `json:"name" binding:"required"`
	Content string `json:"content"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions SessionLister
	scripts  ScriptStore
	version  VersionChecker
	metrics  *monitoring.Metrics
	logger   *logging.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(sessions SessionLister, scripts ScriptStore, checker VersionChecker, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		sessions: sessions,
		scripts:  scripts,
		version:  checker,
		metrics:  metrics,
		logger:   logger,
	}
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "FaStQL",
		"version": version.Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":   "healthy",
		"sessions": h.sessions.Stats(),
		"live":     h.sessions.List(),
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// Version returns the running and newest published versions.
func (h *Handlers) Version(c *gin.Context) {
	info, err := h.version.Check(c.Request.Context())
	if err != nil {
		h.logger.Warn("Version check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// ListScripts returns the composer script names without their suffix.
func (h *Handlers) ListScripts(c *gin.Context) {
	names, err := h.scripts.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list scripts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, names)
}

// GetScript returns one script.
func (h *Handlers) GetScript(c *gin.Context) {
	filename := c.Param("filename")

	script, err := h.scripts.Read(c.Request.Context(), filename)
	if err != nil {
		h.logger.Error("Failed to read script", zap.String("filename", filename), zap.Error(err))
		c.JSON(scriptErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, script)
}

// SaveScript writes a script below the composer directory.
func (h *Handlers) SaveScript(c *gin.Context) {
	var req SaveScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.scripts.Write(c.Request.Context(), req.SubPath, req.Name, req.Content); err != nil {
		h.logger.Error("Failed to save script",
			zap.String("sub_path", req.SubPath),
			zap.String("name", req.Name),
			zap.Error(err))
		c.JSON(scriptErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func scriptErrorStatus(err error) int {
	switch {
	case errors.Is(err, composer.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, composer.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
