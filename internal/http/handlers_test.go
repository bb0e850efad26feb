package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastql/server/internal/composer"
	"github.com/fastql/server/internal/infrastructure/monitoring"
	"github.com/fastql/server/internal/session"
	"github.com/fastql/server/internal/storage"
	"github.com/fastql/server/internal/version"
)

type fakeSessions struct {
	stats session.Stats
	list  []session.Info
}

func (f fakeSessions) Stats() session.Stats  { return f.stats }
func (f fakeSessions) List() []session.Info { return f.list }

type fakeVersion struct {
	info version.Info
	err  error
}

func (f fakeVersion) Check(context.Context) (version.Info, error) { return f.info, f.err }

type brokenStore struct{}

func (brokenStore) List(context.Context) ([]string, error) {
	return nil, errors.New("permission denied")
}

func (brokenStore) Read(context.Context, string) (composer.Script, error) {
	return composer.Script{}, errors.New("permission denied")
}

func (brokenStore) Write(context.Context, string, string, string) error {
	return errors.New("disk full")
}

type env struct {
	router *gin.Engine
	dir    string
}

func newEnv(t *testing.T, scripts ScriptStore, checker VersionChecker) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	if scripts == nil {
		scripts = composer.NewStore(dir, storage.NewAFS(dir))
	}
	if checker == nil {
		checker = fakeVersion{info: version.Info{CurrentVersion: "1.0.0", Latest: "1.1.0"}}
	}
	sessions := fakeSessions{
		stats: session.Stats{Active: 1, Total: 3, Failed: 1},
		list:  []session.Info{{ID: "abc", Pid: 99, CreatedAt: time.Unix(0, 0).UTC()}},
	}

	h := NewHandlers(sessions, scripts, checker, monitoring.NewMetrics(), nil)
	r := gin.New()
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/version", h.Version)
	r.GET("/composer", h.ListScripts)
	r.GET("/composer/:filename", h.GetScript)
	r.POST("/composer", h.SaveScript)

	return &env{router: r, dir: dir}
}

func (e *env) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil, nil)

	w := e.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "metrics")

	sessions := body["sessions"].(map[string]any)
	assert.EqualValues(t, 1, sessions["active"])
	assert.EqualValues(t, 3, sessions["total"])

	live := body["live"].([]any)
	require.Len(t, live, 1)
	assert.Equal(t, "abc", live[0].(map[string]any)["id"])
}

func TestRoot(t *testing.T) {
	e := newEnv(t, nil, nil)

	w := e.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"online"`)
}

func TestVersion(t *testing.T) {
	tests := []struct {
		name     string
		checker  fakeVersion
		wantCode int
		wantBody string
	}{
		{
			name:     "ok",
			checker:  fakeVersion{info: version.Info{CurrentVersion: "1.0.0", Latest: "1.1.0"}},
			wantCode: http.StatusOK,
			wantBody: `{"currentVersion":"1.0.0","latest":"1.1.0"}`,
		},
		{
			name:     "registry down",
			checker:  fakeVersion{err: errors.New("fetch latest release: registry returned 503")},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":"fetch latest release: registry returned 503"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil, tt.checker)
			w := e.do(http.MethodGet, "/version", "")
			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestComposerRoundTrip(t *testing.T) {
	e := newEnv(t, nil, nil)

	w := e.do(http.MethodGet, "/composer", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = e.do(http.MethodPost, "/composer", `{"subPath":"","name":"report.sql","content":"SELECT 1 FROM dual;"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodPost, "/composer", `{"subPath":".temp","name":"draft.sql","content":"SELECT 2 FROM dual;"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/composer", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["report"]`, w.Body.String())

	w = e.do(http.MethodGet, "/composer/report.sql", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"filename":"report.sql","content":"SELECT 1 FROM dual;"}`, w.Body.String())
}

func TestComposerErrors(t *testing.T) {
	tests := []struct {
		name     string
		store    ScriptStore
		method   string
		path     string
		body     string
		wantCode int
	}{
		{"missing script", nil, http.MethodGet, "/composer/nope.sql", "", http.StatusNotFound},
		{"escaping name", nil, http.MethodPost, "/composer", `{"subPath":"../..","name":"x.sql","content":""}`, http.StatusBadRequest},
		{"missing name", nil, http.MethodPost, "/composer", `{"subPath":"","content":"x"}`, http.StatusBadRequest},
		{"bad json", nil, http.MethodPost, "/composer", `{`, http.StatusBadRequest},
		{"list failure", brokenStore{}, http.MethodGet, "/composer", "", http.StatusInternalServerError},
		{"read failure", brokenStore{}, http.MethodGet, "/composer/a.sql", "", http.StatusInternalServerError},
		{"write failure", brokenStore{}, http.MethodPost, "/composer", `{"name":"a.sql","content":"x"}`, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.store, nil)
			w := e.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, fmt.Sprintf("body: %s", w.Body.String()))
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}
