package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sessionwatcher/watcher/internal/config"
	"github.com/sessionwatcher/watcher/internal/destinations"
	"github.com/sessionwatcher/watcher/internal/indexer"
	"github.com/sessionwatcher/watcher/internal/pathcodec"
	"github.com/sessionwatcher/watcher/internal/search"
	"github.com/sessionwatcher/watcher/internal/server"
	"github.com/sessionwatcher/watcher/internal/testjsonl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv     *server.Server
	handler http.Handler
	idx     *indexer.Indexer
	root    string
}

func setup(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	root := t.TempDir()
	dataDir := t.TempDir()

	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Roots = []string{root}
	cfg.DataDir = dataDir
	cfg.WriteTimeout = 30 * time.Second
	cfg.SearchRateLimit = 30
	cfg.SearchRateWindow = time.Minute
	for _, m := range mutate {
		m(&cfg)
	}

	idx := indexer.New(cfg.Roots, indexer.IndexConfig{
		Persist:          false,
		IncludeSubagents: cfg.IncludeSubagents,
		MaxIndexAgeHours: cfg.MaxIndexAgeHours,
		SessionExtension: ".jsonl",
	}, cfg.StateDir(), nil)
	engine := search.New(idx)

	store, err := config.NewDestinationStore(cfg.DestinationsPath())
	require.NoError(t, err)
	dest := destinations.New(store, noopSessionStart)

	srv := server.New(cfg, idx, engine, dest)

	return &testEnv{
		srv:     srv,
		handler: srv.Handler(),
		idx:     idx,
		root:    root,
	}
}

func noopSessionStart(ctx context.Context, sessionID, path string) error {
	return nil
}

func (te *testEnv) writeSession(t *testing.T, projectPath, sessionID string, lines ...string) string {
	t.Helper()
	encoded := pathcodec.Encode(projectPath)
	dir := filepath.Join(te.root, encoded)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, sessionID+".jsonl")
	content := testjsonl.Session(lines...)
	require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0o644))
	return path
}

func (te *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	req.Host = "127.0.0.1:8080"
	w := httptest.NewRecorder()
	te.handler.ServeHTTP(w, req)
	return w
}

func (te *testEnv) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, bytes.NewReader([]byte(body)))
	req.Host = "127.0.0.1:8080"
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	te.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

type searchResponse struct {
	Total   int                    `json:"total"`
	Results []*indexer.SessionInfo `json:"results"`
}

type projectsResponse struct {
	Projects      []*indexer.ProjectInfo `json:"projects"`
	TotalProjects int                    `json:"total_projects"`
	TotalSessions int                    `json:"total_sessions"`
}

type previewResponse struct {
	SessionID     string                 `json:"session_id"`
	TotalEvents   int                    `json:"total_events"`
	PreviewEvents []indexer.PreviewEvent `json:"preview_events"`
}

type errorResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func TestHandleSearchReturnsMatchingSessions(t *testing.T) {
	te := setup(t)
	te.writeSession(t, "/Users/alice/work/app", "sess1",
		testjsonl.UserMsg("fix the login bug", "2026-01-01T00:00:00Z"),
		testjsonl.SummaryRecord("fixing login"),
	)

	w := te.get(t, "/search?q=login")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[searchResponse](t, w)
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "sess1", resp.Results[0].SessionID)
}

func TestHandleSearchEmptyIndexReturnsNoResults(t *testing.T) {
	te := setup(t)

	w := te.get(t, "/search?q=anything")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[searchResponse](t, w)
	assert.Equal(t, 0, resp.Total)
}

func TestHandleSearchClampsLimit(t *testing.T) {
	te := setup(t)
	for i := 0; i < 15; i++ {
		te.writeSession(t, "/Users/alice/work/app", fmt.Sprintf("sess%d", i),
			testjsonl.UserMsg("hello", "2026-01-01T00:00:00Z"),
		)
	}

	w := te.get(t, "/search?limit=500")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[searchResponse](t, w)
	assert.LessOrEqual(t, len(resp.Results), 10)
}

func TestHandleSearchRateLimited(t *testing.T) {
	te := setup(t, func(c *config.Config) {
		c.SearchRateLimit = 1
		c.SearchRateWindow = time.Minute
	})

	w := te.get(t, "/search?q=a")
	assert.Equal(t, http.StatusOK, w.Code)

	w = te.get(t, "/search?q=a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decode[errorResponse](t, w)
	assert.Equal(t, "rate_limited", resp.Error)
	assert.Greater(t, resp.RetryAfterSeconds, 0)
}

func TestHandleProjectsListsDistinctProjects(t *testing.T) {
	te := setup(t)
	te.writeSession(t, "/Users/alice/work/app", "sess1",
		testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z"),
	)
	te.writeSession(t, "/Users/alice/work/other", "sess2",
		testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z"),
	)

	w := te.get(t, "/projects")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[projectsResponse](t, w)
	assert.Equal(t, 2, resp.TotalProjects)
	assert.Equal(t, 2, resp.TotalSessions)
}

func TestHandlePreviewReturnsEvents(t *testing.T) {
	te := setup(t)
	te.writeSession(t, "/Users/alice/work/app", "sess1",
		testjsonl.UserMsg("hello there", "2026-01-01T00:00:00Z"),
		testjsonl.AssistantMsg("hi, how can I help?", "2026-01-01T00:00:01Z"),
	)
	// Warm the index before querying preview.
	_, err := te.idx.GetIndex()
	require.NoError(t, err)

	w := te.get(t, "/sessions/sess1/preview")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[previewResponse](t, w)
	assert.Equal(t, "sess1", resp.SessionID)
	assert.Equal(t, 2, resp.TotalEvents)
	assert.Len(t, resp.PreviewEvents, 2)
}

func TestHandlePreviewUnknownSession(t *testing.T) {
	te := setup(t)

	w := te.get(t, "/sessions/nonexistent/preview")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleIndexRefreshSucceeds(t *testing.T) {
	te := setup(t)

	w := te.post(t, "/index/refresh", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestHandleIndexRefreshRateLimited(t *testing.T) {
	te := setup(t)

	w := te.post(t, "/index/refresh", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = te.post(t, "/index/refresh", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestHandleSearchWatchRequiresBotToken(t *testing.T) {
	te := setup(t)
	te.writeSession(t, "/Users/alice/work/app", "sess1",
		testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z"),
	)
	_, err := te.idx.GetIndex()
	require.NoError(t, err)

	body := `{"session_id":"sess1","destination":{"kind":"slack","identifier":"C123"},"preset":"desktop"}`
	w := te.post(t, "/search/watch", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSearchWatchAttachesDestination(t *testing.T) {
	te := setup(t, func(c *config.Config) {
		c.SlackBotToken = "xoxb-test"
	})
	te.writeSession(t, "/Users/alice/work/app", "sess1",
		testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z"),
	)
	_, err := te.idx.GetIndex()
	require.NoError(t, err)

	body := `{"session_id":"sess1","destination":{"kind":"slack","identifier":"C123"},"preset":"mobile"}`
	w := te.post(t, "/search/watch", body)
	assert.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Attached  bool   `json:"attached"`
		SessionID string `json:"session_id"`
		Preset    string `json:"preset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Attached)
	assert.Equal(t, "sess1", resp.SessionID)
	assert.Equal(t, "mobile", resp.Preset)
}

func TestHandleSearchWatchUnknownSession(t *testing.T) {
	te := setup(t, func(c *config.Config) {
		c.SlackBotToken = "xoxb-test"
	})

	body := `{"session_id":"nonexistent","destination":{"kind":"slack","identifier":"C123"},"preset":"desktop"}`
	w := te.post(t, "/search/watch", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSearchWatchInvalidPreset(t *testing.T) {
	te := setup(t, func(c *config.Config) {
		c.SlackBotToken = "xoxb-test"
	})
	te.writeSession(t, "/Users/alice/work/app", "sess1",
		testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z"),
	)
	_, err := te.idx.GetIndex()
	require.NoError(t, err)

	body := `{"session_id":"sess1","destination":{"kind":"slack","identifier":"C123"},"preset":"tablet"}`
	w := te.post(t, "/search/watch", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSearchWatchInvalidKind(t *testing.T) {
	te := setup(t)
	te.writeSession(t, "/Users/alice/work/app", "sess1",
		testjsonl.UserMsg("hi", "2026-01-01T00:00:00Z"),
	)
	_, err := te.idx.GetIndex()
	require.NoError(t, err)

	body := `{"session_id":"sess1","destination":{"kind":"discord","identifier":"C123"},"preset":"desktop"}`
	w := te.post(t, "/search/watch", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	te := setup(t)

	req := httptest.NewRequest("OPTIONS", "/search", nil)
	req.Host = "127.0.0.1:8080"
	req.Header.Set("Origin", "http://127.0.0.1:8080")
	w := httptest.NewRecorder()
	te.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestFindAvailablePortSkipsOccupied(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	occupied := ln.Addr().(*net.TCPAddr).Port
	got := server.FindAvailablePort("127.0.0.1", occupied)
	assert.NotEqual(t, occupied, got)

	ln2, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", got))
	require.NoError(t, err)
	ln2.Close()
}
