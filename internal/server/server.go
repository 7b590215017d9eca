// Package server exposes the indexer, search engine, and destination
// manager over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/sessionwatcher/watcher/internal/config"
	"github.com/sessionwatcher/watcher/internal/destinations"
	"github.com/sessionwatcher/watcher/internal/indexer"
	"github.com/sessionwatcher/watcher/internal/ratelimit"
	"github.com/sessionwatcher/watcher/internal/search"
)

const (
	searchPreviewLimit  = 20
	searchResultsLimit  = 10
	defaultPreviewCount = 10
	previewRateLimit    = 60
)

// Server is the HTTP server exposing the search API.
type Server struct {
	mu      gosync.RWMutex
	cfg     config.Config
	idx     *indexer.Indexer
	engine  *search.Engine
	dest    *destinations.Manager
	mux     *http.ServeMux
	httpSrv *http.Server

	apiLimiter     *ratelimit.Limiter // GET /search, GET /projects
	previewLimiter *ratelimit.Limiter // GET /sessions/{id}/preview

	// handlerDelay is injected before each timeout-wrapped handler,
	// used only by tests to guarantee handlers exceed a short
	// timeout. Zero in production.
	handlerDelay time.Duration
}

// New creates a new Server.
func New(cfg config.Config, idx *indexer.Indexer, engine *search.Engine, dest *destinations.Manager, opts ...Option) *Server {
	rateLimit := cfg.SearchRateLimit
	if rateLimit <= 0 {
		rateLimit = 30
	}
	rateWindow := cfg.SearchRateWindow
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}

	s := &Server{
		cfg:            cfg,
		idx:            idx,
		engine:         engine,
		dest:           dest,
		mux:            http.NewServeMux(),
		apiLimiter:     ratelimit.New(rateLimit, rateWindow),
		previewLimiter: ratelimit.New(previewRateLimit, time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

func (s *Server) routes() {
	s.mux.Handle("GET /search", s.withTimeout(s.handleSearch))
	s.mux.Handle("GET /projects", s.withTimeout(s.handleProjects))
	s.mux.Handle("GET /sessions/{id}/preview", s.withTimeout(s.handlePreview))
	s.mux.Handle("POST /index/refresh", s.withTimeout(s.handleRefresh))
	s.mux.Handle("POST /search/watch", s.withTimeout(s.handleSearchWatch))
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	allowedOrigins := buildAllowedOrigins(s.cfg.Host, s.cfg.Port)
	allowedHosts := buildAllowedHosts(s.cfg.Host, s.cfg.Port)
	bindAll := isBindAll(s.cfg.Host)
	return hostCheckMiddleware(allowedHosts, bindAll,
		corsMiddleware(allowedOrigins, bindAll, logMiddleware(s.mux)),
	)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	log.Printf("Starting server at http://%s", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the given
// port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}

// --- handlers ---

type searchResponse struct {
	Query   string                 `json:"query"`
	Filters search.Filters         `json:"filters"`
	Sort    string                 `json:"sort"`
	Total   int                    `json:"total"`
	Offset  int                    `json:"offset"`
	Limit   int                    `json:"limit"`
	Results []*indexer.SessionInfo `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, s.apiLimiter, "api:"+clientIP(r)) {
		return
	}

	q := r.URL.Query()
	params := s.engine.ParseQuery(q.Get("q"))

	if project := q.Get("project"); project != "" {
		params.Filters.Project = project
	}
	if since := q.Get("since"); since != "" {
		if t, ok := search.ParseISODate(since); ok {
			params.Filters.Since = &t
		}
	}
	if until := q.Get("until"); until != "" {
		if t, ok := search.ParseISODate(until); ok {
			params.Filters.Until = &t
		}
	}
	if sortMode := q.Get("sort"); sortMode != "" {
		params.Sort = sortMode
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		params.Offset = offset
	}
	params.Limit = clampInt(parseIntOr(q.Get("limit"), params.Limit), 1, searchResultsLimit)

	results, err := s.engine.Search(params)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "search unavailable")
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Query:   results.Query,
		Filters: results.Filters,
		Sort:    results.Sort,
		Total:   results.Total,
		Offset:  results.Offset,
		Limit:   results.Limit,
		Results: results.Results,
	})
}

type projectsResponse struct {
	Projects        []*indexer.ProjectInfo `json:"projects"`
	TotalProjects   int                    `json:"total_projects"`
	TotalSessions   int                    `json:"total_sessions"`
	IndexAgeSeconds float64                `json:"index_age_seconds"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, s.apiLimiter, "api:"+clientIP(r)) {
		return
	}

	snap, err := s.idx.GetIndex()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "index unavailable")
		return
	}

	var since, until *time.Time
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		if t, ok := search.ParseISODate(v); ok {
			since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, ok := search.ParseISODate(v); ok {
			until = &t
		}
	}

	projects := make([]*indexer.ProjectInfo, 0, len(snap.Projects))
	totalSessions := 0
	for _, p := range snap.Projects {
		if since != nil && (p.LatestModifiedAt == nil || p.LatestModifiedAt.Before(*since)) {
			continue
		}
		if until != nil && (p.LatestModifiedAt == nil || p.LatestModifiedAt.After(*until)) {
			continue
		}
		projects = append(projects, p)
		totalSessions += len(p.SessionIDs)
	}

	writeJSON(w, http.StatusOK, projectsResponse{
		Projects:        projects,
		TotalProjects:   len(projects),
		TotalSessions:   totalSessions,
		IndexAgeSeconds: time.Since(snap.LastRefresh).Seconds(),
	})
}

type previewResponse struct {
	SessionID     string                 `json:"session_id"`
	ProjectName   string                 `json:"project_name"`
	Summary       *string                `json:"summary"`
	TotalEvents   int                    `json:"total_events"`
	PreviewEvents []indexer.PreviewEvent `json:"preview_events"`
	DurationMs    *int                   `json:"duration_ms"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, s.previewLimiter, "api:"+clientIP(r)) {
		return
	}

	session := s.idx.GetSession(r.PathValue("id"))
	if session == nil {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}

	limit := clampInt(parseIntOr(r.URL.Query().Get("limit"), defaultPreviewCount), 1, searchPreviewLimit)
	events, total, err := indexer.ExtractPreviewEvents(session.FilePath, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "preview unavailable")
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{
		SessionID:     session.SessionID,
		ProjectName:   session.ProjectDisplayName,
		Summary:       session.Summary,
		TotalEvents:   total,
		PreviewEvents: events,
		DurationMs:    session.DurationMs(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	_, err := s.idx.Refresh(false)
	if err != nil {
		if retryAfter, ok := ratelimit.IsRateLimited(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":               "rate_limited",
				"retry_after_seconds": retryAfter,
			})
			return
		}
		writeError(w, http.StatusServiceUnavailable, "refresh unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "index refresh completed",
	})
}

type watchRequest struct {
	SessionID   string           `json:"session_id"`
	Destination watchDestination `json:"destination"`
	Preset      string           `json:"preset"`
	ReplayCount *int             `json:"replay_count"`
}

type watchDestination struct {
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
}

type watchResponse struct {
	Attached       bool    `json:"attached"`
	SessionID      string  `json:"session_id"`
	Preset         string  `json:"preset"`
	SessionSummary *string `json:"session_summary"`
}

var validPresets = map[string]bool{"mobile": true, "desktop": true}

func (s *Server) handleSearchWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Preset == "" {
		req.Preset = "desktop"
	}
	if !validPresets[req.Preset] {
		writeError(w, http.StatusBadRequest, "invalid preset")
		return
	}

	kind := destinations.Kind(req.Destination.Kind)
	if kind != destinations.KindSlack && kind != destinations.KindTelegram {
		writeError(w, http.StatusBadRequest, "invalid destination kind")
		return
	}
	if req.Destination.Identifier == "" {
		writeError(w, http.StatusBadRequest, "destination identifier required")
		return
	}
	if !s.botTokenConfigured(kind) {
		writeError(w, http.StatusBadRequest, "bot token not configured for destination")
		return
	}

	session := s.idx.GetSession(req.SessionID)
	if session == nil {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}

	attached, err := s.dest.Attach(r.Context(), req.SessionID, session.FilePath, kind, req.Destination.Identifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, watchResponse{
		Attached:       attached,
		SessionID:      req.SessionID,
		Preset:         req.Preset,
		SessionSummary: session.Summary,
	})
}

func (s *Server) botTokenConfigured(kind destinations.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case destinations.KindSlack:
		return s.cfg.SlackBotToken != ""
	case destinations.KindTelegram:
		return s.cfg.TelegramBotToken != ""
	default:
		return false
	}
}

// allowRate checks limiter for key, writing a 429 response and
// returning false if the caller must wait.
func (s *Server) allowRate(w http.ResponseWriter, limiter *ratelimit.Limiter, key string) bool {
	if err := limiter.Check(key); err != nil {
		retryAfter, _ := ratelimit.IsRateLimited(err)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "rate_limited",
			"retry_after_seconds": retryAfter,
		})
		return false
	}
	return true
}

// clientIP derives the caller's IP for rate-limit keying, preferring
// the first hop of X-Forwarded-For over the transport peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func parseIntOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

// --- host/origin policy (unchanged from the ambient HTTP stack) ---

func buildAllowedHosts(host string, port int) map[string]bool {
	hosts := make(map[string]bool)
	add := func(h string) {
		hosts[net.JoinHostPort(h, strconv.Itoa(port))] = true
		if port == 80 {
			if strings.Contains(h, ":") {
				hosts["["+h+"]"] = true
			} else {
				hosts[h] = true
			}
		}
	}
	add(host)
	switch host {
	case "127.0.0.1":
		add("localhost")
	case "localhost":
		add("127.0.0.1")
	case "0.0.0.0", "::":
		add("127.0.0.1")
		add("localhost")
		add("::1")
	case "::1":
		add("127.0.0.1")
		add("localhost")
	}
	return hosts
}

// hostCheckMiddleware validates the Host header against expected
// values to prevent DNS rebinding attacks. Skipped when bindAll is
// true (0.0.0.0/::), since LAN clients connect via the machine's
// real IP.
func hostCheckMiddleware(allowedHosts map[string]bool, bindAll bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !bindAll && !allowedHosts[r.Host] {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func httpOrigin(host string, port int) []string {
	hp := net.JoinHostPort(host, strconv.Itoa(port))
	origin := "http://" + hp
	if port == 80 {
		bare := host
		if strings.Contains(host, ":") {
			bare = "[" + host + "]"
		}
		return []string{origin, "http://" + bare}
	}
	return []string{origin}
}

func buildAllowedOrigins(host string, port int) map[string]bool {
	origins := make(map[string]bool)
	add := func(h string) {
		for _, o := range httpOrigin(h, port) {
			origins[o] = true
		}
	}
	add(host)
	switch host {
	case "127.0.0.1":
		add("localhost")
	case "localhost":
		add("127.0.0.1")
	case "0.0.0.0", "::":
		add("127.0.0.1")
		add("localhost")
		add("::1")
	case "::1":
		add("127.0.0.1")
		add("localhost")
	}
	return origins
}

func isBindAll(host string) bool {
	return host == "0.0.0.0" || host == "::"
}

func isMutating(method string) bool {
	return method == http.MethodPost ||
		method == http.MethodPut ||
		method == http.MethodPatch ||
		method == http.MethodDelete
}

func corsMiddleware(allowedOrigins map[string]bool, bindAll bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		originAllowed := allowedOrigins[origin] || (bindAll && origin != "")
		safeForReads := origin == "" || originAllowed

		if originAllowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			if !safeForReads {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if origin != "" && !originAllowed && isMutating(r.Method) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
