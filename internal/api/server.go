// Package api serves the session controller over HTTP and pushes live
// analysis to JSON-RPC websocket clients.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mikeyg42/bodytrack/internal/broadcast"
	"github.com/mikeyg42/bodytrack/internal/config"
	"github.com/mikeyg42/bodytrack/internal/export"
	"github.com/mikeyg42/bodytrack/internal/history"
	"github.com/mikeyg42/bodytrack/internal/session"
	"github.com/mikeyg42/bodytrack/internal/storage"
)

// Sessions is the controller surface the API drives. *session.Controller
// satisfies it.
type Sessions interface {
	Start(ctx context.Context) (session.Snapshot, error)
	Stop(ctx context.Context) (*export.Result, error)
	SetVisible(ctx context.Context, visible bool) (session.Snapshot, error)
	Snapshot() session.Snapshot
	History() *history.Recorder
	Broadcaster() *broadcast.Broadcaster
	Exporter() *export.Exporter
}

// StopResponse is the reply to a stop request. Warnings lists export steps
// that failed without preventing the result.
type StopResponse struct {
	Result   *export.Result `json:"result"`
	Warnings []string       `json:"warnings,omitempty"`
}

// HealthCheck probes a dependency for /api/health.
type HealthCheck func(ctx context.Context) error

// Server is an HTTP API server
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	sessions   Sessions
	limiter    *RateLimiter
	upgrader   websocket.Upgrader
	origins    map[string]bool
	anyOrigin  bool
	opTimeout  time.Duration
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	connMu sync.Mutex
	conns  map[*jsonrpc2.Conn]struct{}

	healthMu sync.RWMutex
	checks   map[string]HealthCheck
	stats    map[string]func() interface{}
}

// NewServer creates a new API server
func NewServer(cfg config.APIConfig, sessions Sessions) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		mux:       http.NewServeMux(),
		sessions:  sessions,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		origins:   make(map[string]bool),
		opTimeout: 2 * time.Minute,
		logger:    zap.L().Named("api"),
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[*jsonrpc2.Conn]struct{}),
		checks:    make(map[string]HealthCheck),
		stats:     make(map[string]func() interface{}),
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			s.anyOrigin = true
		}
		s.origins[o] = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      s.opTimeout + 10*time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/session", s.handleSnapshot)
	s.mux.HandleFunc("POST /api/session/start", s.handleStart)
	s.mux.HandleFunc("POST /api/session/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/session/pause", s.handleVisibility(false))
	s.mux.HandleFunc("POST /api/session/resume", s.handleVisibility(true))
	s.mux.HandleFunc("GET /api/analysis", s.handleAnalysis)
	s.mux.HandleFunc("GET /api/export/{file}", s.handleExportCSV)
	s.mux.HandleFunc("GET /api/artifacts", s.handleListArtifacts)
	s.mux.HandleFunc("GET /api/artifacts/{name}", s.handleArtifact)
	s.mux.HandleFunc("GET /api/sessions/{id}/artifacts", s.handleSessionArtifacts)
	s.mux.HandleFunc("GET /api/sessions/{id}/files/{file...}", s.handleSessionFile)
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// Handler returns the routed handler with CORS and rate limiting applied.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.limiter.Middleware(s.mux))
}

func (s *Server) originAllowed(origin string) bool {
	return origin == "" || s.anyOrigin || s.origins[origin]
}

// corsMiddleware adds CORS headers for allowed origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AddHealthCheck registers a dependency probed by /api/health. Any failing
// check reports the service as degraded.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.checks[name] = check
}

// AddStats registers counters reported by /api/health.
func (s *Server) AddStats(name string, fn func() interface{}) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.stats[name] = fn
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.healthMu.RLock()
	defer s.healthMu.RUnlock()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]interface{}{
		"status":    status,
		"state":     s.sessions.Snapshot().State,
		"broadcast": s.sessions.Broadcaster().Stats(),
		"clients":   s.clientCount(),
		"checks":    checks,
	}
	for name, fn := range s.stats {
		body[name] = fn()
	}
	writeJSON(w, code, body)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Start(r.Context())
	if err != nil {
		s.logger.Warn("Session start failed", zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	resp, err := s.stop(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// stop runs the export to completion even if the caller goes away.
func (s *Server) stop(ctx context.Context) (StopResponse, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
	defer cancel()

	res, err := s.sessions.Stop(ctx)
	if res == nil {
		if err != nil {
			return StopResponse{}, err
		}
		return StopResponse{}, fmt.Errorf("%w: no session has run", errNoSession)
	}
	resp := StopResponse{Result: res}
	for _, e := range multierr.Errors(err) {
		resp.Warnings = append(resp.Warnings, e.Error())
	}
	return resp, nil
}

func (s *Server) handleVisibility(visible bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.sessions.SetVisible(r.Context(), visible)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Broadcaster().Current())
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(r.PathValue("file"), ".csv")
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	schema, err := export.ParseSchema(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	sessionID, data, err := s.csv(r.Context(), schema)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, export.ArtifactName(sessionID, schema.FileName())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// csv builds the table from the running session, or reads the one written
// by the last export.
func (s *Server) csv(ctx context.Context, schema export.Schema) (string, []byte, error) {
	snap := s.sessions.Snapshot()
	if rec := s.sessions.History(); rec != nil {
		data, err := export.Build(schema, rec)
		return snap.SessionID, data, err
	}
	if snap.LastExport == nil {
		return "", nil, errNoSession
	}
	sid := snap.LastExport.SessionID
	rc, _, err := s.sessions.Exporter().OpenArtifact(ctx, sid, schema.FileName())
	if err != nil {
		if errors.Is(err, export.ErrArtifactNotFound) {
			return "", nil, errNoSession
		}
		return "", nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	return sid, data, err
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	local := s.sessions.Exporter().Local()
	type entry struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	names := local.Names()
	out := make([]entry, 0, len(names))
	for _, n := range names {
		out = append(out, entry{Name: n, URL: local.URL(n)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	a, ok := s.sessions.Exporter().Local().Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	if a.ContentType != "" {
		w.Header().Set("Content-Type", a.ContentType)
	}
	http.ServeContent(w, r, a.Name, a.Created, bytes.NewReader(a.Data))
}

// sessionArtifacts is the reply to an artifact listing. Warnings names
// sources that could not be read.
type sessionArtifacts struct {
	SessionID string              `json:"sessionId"`
	Artifacts []*storage.Artifact `json:"artifacts"`
	Warnings  []string            `json:"warnings,omitempty"`
}

func (s *Server) handleSessionArtifacts(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("id")
	list, err := s.sessions.Exporter().Artifacts(r.Context(), sid)
	if errors.Is(err, export.ErrArtifactNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if len(list) == 0 {
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
		} else {
			writeError(w, http.StatusNotFound, errNotFound)
		}
		return
	}

	resp := sessionArtifacts{SessionID: sid, Artifacts: list}
	for _, e := range multierr.Errors(err) {
		resp.Warnings = append(resp.Warnings, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionFile(w http.ResponseWriter, r *http.Request) {
	sid, file := r.PathValue("id"), r.PathValue("file")
	rc, contentType, err := s.sessions.Exporter().OpenArtifact(r.Context(), sid, file)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, export.ArtifactName(sid, path.Base(file))))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Debug("Artifact download interrupted", zap.String("file", file), zap.Error(err))
	}
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// StartInBackground starts the server in a goroutine
func (s *Server) StartInBackground() {
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
}

// Shutdown disconnects websocket clients and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	s.cancel()
	s.limiter.Close()

	s.connMu.Lock()
	conns := make([]*jsonrpc2.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}

	return s.httpServer.Shutdown(ctx)
}
