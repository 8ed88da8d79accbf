package daemon

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
	"git.home.luguber.info/inful/buildwatch/internal/config"
	"git.home.luguber.info/inful/buildwatch/internal/diagnostics"
	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
	"git.home.luguber.info/inful/buildwatch/internal/metrics"
	"git.home.luguber.info/inful/buildwatch/internal/version"
)

// HTTPServer exposes the daemon's status surface: snapshot endpoints, the
// manual build trigger, the websocket event stream and the optional
// Prometheus scrape path.
type HTTPServer struct {
	cfg    *config.Config
	daemon *Daemon
	server *http.Server

	mu   sync.Mutex
	addr string
}

// NewHTTPServer creates the status server. Nothing is bound until Start.
func NewHTTPServer(cfg *config.Config, d *Daemon) *HTTPServer {
	return &HTTPServer{cfg: cfg, daemon: d}
}

// Start binds the configured address and serves in the background. Binding
// happens here, not in the serve goroutine, so a taken port fails startup
// instead of logging after the daemon reports running.
func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Addr)
	if err != nil {
		return ferrors.DaemonError("cannot bind status server").
			WithCause(err).
			WithContext("addr", s.cfg.HTTP.Addr).
			Build()
	}

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(ln); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			slog.Error("Status server failed", logfields.Error(err))
		}
	}()

	slog.Info("Status server listening", slog.String("addr", s.Addr()))
	return nil
}

// Addr returns the bound listen address, useful when the configured address
// uses port 0. Empty before Start.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop gracefully shuts the server down, bounded by ctx. Websocket
// connections are hijacked and not waited for; the hub closes them.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/builders", s.handleBuilders)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/api/build/trigger", s.handleTriggerBuild)
	if s.daemon.History() != nil {
		mux.HandleFunc("/api/history", s.handleHistory)
	}
	mux.HandleFunc("/ws", s.daemon.hub.HandleSocket)
	if s.cfg.HTTP.Metrics.Enabled {
		mux.Handle(s.cfg.HTTP.Metrics.Path, metrics.HTTPHandler(s.daemon.promReg))
	}
	return mux
}

type builderStatus struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	LiveAttempts    int    `json:"live_attempts"`
	DiagnosticFiles int    `json:"diagnostic_files"`
	Diagnostics     int    `json:"diagnostics"`
}

type workspaceStatus struct {
	MarkerFile string          `json:"marker_file"`
	Dir        string          `json:"dir"`
	Autostart  string          `json:"autostart,omitempty"`
	Builders   []builderStatus `json:"builders"`
}

type statusResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	InstanceID    string            `json:"instance_id"`
	StartedAt     time.Time         `json:"started_at"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Clients       int               `json:"websocket_clients"`
	Workspaces    []workspaceStatus `json:"workspaces"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.daemon.Status())})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Status:        string(s.daemon.Status()),
		Version:       version.Version,
		InstanceID:    s.daemon.InstanceID(),
		StartedAt:     s.daemon.StartTime(),
		UptimeSeconds: time.Since(s.daemon.StartTime()).Seconds(),
		Clients:       s.daemon.hub.ClientCount(),
		Workspaces:    []workspaceStatus{},
	}

	for _, ws := range s.daemon.Registry().Workspaces() {
		wsStatus := workspaceStatus{
			MarkerFile: ws.MarkerPath(),
			Dir:        ws.Dir(),
			Autostart:  ws.Autostart(),
			Builders:   []builderStatus{},
		}
		for _, o := range ws.Builders() {
			files, total := o.Diagnostics().Counts()
			wsStatus.Builders = append(wsStatus.Builders, builderStatus{
				Name:            o.Name(),
				State:           o.State().String(),
				LiveAttempts:    o.LiveAttempts(),
				DiagnosticFiles: files,
				Diagnostics:     total,
			})
		}
		resp.Workspaces = append(resp.Workspaces, wsStatus)
	}

	writeJSON(w, http.StatusOK, resp)
}

type builderListing struct {
	MarkerFile string                `json:"marker_file"`
	Config     builder.BuilderConfig `json:"config"`
}

func (s *HTTPServer) handleBuilders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	listings := []builderListing{}
	for _, ws := range s.daemon.Registry().Workspaces() {
		for _, o := range ws.Builders() {
			listings = append(listings, builderListing{
				MarkerFile: ws.MarkerPath(),
				Config:     o.Config(),
			})
		}
	}
	writeJSON(w, http.StatusOK, listings)
}

type diagnosticsListing struct {
	Builder string                              `json:"builder"`
	Files   map[string][]diagnostics.Diagnostic `json:"files"`
}

func (s *HTTPServer) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("builder")

	listings := []diagnosticsListing{}
	for _, o := range s.daemon.Registry().Builders() {
		if name != "" && o.Name() != name {
			continue
		}
		listings = append(listings, diagnosticsListing{
			Builder: o.Name(),
			Files:   o.Diagnostics().Snapshot(),
		})
	}
	if name != "" && len(listings) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "builder not found"})
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *HTTPServer) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("builder")

	triggered, err := s.daemon.TriggerBuild(name, "manual")
	if err != nil {
		status := http.StatusConflict
		if ferrors.HasCategory(err, ferrors.CategoryConfig) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": triggered})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	attempts, err := s.daemon.History().Recent(r.Context(), r.URL.Query().Get("builder"), limit)
	if err != nil {
		slog.Error("Cannot read build history", logfields.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history query failed"})
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Cannot encode response", logfields.Error(err))
	}
}
