package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"streamkeeper/internal/config"
	"streamkeeper/internal/logging"
	"streamkeeper/internal/metrics"
	"streamkeeper/internal/orchestrator"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	metrics *metrics.Metrics

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, m *metrics.Metrics, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
		metrics: m,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.RequestMiddleware(s.metrics))

	r.Get("/healthz", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/streams/{name}", s.handleStream)
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics.Handler(nil))
		}
	})
	return r
}

// start listens on the configured address. An empty bind disables the API.
func (s *apiServer) start() error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "api_server_failed"),
				logging.String(logging.FieldErrorHint, "restart the daemon to bring the HTTP API back"),
			)
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.listener = nil
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type healthResponse struct {
	Status       string `json:"status"`
	RelayRunning bool   `json:"relay_running"`
	Streams      int    `json:"streams"`
	Running      int    `json:"running"`
}

// handleHealth answers 200 when the daemon runs and the relay is up, 503
// otherwise.
func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	resp := healthResponse{Status: "unavailable"}
	code := http.StatusServiceUnavailable
	if status.Snapshot != nil {
		resp.RelayRunning = status.Snapshot.Relay.Running
		resp.Streams = len(status.Snapshot.Streams)
		resp.Running = status.Snapshot.StateCounts()["running"]
		if status.Running && resp.RelayRunning {
			resp.Status = "ok"
			code = http.StatusOK
		}
	}
	s.writeJSON(w, code, resp)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status := s.daemon.Status(r.Context())
	if status.Snapshot == nil {
		s.writeError(w, http.StatusServiceUnavailable, "daemon not running")
		return
	}
	for _, st := range status.Snapshot.Streams {
		if st.Name == name {
			s.writeJSON(w, http.StatusOK, streamResponse{Stream: st, Events: streamEvents(status.Snapshot, name)})
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "stream "+strconv.Quote(name)+" not found")
}

type streamResponse struct {
	Stream orchestrator.StreamStatus  `json:"stream"`
	Events []orchestrator.EventRecord `json:"events,omitempty"`
}

func streamEvents(snap *orchestrator.Snapshot, name string) []orchestrator.EventRecord {
	var out []orchestrator.EventRecord
	for _, ev := range snap.RecentEvents {
		if ev.Stream == name {
			out = append(out, ev)
		}
	}
	return out
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
