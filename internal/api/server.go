package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"vmark.io/vmark-node/internal/dispatcher"
	"vmark.io/vmark-node/internal/logging"
	"vmark.io/vmark-node/internal/metrics"
	"vmark.io/vmark-node/internal/xerr"
)

// Server is the persistent, authenticated HTTP API: /api/status,
// /api/heartbeat and /api/execute, bound with SO_REUSEADDR the same way
// the registration handshake is. Prometheus metrics are served
// separately, on their own loopback-bound listener, not here.
type Server struct {
	state      *RegisterState
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics
	logger     *logging.Logger

	httpServer *http.Server
}

// NewServer builds the persistent API server. state.Registered and
// state.VmarkID must already be set; callers typically load them from
// register.json before constructing a Server.
func NewServer(state *RegisterState, d *dispatcher.Dispatcher, m *metrics.Metrics, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	s := &Server{state: state, dispatcher: d, metrics: m, logger: logger.WithComponent("api")}

	router := mux.NewRouter()
	router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodPost)
	router.HandleFunc("/api/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	router.HandleFunc("/api/execute", s.handleExecute).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:              netJoinHostPort(state.ListenIP, state.Port),
		Handler:           http.MaxBytesHandler(router, defaultMaxBodyBytes),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	return s
}

// Run starts the server with SO_REUSEADDR and blocks until ctx is
// cancelled or ListenAndServe fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := reuseAddrListen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return xerr.Wrap(err, xerr.KindIO, "failed to bind persistent API listener")
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("persistent API listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-serveErr:
		return err
	}
}

type vmarkIDRequest struct {
	VmarkID string `json:"vmark_id"`
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (vmarkIDRequest, bool) {
	var req vmarkIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return req, false
	}
	if req.VmarkID == "" || req.VmarkID != s.state.VmarkID {
		writeJSONError(w, http.StatusForbidden, "vmark_id mismatch")
		return req, false
	}
	return req, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		s.record("/api/status", http.StatusForbidden)
		return
	}
	s.logger.Info("status request")
	writeJSON(w, http.StatusOK, statusBody())
	s.record("/api/status", http.StatusOK)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		s.record("/api/heartbeat", http.StatusForbidden)
		return
	}
	// Heartbeats are not logged, per the operational contract: they fire
	// far more often than any other request and would otherwise drown
	// out everything else in api.log.
	writeJSON(w, http.StatusOK, statusBody())
	s.record("/api/heartbeat", http.StatusOK)
}

func statusBody() map[string]string {
	return map[string]string{"status": "online", "timestamp": time.Now().UTC().Format(time.RFC3339)}
}

type executeRequest struct {
	VmarkID string `json:"vmark_id"`
	Command string `json:"command"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		s.record("/api/execute", http.StatusBadRequest)
		return
	}
	if req.VmarkID == "" || req.VmarkID != s.state.VmarkID {
		writeJSONError(w, http.StatusForbidden, "vmark_id mismatch")
		s.record("/api/execute", http.StatusForbidden)
		return
	}
	if s.dispatcher == nil {
		writeJSONError(w, http.StatusNotImplemented, "command dispatcher unavailable")
		s.record("/api/execute", http.StatusNotImplemented)
		return
	}

	s.logger.Info("execute request", "command", req.Command)
	out, err := s.dispatcher.Dispatch(req.Command)
	if err != nil {
		status := statusForError(err)
		writeJSONError(w, status, err.Error())
		s.record("/api/execute", status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
	s.record("/api/execute", http.StatusOK)
}

// statusForError maps an xerr.Kind to the HTTP status the execute
// endpoint's contract assigns it: 400/403/404/500/501 are the only
// statuses in play, so Validation and Conflict (both caller-side, both
// without side effects) share 400, and only Fatal (a missing subsystem)
// earns 501 — a Tooling failure is logged and reported but is a server
// condition, not the caller's mistake.
func statusForError(err error) int {
	switch xerr.GetKind(err) {
	case xerr.KindValidation, xerr.KindConflict:
		return http.StatusBadRequest
	case xerr.KindNotFound:
		return http.StatusNotFound
	case xerr.KindFatal:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) record(path string, status int) {
	if s.metrics == nil {
		return
	}
	s.metrics.APIRequests.WithLabelValues(path, http.StatusText(status)).Inc()
}
