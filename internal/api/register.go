// Package api implements the registration handshake and the persistent
// authenticated HTTP API, routed with github.com/gorilla/mux and
// hardened the way the teacher's HTTP layer is (explicit timeouts, a
// thin logging middleware, JSON helpers).
package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"vmark.io/vmark-node/internal/logging"
	"vmark.io/vmark-node/internal/xerr"
)

// RegisterState is the node's registration record, persisted to
// register.json.
type RegisterState struct {
	AuthToken  string `json:"auth_token"`
	NodeID     string `json:"node_id"`
	VmarkID    string `json:"vmark_id"`
	ListenIP   string `json:"listen_ip"`
	Port       int    `json:"port"`
	Registered bool   `json:"registered"`
}

// NewNodeID derives a node id from the local hostname, falling back to a
// uuid if the hostname cannot be read.
func NewNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = uuid.NewString()
	}
	return "vmark-node-" + host
}

// NewAuthToken returns a URL-safe random 32-byte token.
func NewAuthToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewPIN returns a 4-digit numeric PIN.
func NewPIN() (string, error) {
	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	n := (int(buf[0])<<8 | int(buf[1])) % 10000
	return fmt.Sprintf("%04d", n), nil
}

// LoadRegisterState reads register.json from path. A missing file yields
// an unregistered, zero-value state rather than an error.
func LoadRegisterState(path string) (*RegisterState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RegisterState{}, nil
		}
		return nil, xerr.Wrapf(err, xerr.KindIO, "read registration state %s", path)
	}
	var state RegisterState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, xerr.Wrapf(err, xerr.KindIO, "parse registration state %s", path)
	}
	return &state, nil
}

// SaveRegisterState writes state to path atomically: a temp file in the
// same directory, renamed over the target, mirroring the rule store's
// write discipline.
func SaveRegisterState(path string, state *RegisterState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return xerr.Wrap(err, xerr.KindInternal, "marshal registration state")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return xerr.Wrapf(err, xerr.KindIO, "create state directory for %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return xerr.Wrapf(err, xerr.KindIO, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return xerr.Wrapf(err, xerr.KindIO, "rename %s to %s", tmp, path)
	}
	return nil
}

type registerRequest struct {
	AuthToken string `json:"auth_token"`
	VmarkID   string `json:"vmark_id"`
}

// RunRegistration starts a temporary HTTP server bound to
// state.ListenIP:state.Port, accepting exactly one POST /register whose
// body's auth_token matches state.AuthToken. On a match, it invokes
// onSuccess with the caller's vmark_id and shuts down; on mismatch, it
// replies 401 and keeps waiting. ctx cancellation (including Ctrl-C)
// aborts registration, leaving it unregistered.
func RunRegistration(ctx context.Context, state *RegisterState, onSuccess func(vmarkID string) error, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	logger = logger.WithComponent("register")

	router := mux.NewRouter()
	done := make(chan error, 1)

	router.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if req.AuthToken != state.AuthToken {
			writeJSONError(w, http.StatusUnauthorized, "auth token mismatch")
			return
		}

		if err := onSuccess(req.VmarkID); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to persist registration")
			done <- err
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "node_id": state.NodeID})
		done <- nil
	}).Methods(http.MethodPost)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", state.ListenIP, state.Port),
		Handler:           router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("registration server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-serveErr:
		return err
	case err := <-done:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return err
	}
}
