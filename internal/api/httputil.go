package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Hardening defaults, mirroring the teacher's DefaultServerConfig:
// Slowloris prevention, body/response/keep-alive limits.
const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultMaxBodyBytes      = 1 << 20 // 1MB: every body on this API is a handful of JSON fields.
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func netJoinHostPort(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// reuseAddrListenConfig sets SO_REUSEADDR explicitly: net.Listen does not
// set it by default, and the persistent API must be able to rebind
// listen_ip:port immediately after a restart.
var reuseAddrListenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		if err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		}); err != nil {
			return err
		}
		return sockErr
	},
}

func reuseAddrListen(ctx context.Context, network, addr string) (net.Listener, error) {
	return reuseAddrListenConfig.Listen(ctx, network, addr)
}
