// Command vmark-node is the network demarcation node's core engine: the
// XDP VLAN forwarding rule store/driver, the TWAMP-Light measurement
// engine, and the registration/control HTTP API, wired together the way
// the teacher's own daemon entrypoint wires its services.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vmark.io/vmark-node/internal/api"
	"vmark.io/vmark-node/internal/config"
	"vmark.io/vmark-node/internal/datapath"
	"vmark.io/vmark-node/internal/dispatcher"
	"vmark.io/vmark-node/internal/forwarding"
	"vmark.io/vmark-node/internal/host"
	"vmark.io/vmark-node/internal/logging"
	"vmark.io/vmark-node/internal/metrics"
	"vmark.io/vmark-node/internal/rulestore"
	"vmark.io/vmark-node/internal/twamp"
)

func main() {
	configPath := flag.String("config", "", "path to vmark-node.yaml")
	registerListenIP := flag.String("register-listen-ip", "", "bind address for a one-shot registration handshake")
	registerPort := flag.Int("register-port", 0, "port for a one-shot registration handshake")
	registerWithPIN := flag.Bool("register-pin", false, "generate a 4-digit PIN instead of a random token")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmark-node: load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Output: os.Stderr, Level: parseLogLevel(cfg.LogLevel), Syslog: cfg.Syslog.ToLoggingConfig()})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *registerListenIP != "" && *registerPort != 0 {
		runRegistration(ctx, cfg, logger, *registerListenIP, *registerPort, *registerWithPIN)
		return
	}

	runDaemon(ctx, cfg, logger)
}

func parseLogLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// runRegistration performs the one-shot registration handshake (§4.8):
// generate credentials, persist an unregistered state, wait for a
// matching POST /register, then persist the vmark_id and exit.
func runRegistration(ctx context.Context, cfg *config.Config, logger *logging.Logger, listenIP string, port int, usePIN bool) {
	var authToken string
	var err error
	if usePIN {
		authToken, err = api.NewPIN()
	} else {
		authToken, err = api.NewAuthToken()
	}
	if err != nil {
		logger.Error("failed to generate registration credential", "error", err)
		os.Exit(1)
	}

	state := &api.RegisterState{
		AuthToken:  authToken,
		NodeID:     api.NewNodeID(),
		ListenIP:   listenIP,
		Port:       port,
		Registered: false,
	}
	if err := api.SaveRegisterState(cfg.RegisterPath(), state); err != nil {
		logger.Error("failed to persist registration state", "error", err)
		os.Exit(1)
	}

	fmt.Printf("node_id: %s\nauth_token: %s\nwaiting for POST /register on %s:%d ...\n", state.NodeID, state.AuthToken, listenIP, port)

	err = api.RunRegistration(ctx, state, func(vmarkID string) error {
		state.VmarkID = vmarkID
		state.Registered = true
		return api.SaveRegisterState(cfg.RegisterPath(), state)
	}, logger)
	if err != nil {
		logger.Error("registration did not complete", "error", err)
		os.Exit(1)
	}
	fmt.Println("registration complete")
}

// runDaemon starts the persistent process: host checks, forwarding engine
// reconciliation, the command dispatcher, the persistent API (if already
// registered) and the metrics endpoint.
func runDaemon(ctx context.Context, cfg *config.Config, logger *logging.Logger) {
	for _, issue := range host.VerifyXDPSupport() {
		if issue.Fatal {
			logger.Error("host requirement not met", "feature", issue.Feature, "message", issue.Message)
			os.Exit(1)
		}
		logger.Warn("host requirement degraded", "feature", issue.Feature, "message", issue.Message)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	store := rulestore.New(cfg.ForwardingTablePath())
	driver := datapath.NewDriver(cfg.XDPObjectPath, cfg.XDPProgramName, logger)
	engine := forwarding.NewEngine(store, driver, logger)
	engine.SetMetrics(m)

	if err := engine.Reconcile(); err != nil {
		logger.Error("startup reconciliation failed", "error", err)
	}

	registry := twamp.NewRegistry()
	registry.SetMetrics(m)
	disp := dispatcher.New(engine, registry, logger, m)

	state, err := api.LoadRegisterState(cfg.RegisterPath())
	if err != nil {
		logger.Error("failed to load registration state", "error", err)
		os.Exit(1)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsListenAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsListenAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", "error", err)
		}
	}()

	if !state.Registered || state.VmarkID == "" {
		logger.Warn("node is not registered; persistent API will not start")
		<-ctx.Done()
		metricsSrv.Close()
		return
	}

	srv := api.NewServer(state, disp, m, logger)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("persistent API exited", "error", err)
	}
	metricsSrv.Close()
}
