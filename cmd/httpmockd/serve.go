package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/httpmockd/httpmockd/pkg/api"
	"github.com/httpmockd/httpmockd/pkg/config"
	"github.com/httpmockd/httpmockd/pkg/dispatch"
	"github.com/httpmockd/httpmockd/pkg/logging"
	"github.com/httpmockd/httpmockd/pkg/recording"
	"github.com/httpmockd/httpmockd/pkg/state"
	"github.com/httpmockd/httpmockd/pkg/tlsproxy"
)

// serveFlags is the package-level instance bound to cobra flags, grounded
// on the teacher's pkg/cli/serve.go flag-struct idiom (trimmed to this
// server's real flag surface — spec.md §6 names port, expose, mock-files-
// dir, history-limit, and access-log; everything else here is ambient
// logging/shutdown/TLS-interception configuration the teacher also exposes
// on its serve command).
type serveFlags struct {
	port             int
	expose           bool
	mockFilesDir     string
	historyLimit     int
	accessLog        bool
	logLevel         string
	logFormat        string
	tlsIntercept     bool
	caCert           string
	caKey            string
	shutdownDeadline int
}

var serveFlagVals serveFlags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "httpmockd",
		Short:         "Local-first HTTP mock and proxy server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveFlagVals)
		},
	}

	f := &serveFlagVals
	root.Flags().IntVarP(&f.port, "port", "p", config.DefaultPort, "HTTP server port")
	root.Flags().BoolVar(&f.expose, "expose", false, "Bind 0.0.0.0 instead of loopback")
	root.Flags().StringVar(&f.mockFilesDir, "mock-files-dir", "", "Directory of recording documents to load as mocks at startup")
	root.Flags().IntVar(&f.historyLimit, "history-limit", config.DefaultRequestHistory, "Bounded request history size")
	root.Flags().BoolVar(&f.accessLog, "access-log", config.DefaultAccessLog, "Log every dispatched request to stderr")
	root.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.Flags().StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")
	root.Flags().BoolVar(&f.tlsIntercept, "tls-intercept", false, "Enable TLS interception (MITM) for CONNECT tunnels matched by a proxy rule")
	root.Flags().StringVar(&f.caCert, "ca-cert", "", "Path to the MITM CA certificate (generated in-memory if unset)")
	root.Flags().StringVar(&f.caKey, "ca-key", "", "Path to the MITM CA private key (generated in-memory if unset)")
	root.Flags().IntVar(&f.shutdownDeadline, "shutdown-deadline", config.DefaultShutdownDeadline, "Seconds to wait for in-flight requests to drain on shutdown")

	return root
}

// runServe wires the dispatch pipeline and management API onto one shared
// listener and serves until a termination signal arrives, per spec.md §6's
// signal and exit-code contract.
func runServe(ctx context.Context, f serveFlags) error {
	cfg := config.FromEnvironment(config.ServerConfiguration{
		Port:                 f.port,
		Expose:               f.expose,
		MockFilesDir:         f.mockFilesDir,
		RequestHistoryLimit:  f.historyLimit,
		AccessLogEnabled:     f.accessLog,
		MaxRequestBodySize:   config.DefaultMaxRequestBody,
		ShutdownDeadlineSecs: f.shutdownDeadline,
		LogLevel:             logging.ParseLevel(f.logLevel),
		LogFormat:            logging.ParseFormat(f.logFormat),
	})

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})

	mgr := state.NewManager(cfg.RequestHistoryLimit)

	if cfg.MockFilesDir != "" {
		if err := loadMockFiles(mgr, cfg.MockFilesDir, log); err != nil {
			return fmt.Errorf("httpmockd: load mock files: %w", err)
		}
	}

	var ca *tlsproxy.CAManager
	if f.tlsIntercept {
		ca = tlsproxy.NewCAManager(f.caCert, f.caKey)
		if err := ca.EnsureCA(); err != nil {
			return fmt.Errorf("httpmockd: ensure CA: %w", err)
		}
	}

	dcfg := dispatch.DefaultConfig()
	dcfg.MaxRequestBodySize = cfg.MaxRequestBodySize
	pipeline := dispatch.NewPipeline(mgr, dcfg, log, ca)

	// Management API shares the mock server's listener, under the reserved
	// /__httpmock__ prefix; every other path falls through to dispatch
	// (spec.md §6).
	mux := http.NewServeMux()
	adminAPI := api.NewServer(mgr, "", log)
	adminAPI.RegisterOn(mux)
	mux.Handle("/", pipeline)

	var handler http.Handler = mux
	if cfg.AccessLogEnabled {
		handler = accessLogMiddleware(log, handler)
	}

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress(), cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpmockd: listen on %s: %w", addr, err)
	}
	httpServer := &http.Server{Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.Info("httpmockd listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownDeadlineSecs)*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpmockd: graceful shutdown: %w", err)
	}
	return nil
}

// loadMockFiles implements spec.md §6's "persisted state on startup": every
// *.yaml/*.yml file in dir is parsed as a recording document and its entries
// installed as mocks, in lexicographic filename order.
func loadMockFiles(mgr *state.Manager, dir string, log *slog.Logger) error {
	specs, err := recording.LoadDirectory(dir)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if _, err := mgr.CreateMock(spec); err != nil {
			return fmt.Errorf("install mock from %s: %w", dir, err)
		}
	}
	log.Info("loaded mock files", "dir", dir, "mocks", len(specs))
	return nil
}
