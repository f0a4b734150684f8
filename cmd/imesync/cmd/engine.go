package cmd

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
	"golang.org/x/sync/errgroup"

	"imesync/internal/config"
	"imesync/internal/engine"
	"imesync/internal/health"
	"imesync/internal/ipc"
	"imesync/internal/logging"
	"imesync/internal/metrics"
	"imesync/internal/mockengine"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run or probe the conversion engine server",
}

var engineServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the built-in engine on the configured socket",
	Long: `Serve the built-in romaji engine on the configured Unix socket until
interrupted. Configuration edits are picked up while running; socket
settings apply on the next start.`,
	Args: cobra.NoArgs,
	RunE: runEngineServe,
}

var enginePingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Connect to a running engine server and report its version",
	Args:  cobra.NoArgs,
	RunE:  runEnginePing,
}

func init() {
	engineCmd.AddCommand(engineServeCmd, enginePingCmd)
	rootCmd.AddCommand(engineCmd)
}

func runEngineServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(configFile())
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	registry := metrics.NewRegistry("imesync", "engine")
	backend := &meteredEngine{
		next:    mockengine.New(1, logger.Logger),
		metrics: metrics.NewIMEMetrics(registry),
	}

	sc := ipc.DefaultServerConfig("")
	sc.SocketPath = cfg.Engine.SocketPath
	sc.Version = version()
	sc.MaxConnections = cfg.Engine.MaxConnections
	sc.RequireSameUser = cfg.Engine.RequireSameUser
	server, err := ipc.NewServer(sc, backend, logger.Logger)
	if err != nil {
		return err
	}

	checker := health.NewChecker()
	checker.RegisterFunc("engine_socket", true, health.SocketCheck(sc.SocketPath))
	checker.RegisterFunc("engine_clients", false, func(context.Context) health.CheckResult {
		n := server.ClientCount()
		status := health.StatusHealthy
		if n >= sc.MaxConnections {
			status = health.StatusDegraded
		}
		return health.CheckResult{Status: status, Message: fmt.Sprintf("%d of %d clients", n, sc.MaxConnections)}
	})
	checker.RegisterFunc("config", false, health.PingCheck("configuration", func(context.Context) error {
		next, err := config.Load(loader.Path())
		if err != nil {
			return err
		}
		return next.Validate()
	}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(); err != nil {
		return err
	}
	checker.SetReady(true)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		checker.SetReady(false)
		return server.Stop()
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveHTTP(ctx, cfg.Metrics.Listen, registry, checker, logger.Logger)
		})
	}
	g.Go(func() error {
		return watchConfig(ctx, loader, cfg, logger)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchConfig follows edits to the configuration file until ctx is done.
func watchConfig(ctx context.Context, loader *config.Loader, running *config.Config, logger *logging.Logger) error {
	loader.OnChange(applyServerConfig(running, logger))
	if err := loader.Watch(); err != nil {
		logger.Warn("configuration watch disabled", "error", err)
		<-ctx.Done()
		return nil
	}
	defer loader.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-loader.Errors():
			logger.Warn("configuration reload rejected", "error", err)
		}
	}
}

// applyServerConfig returns the reload callback of the engine server. The
// log level applies at once unless --log-level pinned it; socket settings
// only on the next start.
func applyServerConfig(running *config.Config, logger *logging.Logger) func(*config.Config) {
	return func(next *config.Config) {
		if next.Engine.SocketPath != running.Engine.SocketPath || next.Engine.Codec != running.Engine.Codec {
			logger.Warn("engine socket settings changed; restart to apply",
				"socket", next.Engine.SocketPath, "codec", next.Engine.Codec)
		}
		if logLevel == "" {
			level, err := logging.ParseLevel(next.Logging.Level)
			if err != nil {
				logger.Warn("ignoring log level", "level", next.Logging.Level, "error", err)
			} else if level != logger.Level() {
				logger.SetLevel(level)
				logger.Info("log level changed", "level", logging.LevelString(level))
			}
		}
		logger.Info("configuration reloaded")
	}
}

// serveHTTP exposes registry in the Prometheus text format and the health
// probes on addr.
func serveHTTP(ctx context.Context, addr string, registry *metrics.Registry, checker *health.Checker, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.HTTPHandler())
	checker.Mount(mux)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info("metrics and health listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// meteredEngine counts requests made to the wrapped engine.
type meteredEngine struct {
	next    engine.Client
	metrics *metrics.IMEMetrics
}

func (m *meteredEngine) SendKey(ctx context.Context, key engine.KeyEvent) (*engine.Output, error) {
	return m.observe(func() (*engine.Output, error) { return m.next.SendKey(ctx, key) })
}

func (m *meteredEngine) SendCommand(ctx context.Context, cmd engine.Command) (*engine.Output, error) {
	return m.observe(func() (*engine.Output, error) { return m.next.SendCommand(ctx, cmd) })
}

func (m *meteredEngine) observe(call func() (*engine.Output, error)) (*engine.Output, error) {
	m.metrics.EngineRequests.Inc()
	timer := m.metrics.EngineLatency.Timer()
	out, err := call()
	timer.Stop()
	if err != nil {
		m.metrics.EngineErrors.Inc()
	}
	return out, err
}

func runEnginePing(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	client, closer, err := engineClient(cmd.Context(), cfg, true, logger.Logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	c := client.(*ipc.Client)
	cmd.Printf("engine %s at %s (session %s)\n", c.ServerVersion(), cfg.Engine.SocketPath, c.SessionID())
	return nil
}
