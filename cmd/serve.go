package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/hostmcp/internal/config"
	"github.com/teemow/hostmcp/internal/host"
	"github.com/teemow/hostmcp/internal/instrumentation"
	"github.com/teemow/hostmcp/internal/logging"
	"github.com/teemow/hostmcp/internal/server"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server
	Enabled bool

	// Addr is the loopback address for the metrics server (e.g., "127.0.0.1:9090")
	Addr string
}

// serveOptions are the serve flags. A flag only overrides the config file
// when it was set on the command line.
type serveOptions struct {
	port           int
	path           string
	apiKey         string
	callTimeout    time.Duration
	allowedOrigins string
	frameInterval  time.Duration
	metrics        MetricsConfig
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the demo host with the MCP server attached",
		Long: `Start the demo host and expose its tools over MCP.

The server binds to 127.0.0.1 only. Agents POST JSON-RPC to the MCP path
and may open an SSE stream with GET on the same path.

Settings are read from the config file (see "hostmcp config path") and
HOSTMCP_* environment variables; flags given here take precedence.

Examples:
  hostmcp serve
  hostmcp serve --port 9000 --api-key secret
  HOSTMCP_CALL_TIMEOUT=5s hostmcp serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loadMetricsEnvVars(cmd, &opts.metrics)
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.port, "port", config.DefaultPort, "Loopback port for the MCP server (0 picks a free port)")
	cmd.Flags().StringVar(&opts.path, "path", config.DefaultPath, "MCP endpoint path")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key required on every MCP request. Can also use HOSTMCP_API_KEY env var.")
	cmd.Flags().DurationVar(&opts.callTimeout, "call-timeout", config.DefaultCallTimeout, "Maximum wait for a tool call on the primary loop")
	cmd.Flags().StringVar(&opts.allowedOrigins, "allowed-origins", "", "Extra browser origins to accept (comma-separated)")
	cmd.Flags().DurationVar(&opts.frameInterval, "frame-interval", host.DefaultFrameInterval, "Demo host frame interval (0 disables frames)")

	// Metrics server flags
	cmd.Flags().BoolVar(&opts.metrics.Enabled, "metrics-enabled", false, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&opts.metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// loadMetricsEnvVars applies METRICS_* env vars for flags that were not set explicitly.
func loadMetricsEnvVars(cmd *cobra.Command, metrics *MetricsConfig) {
	if !cmd.Flags().Changed("metrics-enabled") {
		if v, err := strconv.ParseBool(os.Getenv("METRICS_ENABLED")); err == nil {
			metrics.Enabled = v
		}
	}
	if !cmd.Flags().Changed("metrics-addr") {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			metrics.Addr = addr
		}
	}
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, opts serveOptions, cfg config.Config) config.Config {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("path") {
		cfg.Path = opts.path
	}
	if flags.Changed("api-key") {
		cfg.APIKey = opts.apiKey
	}
	if flags.Changed("call-timeout") {
		cfg.CallTimeout = opts.callTimeout
	}
	if flags.Changed("allowed-origins") {
		cfg.AllowedOrigins = parseCommaSeparatedList(opts.allowedOrigins)
	}
	return cfg
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	logger := logging.WithComponent(slog.Default(), "serve")

	store, err := openConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	loaded, err := store.Config()
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if !loaded.Enabled {
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server is disabled in %s; enable it with: hostmcp config set enabled true\n", store.Path())
		return nil
	}
	cfg := applyFlags(cmd, opts, loaded)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer done()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	audit := instrumentation.NewAuditLoggerWithConfig(slog.Default(), instrConfig.AuditLogging)

	demo, err := host.New(
		host.WithFrameInterval(opts.frameInterval),
		host.WithLogger(slog.Default()),
	)
	if err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}

	srv, err := server.New(server.Config{
		Addr:           cfg.Addr(),
		Path:           cfg.Path,
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins,
		CallTimeout:    cfg.CallTimeout,
		SessionTTL:     cfg.SessionTTL,
		SweepInterval:  cfg.SweepInterval,
		ServerName:     "hostmcp",
		ServerVersion:  version,
	}, demo.Registry(), demo.Loop(),
		server.WithMetrics(provider.Metrics()),
		server.WithAuditLogger(audit),
		server.WithLogger(slog.Default()),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	var metricsServer *server.MetricsServer
	if opts.metrics.Enabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    opts.metrics.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
			Logger:                  slog.Default(),
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		if err := metricsServer.Listen(); err != nil {
			return fmt.Errorf("metrics server failed to start: %w", err)
		}
		logger.Info("metrics server started", slog.String("addr", metricsServer.Addr()))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return demo.Run(gctx)
	})

	g.Go(func() error {
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("failed to start MCP server: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on %s\n", srv.URL())
		if cfg.APIKey == "" {
			logger.Warn("no API key configured; any local process can call tools")
		}

		<-gctx.Done()

		stopCtx, done := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer done()
		return srv.Stop(stopCtx)
	})

	if metricsServer != nil {
		g.Go(metricsServer.Serve)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
			defer done()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("server stopped")
	return err
}

// parseCommaSeparatedList splits a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
