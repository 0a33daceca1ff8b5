package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/livelink-dev/livelink/pkg/scene"
	"github.com/livelink-dev/livelink/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		addr            string
		httpAddr        string
		noHTTP          bool
		sceneName       string
		syncRate        float64
		threshold       float64
		fullSync        bool
		includeInactive bool
		logJSON         bool
		logLevel        string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Long: `Run the sync server with an in-memory scene.

Clients connect over WebSocket, receive a full scene dump, and from
then on get threshold-filtered delta broadcasts plus notifications
for spawns and deletions. The HTTP endpoint serves the same scene
over JSON-RPC for MCP clients.

Examples:
  livelink serve
  livelink serve --addr=:9000 --sync-hz=30
  livelink serve --threshold=0.01 --full-sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(serveOptions{
				addr:            addr,
				httpAddr:        httpAddr,
				noHTTP:          noHTTP,
				sceneName:       sceneName,
				syncRate:        syncRate,
				threshold:       threshold,
				fullSync:        fullSync,
				includeInactive: includeInactive,
				logJSON:         logJSON,
				logLevel:        logLevel,
			})
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "WebSocket listen address")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8081", "HTTP (JSON-RPC) listen address")
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "Disable the HTTP transport")
	cmd.Flags().StringVar(&sceneName, "scene", "SampleScene", "Scene name")
	cmd.Flags().Float64Var(&syncRate, "sync-hz", 10, "Sync broadcast frequency in Hz (0 disables)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.001, "Change threshold (world units / degrees)")
	cmd.Flags().BoolVar(&fullSync, "full-sync", false, "Broadcast full state every tick instead of deltas")
	cmd.Flags().BoolVar(&includeInactive, "include-inactive", false, "Include inactive objects in dumps and syncs")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log as JSON instead of text")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

type serveOptions struct {
	addr            string
	httpAddr        string
	noHTTP          bool
	sceneName       string
	syncRate        float64
	threshold       float64
	fullSync        bool
	includeInactive bool
	logJSON         bool
	logLevel        string
}

func runServe(opts serveOptions) error {
	logger, err := newLogger(opts.logJSON, opts.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	provider := scene.NewMemoryProvider(opts.sceneName)
	provider.DefaultPrefabs()

	s := server.New(provider, server.Config{
		Addr:            opts.addr,
		HTTPAddr:        opts.httpAddr,
		DisableHTTP:     opts.noHTTP,
		ServerName:      "livelink",
		Version:         version,
		SyncRate:        opts.syncRate,
		SyncThreshold:   opts.threshold,
		FullSync:        opts.fullSync,
		IncludeInactive: opts.includeInactive,
		Logger:          logger,
	})

	if err := s.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(ctx)
}

func newLogger(asJSON bool, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
}
