package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/scrollguard/internal/config"
	"github.com/goodtune/scrollguard/internal/engine"
	"github.com/goodtune/scrollguard/internal/metrics"
	"github.com/goodtune/scrollguard/internal/policy"
	"github.com/goodtune/scrollguard/internal/policy/opa"
	"github.com/goodtune/scrollguard/internal/source"
	"github.com/goodtune/scrollguard/internal/storage"
	"github.com/goodtune/scrollguard/internal/storage/bolt"
	"github.com/goodtune/scrollguard/internal/storage/redis"
	"github.com/goodtune/scrollguard/internal/systemd"
	"github.com/goodtune/scrollguard/internal/targets"
	"github.com/goodtune/scrollguard/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interception engine",
	Long: `Read host events from the configured input, intercept blocked feeds on the
configured output and persist usage to storage. This is the default command.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting ScrollGuard")

	// Check for systemd socket activation
	systemdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if systemdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	logger.Info().Strs("groups", registry.Groups()).Msg("Targets loaded")

	// Initialize policy
	policySource, opaEngine, err := buildPolicySource(cfg, store, registry, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy source: %w", err)
	}

	holder := policy.NewHolder(policySource, registry.Groups(), nil,
		parseDuration(cfg.Policy.RefreshTimeout, policy.DefaultRefreshTimeout), logger)
	if err := holder.Refresh(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Initial policy load failed, nothing is blocked until the next refresh")
	}

	// Open host streams
	in, closeIn, err := openInput(cfg.Source.Input)
	if err != nil {
		return err
	}
	defer closeIn()

	out, closeOut, err := openOutput(cfg.Source.Output)
	if err != nil {
		return err
	}
	defer closeOut()

	stream := source.New(in, out, logger)

	// Initialize engine
	aggregator := usage.NewAggregator(store.Usage(), registry, nil, logger)

	// Closed days are served from the reader's cache; late commits evict them
	reader, err := usage.NewReader(store.Usage(), nil, usage.DefaultCacheSize)
	if err != nil {
		return err
	}
	aggregator.SetInvalidator(reader)

	eng := engine.New(engineConfig(cfg.Engine), registry, holder, stream, aggregator, nil, logger)

	// Start metrics server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		metricsServer.Handle("/usage", usage.NewHandler(reader, registry, logger))
		if systemdListeners.Metrics != nil {
			metricsServer.SetListener(systemdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	streamDone := make(chan error, 1)
	go func() { streamDone <- stream.Run(ctx, eng) }()

	go systemd.RunWatchdog(ctx, logger)

	logger.Info().Msg("ScrollGuard started successfully")

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd ready")
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	var streamErr error
loop:
	for {
		select {
		case sig := <-sigChan:
			if sig != syscall.SIGHUP {
				logger.Info().Str("signal", sig.String()).Msg("Shutting down")
				break loop
			}

			logger.Info().Msg("Received SIGHUP, reloading policies")
			if opaEngine != nil {
				if err := opaEngine.Reload(); err != nil {
					logger.Error().Err(err).Msg("Failed to reload policies")
				}
			}
			holder.RefreshAsync()

		case streamErr = <-streamDone:
			if streamErr != nil {
				logger.Error().Err(streamErr).Msg("Event stream failed")
			} else {
				logger.Info().Msg("Event stream closed, shutting down")
			}
			break loop
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd stopping")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := eng.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Engine did not drain before timeout")
	}
	cancel()
	if err := <-engineDone; err != nil {
		logger.Error().Err(err).Msg("Engine stopped with error")
	}
	holder.Wait()

	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}

	logger.Info().Msg("ScrollGuard stopped")
	return streamErr
}

// openStorage opens the configured storage backend
func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "redis":
		return redis.Open(cfg.Redis)
	case "bolt":
		return bolt.Open(cfg.Bolt.Path)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// buildPolicySource returns the configured source of block flags. The OPA
// engine is returned as well so callers can reload it.
func buildPolicySource(cfg *config.Config, store storage.Store, registry *targets.Registry, clock policy.Clock, logger zerolog.Logger) (policy.Source, *opa.Engine, error) {
	switch cfg.Policy.Source {
	case "static":
		return policy.NewStaticSource(cfg.Policy.Blocked), nil, nil
	case "store":
		return policy.NewStoreSource(store.Policy()), nil, nil
	case "opa":
		opaEngine, err := opa.NewEngine(opa.Config{PolicyDir: cfg.Policy.OPAPolicyDir}, logger)
		if err != nil {
			return nil, nil, err
		}
		return opa.NewSource(opaEngine, registry, clock), opaEngine, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", policy.ErrUnknownSource, cfg.Policy.Source)
	}
}

// engineConfig converts configuration into engine settings
func engineConfig(cfg config.EngineConfig) engine.Config {
	return engine.Config{
		Thresholds: engine.Thresholds{
			MinTimeSpent:      parseDuration(cfg.MinTimeSpent, 5*time.Second),
			MinScrollCount:    int64(cfg.MinScrollCount),
			MinScrollsBlocked: int64(cfg.MinScrollsBlocked),
		},
		QueueSize:     cfg.QueueSize,
		NotifyMessage: cfg.NotifyMessage,
	}
}

// openInput opens the event input, "-" meaning stdin
func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// openOutput opens the command output, "-" meaning stdout
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open command output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// setupLogger configures the global logger. Logs go to stderr since stdout
// may carry host commands.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
