package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxhound/voxhound/internal/config"
	"github.com/voxhound/voxhound/internal/httpapi"
	"github.com/voxhound/voxhound/internal/logger"
	"github.com/voxhound/voxhound/internal/usage"
	"github.com/voxhound/voxhound/pkg/engine"
	"github.com/voxhound/voxhound/pkg/storage"
)

var startFlags struct {
	dataDir        string
	httpPort       int
	storageType    string
	s3Bucket       string
	s3Region       string
	s3Prefix       string
	s3Endpoint     string
	idleTimeout    time.Duration
	sweepInterval  time.Duration
	retryAttempts  int
	usageTelemetry bool
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Voxhound daemon",
	Long: `Start the Voxhound daemon. It accepts session telemetry through the
engine API, finalizes idle and ended sessions into storage, and serves
the read API until interrupted.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startFlags.dataDir, "data-dir", "", "data directory for local storage and logs")
	startCmd.Flags().IntVar(&startFlags.httpPort, "http-port", 0, "read API port")
	startCmd.Flags().StringVar(&startFlags.storageType, "storage", "", "storage backend (local or s3)")
	startCmd.Flags().StringVar(&startFlags.s3Bucket, "s3-bucket", "", "S3 bucket name")
	startCmd.Flags().StringVar(&startFlags.s3Region, "s3-region", "", "S3 region")
	startCmd.Flags().StringVar(&startFlags.s3Prefix, "s3-prefix", "", "key namespace root")
	startCmd.Flags().StringVar(&startFlags.s3Endpoint, "s3-endpoint", "", "custom S3 endpoint (MinIO, LocalStack)")
	startCmd.Flags().DurationVar(&startFlags.idleTimeout, "idle-timeout", 0, "finalize sessions idle longer than this")
	startCmd.Flags().DurationVar(&startFlags.sweepInterval, "sweep-interval", 0, "idle sweep period")
	startCmd.Flags().IntVar(&startFlags.retryAttempts, "retry-attempts", -1, "storage retry attempts per write")
	startCmd.Flags().BoolVar(&startFlags.usageTelemetry, "usage-telemetry", false, "enable anonymous usage reporting")

	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyStartFlags(cmd, cfg)

	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return err
	}
	defer logg.Close()

	backend, err := buildBackend(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	var reporter usage.Reporter = usage.NoopReporter{}
	if cfg.Usage.Enabled {
		reporter = usage.NewHTTPReporter(cfg.Usage.Endpoint)
	}

	eng := engine.New(engine.Config{
		Backend:       backend,
		BasePrefix:    cfg.Storage.Prefix,
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
		RetryAttempts: uint64(cfg.Session.RetryAttempts),
		ShutdownGrace: cfg.Session.ShutdownGrace,
		Usage:         reporter,
	})
	if err := eng.Start(); err != nil {
		return err
	}

	api, err := httpapi.NewServer(httpapi.Config{
		Host:   cfg.HTTP.Host,
		Port:   cfg.HTTP.Port,
		Engine: eng,
		Logger: logg.GetZerolog(),
	})
	if err != nil {
		return err
	}
	if err := api.Start(); err != nil {
		return err
	}

	logg.Info().
		Str("storage", cfg.Storage.Type).
		Str("prefix", cfg.Storage.Prefix).
		Int("port", cfg.HTTP.Port).
		Msg("Voxhound daemon started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logg.Info().Str("signal", sig.String()).Msg("Shutting down")

	if err := api.Stop(); err != nil {
		logg.Error().Err(err).Msg("Read API shutdown")
	}
	if err := eng.Close(); err != nil {
		logg.Error().Err(err).Msg("Engine shutdown")
		return err
	}
	return nil
}

// applyStartFlags overlays explicitly-set flags on the loaded configuration.
func applyStartFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = startFlags.dataDir
	}
	if flags.Changed("http-port") {
		cfg.HTTP.Port = startFlags.httpPort
	}
	if flags.Changed("storage") {
		cfg.Storage.Type = startFlags.storageType
	}
	if flags.Changed("s3-bucket") {
		cfg.Storage.S3.Bucket = startFlags.s3Bucket
	}
	if flags.Changed("s3-region") {
		cfg.Storage.S3.Region = startFlags.s3Region
	}
	if flags.Changed("s3-prefix") {
		cfg.Storage.Prefix = startFlags.s3Prefix
	}
	if flags.Changed("s3-endpoint") {
		cfg.Storage.S3.Endpoint = startFlags.s3Endpoint
	}
	if flags.Changed("idle-timeout") {
		cfg.Session.IdleTimeout = startFlags.idleTimeout
	}
	if flags.Changed("sweep-interval") {
		cfg.Session.SweepInterval = startFlags.sweepInterval
	}
	if flags.Changed("retry-attempts") {
		cfg.Session.RetryAttempts = startFlags.retryAttempts
	}
	if flags.Changed("usage-telemetry") {
		cfg.Usage.Enabled = startFlags.usageTelemetry
	}
	if cmd.Root().PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
}

func buildBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Type {
	case "local":
		return storage.NewLocalBackend(filepath.Join(cfg.DataDir, "storage"))
	case "s3":
		return storage.NewS3Backend(ctx, storage.S3Config{
			Bucket:   cfg.Storage.S3.Bucket,
			Region:   cfg.Storage.S3.Region,
			Endpoint: cfg.Storage.S3.Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}
