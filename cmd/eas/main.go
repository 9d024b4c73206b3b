package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/lowmax205/eas/internal/config"
	"github.com/lowmax205/eas/pkg/logger"
)

const programName = "eas"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev" //nolint:gochecknoglobals // build-time stamp

var globalFlags = struct { //nolint:gochecknoglobals // cobra flag targets
	configFile string
	logLevel   string
}{}

func main() {
	// We collect our own system metrics instead of the default Go collectors.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           programName,
		Short:         "Event attendance verification service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&globalFlags.configFile, "config", "c", "", "path to YAML config file (overrides "+config.EnvConfigPath+")")
	root.PersistentFlags().StringVar(&globalFlags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(serveCommand(), verifyCommand(), migrateCommand(), loadtestCommand())
	return root
}

// commonRun initialises logging and loads configuration for a subcommand.
func commonRun(ctx context.Context) (*config.Config, error) {
	if err := logger.Init(); err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		return nil, err
	}
	if globalFlags.configFile != "" {
		if err := os.Setenv(config.EnvConfigPath, globalFlags.configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return nil, err
	}
	if globalFlags.logLevel != "" {
		cfg.LogLevel = globalFlags.logLevel
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

func syncLogger() {
	_ = logger.Sync()
}
