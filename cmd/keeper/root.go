package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wilologistics/keeper"
	"github.com/wilologistics/keeper/internal/config"
)

var (
	// Global flags.
	configPath string
	rootDir    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "keeper",
	Short: "Backups and caching for the KPI dashboard",
	Long: `Keeper snapshots the dashboard's KPI tables, config files and data folder
into zip archives, restores them, and serves cache and backup metrics.

Examples:
  # Take a full backup
  keeper backup create --type full --description "before upgrade"

  # List archives, newest first
  keeper backup list

  # Restore only the database tables from an archive
  keeper backup restore backup_full_20250101_020000_ab12cd34.zip --type database_only

  # Run the scheduler and expose /metrics
  keeper serve`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "directory relative paths are resolved against")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func loadConfig(logger *zap.Logger) (*config.Config, error) {
	c, err := config.Load(configPath, config.WithLogger(logger.Named("config")))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return c, nil
}

// openKeeper builds a keeper from the global flags. Scheduled backups never
// start from one-shot commands.
func openKeeper(ctx context.Context, opts ...keeper.Option) (*keeper.Keeper, *zap.Logger, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	c, err := loadConfig(logger)
	if err != nil {
		return nil, nil, err
	}
	base := []keeper.Option{
		keeper.WithConfig(c),
		keeper.WithRootDir(rootDir),
		keeper.WithLogger(logger),
	}
	k, err := keeper.New(ctx, append(base, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return k, logger, nil
}

// exitOnSignalContext is cancelled on interrupt so archives and temp dirs
// are cleaned up.
func exitOnSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
