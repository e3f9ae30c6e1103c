package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperengineering/peersync/internal/config"
	"github.com/hyperengineering/peersync/pkg/companion"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "peersync",
	Short: "peersync - device-local sync for companion apps",
	Long: "Runs the eight sync domains of one companion app and inspects their local state.\n" +
		"Without a subcommand it behaves like \"peersync run\".",
	SilenceUsage: true,
	RunE:         run,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync every domain with local peers until interrupted",
	Args:  cobra.NoArgs,
	RunE:  run,
}

func init() {
	rootCmd.Version = Version
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(domainCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.App.Version == "" {
		cfg.App.Version = Version
	}

	// 3. Initialize logger
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)
	slog.Info("configuration loaded",
		"app_id", cfg.App.ID,
		"level", cfg.Log.Level,
		"root_path", cfg.Database.RootPath,
	)

	// 4. Open stores and create one engine per domain
	host, err := companion.NewHost(ctx, companion.AppIdentity{}, cfg, logger)
	if err != nil {
		return err
	}

	// 5. Announce, discover and start background workers
	if err := host.Start(ctx); err != nil {
		stopHost(host, time.Duration(cfg.Server.ShutdownTimeout))
		return err
	}

	// 6. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 7. Graceful shutdown: listeners, queued writes, broadcasts, stores
	stopHost(host, time.Duration(cfg.Server.ShutdownTimeout))
	slog.Info("shutdown complete")
	return nil
}

func stopHost(host *companion.Host, timeout time.Duration) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	if err := host.Stop(shutdownCtx); err != nil {
		slog.Error("host shutdown error", "error", err)
	}
}
