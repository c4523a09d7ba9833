package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/TFMV/rawls/internal/metrics"
	rawls "github.com/TFMV/rawls/internal/walk"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "List a directory, then keep listing what changes below it",
	Long: `Watch lists a directory exactly like rawls does and then keeps printing
records for entries created or modified below it, until interrupted.

New directories are listed and watched as they appear, as long as they are
on the same filesystem. Removed and renamed entries are reported on
standard error as "removed: <path>".

With --metrics-addr the run's counters are served for Prometheus at
http://<addr>/metrics while watching.

Examples:
  rawls watch /srv/data
  rawls watch --timeout=10m /srv/data
  rawls watch --metrics-addr=:9090 /srv/data`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) > 0 {
			root = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runWatch(ctx, cmd, root)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Duration("timeout", 0, "Duration to watch before exiting (e.g., 1h, 30m)")
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this host:port while watching")
}

func runWatch(ctx context.Context, cmd *cobra.Command, root string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	t, logger, err := newTraverser(cfg, out, errOut)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := rawls.WatchOptions{Timeout: cfg.Watch.Timeout}
	if cfg.Watch.MetricsAddr != "" {
		collector := metrics.NewCollector()
		server := metrics.NewServer(metrics.ServerConfig{Addr: cfg.Watch.MetricsAddr}, metrics.NewRegistry(collector), logger)
		opts.Progress = collector.Update

		serverCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(serverCtx); err != nil {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer wg.Wait()
		defer cancel()
	}

	stats, err := t.Watch(ctx, root, opts)
	if cfg.Stats {
		if sumErr := stats.WriteSummary(errOut); sumErr != nil && err == nil {
			err = sumErr
		}
	}
	if err != nil {
		return fmt.Errorf("rawls watch: %w", err)
	}
	return nil
}
