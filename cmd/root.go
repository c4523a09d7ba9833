package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/TFMV/rawls/internal/config"
	rawls "github.com/TFMV/rawls/internal/walk"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	version = "0.1.0"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rawls [path]",
	Short: "Rawly list every file below a directory",
	Long: `rawls lists every entry below a directory, staying on the directory's
filesystem, and prints one machine-readable line per entry:

  <inode>;<type>;<size>;<record-length>;<next-offset>;'<path>'

Directories only get a line of their own when they are empty, unreadable or
on another filesystem. Diagnostics go to standard error.`,
	Version:       version,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) > 0 {
			root = args[0]
		}
		return runList(cmd, root)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rawls.yaml)")
	addWalkFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().Bool("stats", false, "Print a summary to standard error when done")
}

// addWalkFlags defines the flags shared by every command that walks a tree.
func addWalkFlags(fs *pflag.FlagSet) {
	fs.String("reader", "auto", "Directory reader (auto|batch|portable)")
	fs.String("batch-size", "8MiB", "Buffer size of one bulk directory read")
	fs.Int("max-path", rawls.DefaultMaxPathLen, "Maximum supported path length in bytes")
	fs.String("output-buffer", "1MiB", "Output buffer size")
	fs.String("log-level", "info", "Debug log level (debug|info|warn|error)")
	fs.String("log-format", "plain", "Diagnostics format (plain|json)")
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"reader":        "reader",
	"batch-size":    "batch_size",
	"max-path":      "max_path",
	"output-buffer": "output_buffer",
	"log-level":     "logging.level",
	"log-format":    "logging.format",
	"stats":         "stats",
	"timeout":       "watch.timeout",
	"metrics-addr":  "watch.metrics_addr",
}

// loadConfig reads the configuration file (if any), environment and the
// flags of cmd. Each invocation gets its own viper instance.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	if cfgFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".rawls")
	}
	return config.Load(v, cfgFile)
}

// newTraverser builds a Traverser from cfg writing records to out and
// diagnostics to errOut.
func newTraverser(cfg *config.Config, out, errOut io.Writer) (*rawls.Traverser, *zap.Logger, error) {
	reader, err := rawls.ParseReaderKind(cfg.Reader)
	if err != nil {
		return nil, nil, err
	}
	level, err := rawls.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	format, err := rawls.ParseLogFormat(cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}

	logger := rawls.NewLogger(level)
	t, err := rawls.New(out, rawls.Options{
		BatchSize:        cfg.BatchSize.Int(),
		MaxPathLen:       cfg.MaxPathLen,
		Reader:           reader,
		OutputBufferSize: cfg.OutputBuffer.Int(),
		Logger:           logger,
		Diagnostics:      rawls.NewDiagnostics(errOut, format),
	})
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}
	return t, logger, nil
}

func runList(cmd *cobra.Command, root string) error {
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

	logger.Debug("configuration",
		zap.String("root", filepath.Clean(root)),
		zap.String("reader", cfg.Reader),
		zap.Stringer("batch_size", cfg.BatchSize),
		zap.Int("max_path", cfg.MaxPathLen),
	)

	stats, err := t.Run(root)
	if cfg.Stats {
		if sumErr := stats.WriteSummary(errOut); sumErr != nil && err == nil {
			err = sumErr
		}
	}
	if err != nil {
		return fmt.Errorf("rawls: %w", err)
	}
	return nil
}
