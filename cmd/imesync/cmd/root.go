// Package cmd contains the imesync CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"imesync/internal/config"
	"imesync/internal/logging"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imesync",
	Short: "Japanese input method synchronization layer",
	Long: `imesync keeps a conversion engine, the host's text documents and the
host-visible input mode in step.

The engine runs in-process or behind a Unix socket served by
'imesync engine serve'. Recorded host sessions can be replayed against
it with 'imesync replay'.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.ConfigPath()+")")
	registerLoggingFlags(rootCmd.PersistentFlags())
}

// registerLoggingFlags adds the flags that override the logging section.
func registerLoggingFlags(fs *pflag.FlagSet) {
	fs.StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(lc config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}

	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Redact = lc.Redact
	cfg.Compress = lc.Compress
	if lc.Output != "" {
		cfg.Output = lc.Output
	}
	if lc.FilePath != "" {
		cfg.FilePath = lc.FilePath
	}
	if lc.MaxSizeMB > 0 {
		cfg.MaxSize = int64(lc.MaxSizeMB)
	}
	if lc.MaxBackups > 0 {
		cfg.MaxBackups = lc.MaxBackups
	}
	if lc.MaxAgeDays > 0 {
		cfg.MaxAge = lc.MaxAgeDays
	}

	logger, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}
