package main

import (
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wardenlabs/warden/internal/config"
)

var (
	cfg     *config.Config
	log     zerolog.Logger
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Autonomous task-orchestration runtime",
	Long: `Warden decomposes objectives into a tree of missions, delegates
independent sub-objectives to isolated concurrent workers, runs long-lived
commands in the background, detects unproductive loops, and routes model
calls through a resilient, cost-tiered failover chain.

Run a one-shot objective with "warden run", or let "warden daemon" advance
the active mission autonomously.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; missing file is not an error.
		godotenv.Load()

		var err error
		if cfgPath != "" {
			cfg, err = config.LoadFromPath(cfgPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}

		log = newLogger(cfg.Logging, verbose)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		errLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
		errLog.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(missionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger(lc config.LoggingConfig, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(lc.Level)); err == nil && lc.Level != "" {
		level = parsed
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if lc.File != "" {
		out = &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
		}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
