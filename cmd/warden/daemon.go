package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/internal/daemon"
	"github.com/wardenlabs/warden/internal/mission"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Advance the active mission autonomously on a tick loop",
	Long: `Runs warden as a long-lived process. Every tick it loads the active
mission, runs one orchestrator round against it, and persists the outcome.
A mission that fails too many times in a row is paused rather than retried
forever. Drop a "pause" or "kill" file under .warden/signals/ to control a
running daemon, or use SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workDir, err := os.Getwd()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(workDir)
		if err != nil {
			return err
		}

		store, err := mission.Open(mission.DefaultPath())
		if err != nil {
			return err
		}
		defer store.Close()

		signals, err := daemon.NewSignalManager(workDir)
		if err != nil {
			return err
		}
		defer signals.Close()

		d := daemon.New(daemon.Config{
			Store: store,
			NewRunner: func(m *mission.Mission) (daemon.Runner, error) {
				return rt.newLoop(m.ID), nil
			},
			Signals:        signals,
			TickInterval:   cfg.Daemon.TickInterval,
			ErrorThreshold: cfg.Daemon.ErrorThreshold,
			Log:            log,
		})

		// Leftover signal files would stop the daemon on its first tick.
		signals.ClearSignals()

		log.Info().
			Str("db", store.Path()).
			Dur("tick", cfg.Daemon.TickInterval).
			Msg("daemon starting")
		return d.Run(cmd.Context())
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal the daemon running in this directory to exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		signals, err := signalManagerHere()
		if err != nil {
			return err
		}
		defer signals.Close()
		return signals.SendKill()
	},
}

var daemonPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Signal the daemon to skip ticks until resumed",
	RunE: func(cmd *cobra.Command, args []string) error {
		signals, err := signalManagerHere()
		if err != nil {
			return err
		}
		defer signals.Close()
		return signals.SendPause()
	},
}

var daemonResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear daemon signal files so ticking resumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		signals, err := signalManagerHere()
		if err != nil {
			return err
		}
		defer signals.Close()
		signals.ClearSignals()
		return nil
	},
}

func signalManagerHere() (*daemon.SignalManager, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return daemon.NewSignalManager(workDir)
}

func init() {
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonPauseCmd)
	daemonCmd.AddCommand(daemonResumeCmd)
}
