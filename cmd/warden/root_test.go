package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/config"
)

func TestNewLogger_Levels(t *testing.T) {
	cases := []struct {
		name    string
		level   string
		verbose bool
		want    zerolog.Level
	}{
		{"default", "", false, zerolog.InfoLevel},
		{"explicit debug", "debug", false, zerolog.DebugLevel},
		{"warn", "warn", false, zerolog.WarnLevel},
		{"unknown falls back", "chatty", false, zerolog.InfoLevel},
		{"verbose overrides", "error", true, zerolog.DebugLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logger := newLogger(config.LoggingConfig{Level: tc.level}, tc.verbose)
			if logger.GetLevel() != tc.want {
				t.Errorf("GetLevel() = %v, want %v", logger.GetLevel(), tc.want)
			}
		})
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.log")

	logger := newLogger(config.LoggingConfig{
		Level:      "info",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	}, false)
	logger.Info().Msg("rotated file sink")

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}
