package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/internal/config"
)

var initProject bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if initProject {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			path = filepath.Join(cwd, ".warden", "config.yaml")
		}

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}

		out, err := config.DefaultConfigYAML()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, out, 0644); err != nil {
			return err
		}

		color.Green("Wrote %s", path)
		fmt.Println("Set ANTHROPIC_API_KEY (or edit the providers section) to get started.")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initProject, "project", false, "write .warden/config.yaml in the current directory instead")
}
