package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/internal/mission"
)

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Manage the mission tree",
}

var missionParentID string

var missionCreateCmd = &cobra.Command{
	Use:   "create <objective>",
	Short: "Create a mission (optionally as a child of another)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := mission.Open(mission.DefaultPath())
		if err != nil {
			return err
		}
		defer store.Close()

		m, err := store.Create(strings.Join(args, " "), missionParentID)
		if err != nil {
			return err
		}
		color.Green("Created mission %s", m.ID)
		if !m.IsRoot() {
			fmt.Printf("  parent %s, depth %d\n", m.ParentID, m.Depth)
		}
		return nil
	},
}

var (
	missionListStatus string
	missionListLimit  int
)

var missionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List missions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := mission.Open(mission.DefaultPath())
		if err != nil {
			return err
		}
		defer store.Close()

		var filter *mission.Status
		if missionListStatus != "" {
			s := mission.Status(missionListStatus)
			filter = &s
		}
		missions, err := store.List(filter, missionListLimit)
		if err != nil {
			return err
		}
		if len(missions) == 0 {
			fmt.Println("No missions.")
			return nil
		}
		for _, m := range missions {
			printMissionLine(m)
		}
		return nil
	},
}

var missionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one mission with its lineage and children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := mission.Open(mission.DefaultPath())
		if err != nil {
			return err
		}
		defer store.Close()

		m, err := store.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Mission:   %s\n", m.ID)
		fmt.Printf("Objective: %s\n", m.Objective)
		fmt.Printf("Status:    %s\n", statusColor(m.Status).Sprint(m.Status))
		fmt.Printf("Errors:    %d", m.ErrorCount)
		if m.LastError != "" {
			fmt.Printf(" (last: %s)", m.LastError)
		}
		fmt.Println()
		fmt.Printf("Updated:   %s\n", m.UpdatedAt.Format("2006-01-02 15:04:05"))

		if !m.IsRoot() {
			lineage, err := store.Lineage(m.ID)
			if err != nil {
				return err
			}
			fmt.Println("\nLineage:")
			for i, ancestor := range lineage {
				fmt.Printf("  %s%s  %s\n", strings.Repeat("  ", i), ancestor.ID, ancestor.Objective)
			}
		}

		children, err := store.Children(m.ID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			fmt.Println("\nChildren:")
			for _, c := range children {
				fmt.Print("  ")
				printMissionLine(c)
			}
		}
		return nil
	},
}

var missionPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a mission so the daemon skips it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setMissionStatus(args[0], mission.StatusPaused)
	},
}

var missionResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused mission and reset its failure budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := mission.Open(mission.DefaultPath())
		if err != nil {
			return err
		}
		defer store.Close()

		// Resuming without clearing the budget would re-pause on the
		// next failure; a resume is an operator's vote of confidence.
		status := mission.StatusActive
		zero := 0
		empty := ""
		if err := store.Apply(args[0], mission.Update{
			Status:     &status,
			ErrorCount: &zero,
			LastError:  &empty,
		}); err != nil {
			return err
		}
		color.Green("Mission %s resumed", args[0])
		return nil
	},
}

var missionCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark a mission completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setMissionStatus(args[0], mission.StatusCompleted)
	},
}

func setMissionStatus(id string, status mission.Status) error {
	store, err := mission.Open(mission.DefaultPath())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Apply(id, mission.Update{Status: &status}); err != nil {
		return err
	}
	color.Green("Mission %s is now %s", id, status)
	return nil
}

func printMissionLine(m *mission.Mission) {
	fmt.Printf("%s  %-9s  %s\n", m.ID, statusColor(m.Status).Sprint(m.Status), clipObjective(m.Objective, 60))
}

// clipObjective shortens an objective for one-line listings, cutting on a
// rune boundary.
func clipObjective(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func statusColor(s mission.Status) *color.Color {
	switch s {
	case mission.StatusActive:
		return color.New(color.FgGreen)
	case mission.StatusPaused:
		return color.New(color.FgYellow)
	case mission.StatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}

func init() {
	missionCreateCmd.Flags().StringVar(&missionParentID, "parent", "", "parent mission id")
	missionListCmd.Flags().StringVar(&missionListStatus, "status", "", "filter by status")
	missionListCmd.Flags().IntVar(&missionListLimit, "limit", 20, "maximum missions to show")

	missionCmd.AddCommand(missionCreateCmd)
	missionCmd.AddCommand(missionListCmd)
	missionCmd.AddCommand(missionShowCmd)
	missionCmd.AddCommand(missionPauseCmd)
	missionCmd.AddCommand(missionResumeCmd)
	missionCmd.AddCommand(missionCompleteCmd)
}
