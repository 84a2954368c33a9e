package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/internal/agent"
)

var runMaxIterations int

var runCmd = &cobra.Command{
	Use:   "run <objective>",
	Short: "Run one objective to completion in the current directory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		objective := strings.Join(args, " ")

		workDir, err := os.Getwd()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(workDir)
		if err != nil {
			return err
		}
		if runMaxIterations > 0 {
			cfg.Loop.MaxIterations = runMaxIterations
		}

		res, err := rt.newLoop("").Run(cmd.Context(), objective)
		if err != nil {
			return err
		}

		printResult(res)
		in, out := rt.router.Tracker().Total()
		color.New(color.Faint).Printf("\n%d iterations, %d tool calls, %d in / %d out tokens\n",
			res.Iterations, res.ToolCalls, in, out)
		return nil
	},
}

func printResult(res *agent.Result) {
	switch {
	case res.Signal.Kind == agent.SignalClarification:
		color.Yellow("Needs clarification:")
	case res.Signal.Kind == agent.SignalCapabilityForge:
		color.Yellow("Requested a new capability:")
	case res.Reason == agent.StopInterrupt:
		color.Red("Interrupted:")
	case res.Reason == agent.StopExhausted:
		color.Red("Iteration budget exhausted:")
	default:
		color.Green("Done:")
	}
	fmt.Println(res.FinalText)
}

func init() {
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "override the iteration budget")
}
