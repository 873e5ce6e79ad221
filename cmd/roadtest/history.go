package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.recorder.List(flagHistoryLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no runs recorded yet")
			return nil
		}
		fmt.Println(headerStyle.Render(fmt.Sprintf("  %-38s %-14s %-10s %-12s %-7s %s", "run", "test", "status", "started", "steps", "duration")))
		for _, e := range entries {
			test := e.TestID
			if test == "" {
				test = "(" + e.Mode + ")"
			}
			row := fmt.Sprintf("  %-38s %-14s %-10s %-12s %-7s %dms",
				e.RunID, test, e.Status,
				e.StartedAt.Format("01-02 15:04"),
				fmt.Sprintf("%d/%d", e.StepsPassed, e.TotalSteps),
				e.DurationMs)
			switch e.Status {
			case "success":
				fmt.Println(passStyle.Render(row))
			case "failure":
				fmt.Println(failStyle.Render(row))
			default:
				fmt.Println(dimStyle.Render(row))
			}
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full step log of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.recorder.GetRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("no run %s", args[0])
		}

		fmt.Println(titleStyle.Render(fmt.Sprintf("Run %s", run.RunID)))
		if run.TestID != "" {
			fmt.Printf("  test %s, mode %s\n", run.TestID, run.Mode)
		} else {
			fmt.Printf("  mode %s\n", run.Mode)
		}
		fmt.Printf("  status %s, %d/%d passed, average SSIM %.3f, %dms\n",
			run.Status, run.StepsPassed, run.TotalSteps, run.AverageSSIM, run.DurationMs)
		if len(run.Steps) > 0 {
			fmt.Println()
			printStepTable(run.Steps)
		}
		for _, e := range run.Errors {
			fmt.Println(dimStyle.Render("  " + e))
		}
		return nil
	},
}

func init() {
	historyListCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "maximum runs to list")
	historyCmd.AddCommand(historyListCmd, historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}
