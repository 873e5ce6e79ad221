package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"roadtest/internal/agent"
	"roadtest/internal/graph"
)

var (
	flagNoLearned  bool
	flagMaxRetries int
)

var runCmd = &cobra.Command{
	Use:   "run <test-id>",
	Short: "Execute a stored test case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orch.RunTest(cmd.Context(), args[0], !flagNoLearned, flagMaxRetries)
		if err != nil {
			return err
		}
		res, err = guidanceLoop(cmd.Context(), a.orch, res)
		if err != nil {
			return err
		}
		printRunResult(a, res)
		if !res.Success {
			return fmt.Errorf("run %s ended with status %s", res.RunID, res.Status)
		}
		return nil
	},
}

var execCmd = &cobra.Command{
	Use:   "exec \"<command>\"",
	Short: "Execute a free-text command against the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orch.ExecuteCommand(cmd.Context(), args[0], flagMaxRetries)
		if err != nil {
			return err
		}
		res, err = guidanceLoop(cmd.Context(), a.orch, res)
		if err != nil {
			return err
		}
		printRunResult(a, res)
		if !res.Success {
			return fmt.Errorf("run %s ended with status %s", res.RunID, res.Status)
		}
		return nil
	},
}

// guidanceLoop prompts the operator whenever the run suspends on HITL.
// Input is free text, optionally carrying a coordinate ("tap at 850,450");
// an empty line or "stop" abandons the run.
func guidanceLoop(ctx context.Context, orch *agent.Orchestrator, res agent.RunResult) (agent.RunResult, error) {
	scanner := bufio.NewScanner(os.Stdin)
	for res.Status == string(graph.StatusWaitingHITL) {
		status := orch.Status()
		fmt.Printf("\nStep %d needs help: %s\n", status.CurrentStep+1, status.Problem)
		fmt.Print("guidance (or 'stop'): ")
		if !scanner.Scan() {
			orch.Reset()
			return res, scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.EqualFold(text, "stop") {
			orch.Reset()
			res.Status = string(graph.StatusStopped)
			return res, nil
		}

		next, err := orch.SendGuidance(ctx, text, nil, "")
		if err != nil {
			fmt.Println("guidance rejected:", err)
			continue
		}
		res = next
	}
	return res, nil
}

func init() {
	for _, c := range []*cobra.Command{runCmd, execCmd} {
		c.Flags().BoolVar(&flagNoLearned, "no-learned", false, "ignore any learned solution")
		c.Flags().IntVar(&flagMaxRetries, "max-retries", 0, "per-step retry budget (0 uses the config default)")
	}
	rootCmd.AddCommand(runCmd, execCmd)
}
