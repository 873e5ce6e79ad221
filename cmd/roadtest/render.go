package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"roadtest/internal/agent"
	"roadtest/internal/types"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// printRunResult renders the per-step table and totals after a run.
func printRunResult(a *app, res agent.RunResult) {
	fmt.Println()
	fmt.Println(titleStyle.Render(fmt.Sprintf("Run %s", res.RunID)))

	run, err := a.recorder.GetRun(res.RunID)
	if err == nil && run != nil && len(run.Steps) > 0 {
		printStepTable(run.Steps)
		fmt.Println()
		fmt.Printf("  average SSIM %.3f, %dms total\n", run.AverageSSIM, run.DurationMs)
	}

	line := fmt.Sprintf("status=%s steps=%d/%d", res.Status, res.StepsCompleted, res.TotalSteps)
	if res.Success {
		fmt.Println(passStyle.Render("PASS  " + line))
	} else {
		fmt.Println(failStyle.Render("FAIL  " + line))
	}
	for _, e := range res.Errors {
		fmt.Println(dimStyle.Render("  " + e))
	}
}

func printStepTable(steps []types.StepRecord) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("  %-4s %-34s %-12s %-8s %-8s", "#", "goal", "action", "ssim", "status")))
	for _, s := range steps {
		goal := s.Goal
		if len(goal) > 32 {
			goal = goal[:31] + "…"
		}
		row := fmt.Sprintf("  %-4d %-34s %-12s %-8.3f %-8s", s.StepIndex+1, goal, s.Action, s.SSIMScore, s.Status)
		switch s.Status {
		case "passed":
			fmt.Println(passStyle.Render(row))
		case "failed":
			fmt.Println(failStyle.Render(row))
		default:
			fmt.Println(dimStyle.Render(row))
		}
	}
}
