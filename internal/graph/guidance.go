package graph

import (
	"context"
	"regexp"
	"strconv"

	"roadtest/internal/types"
)

// Operators phrase coordinates loosely; accept the common shapes before
// spending a model call.
var coordPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:click|tap)\s+at\s+(\d+)\s*,\s*(\d+)`),
	regexp.MustCompile(`\(\s*(\d+)\s*,\s*(\d+)\s*\)`),
	regexp.MustCompile(`(?i)x\s*=\s*(\d+)\D+y\s*=\s*(\d+)`),
}

func parseGuidanceCoordinate(text string) *types.Coordinate {
	for _, re := range coordPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		x, err1 := strconv.Atoi(m[1])
		y, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		return &types.Coordinate{X: x, Y: y, Source: types.SourceHuman, Confidence: 100}
	}
	return nil
}

// nodeApplyGuidance turns parked operator input into a concrete next
// action. The outgoing edge is always execute.
func (e *Engine) nodeApplyGuidance(ctx context.Context, s *State) {
	guidance := s.HITLGuidance
	coord := s.HITLCoordinate
	kind := s.HITLActionKind

	failedGoal := ""
	if s.FailedStep >= 0 && s.FailedStep < len(s.Steps) {
		failedGoal = s.Steps[s.FailedStep].Goal
	}

	s.Status = StatusRunning
	s.WaitingForHITL = false
	defer func() {
		s.HITLApplied = true
		s.HITLGuidance = ""
		s.HITLCoordinate = nil
		s.HITLActionKind = ""
		s.HITLProblem = ""
	}()

	switch {
	case coord != nil:
		human := *coord
		human.Source = types.SourceHuman
		s.TargetCoordinate = &human
		if kind == "" {
			kind = types.ActionTap
		}
		s.ActionKind = kind
		s.PlannedAction = "operator coordinate " + human.String()
		s.logf("guidance: %s at %s", kind, human.String())

	case parseGuidanceCoordinate(guidance) != nil:
		s.TargetCoordinate = parseGuidanceCoordinate(guidance)
		if kind == "" {
			kind = types.ActionTap
		}
		s.ActionKind = kind
		s.PlannedAction = "operator text coordinate " + s.TargetCoordinate.String()
		s.logf("guidance parsed from text: %s at %s", kind, s.TargetCoordinate.String())

	default:
		e.interpretGuidance(ctx, s, guidance, failedGoal)
	}

	if s.ReferenceName == "" && failedGoal != "" {
		s.ReferenceName = e.referenceName(ctx, s, failedGoal)
	}
	// A fresh before-shot so verification compares against the screen the
	// operator was actually looking at.
	if shot, _, _, err := e.deps.Device.Screenshot(ctx); err == nil {
		s.BeforeShot = shot
	}
}

func (e *Engine) interpretGuidance(ctx context.Context, s *State, guidance, failedGoal string) {
	if e.deps.Oracle == nil {
		s.ActionKind = types.ActionTap
		s.TargetName = guidance
		s.TargetCoordinate = e.resolve(ctx, s, guidance)
		return
	}

	g, err := e.deps.Oracle.InterpretGuidance(ctx, guidance, failedGoal)
	if err != nil {
		s.logf("guidance interpretation failed: %v", err)
		s.ActionKind = types.ActionTap
		s.TargetName = guidance
		s.TargetCoordinate = e.resolve(ctx, s, guidance)
		return
	}

	kind, ok := actionKindFrom(g.ActionType)
	if !ok {
		kind = types.ActionTap
	}
	s.ActionKind = kind
	s.TargetName = g.TargetElement

	if !kind.DirectKey() && needsCoordinate(kind) {
		if shot, _, _, err := e.deps.Device.Screenshot(ctx); err == nil {
			s.BeforeShot = shot
		}
		s.TargetCoordinate = e.resolve(ctx, s, g.TargetElement)
	}

	if g.ThenRetry {
		// The guidance is remedial: run it, then re-attempt the failed
		// step with a clean retry budget.
		s.CurrentStep = s.FailedStep
		s.HITLRetryPending = true
		s.RetryCount = 0
		s.logf("remedial guidance: %s %q, then retry step %d", kind, g.TargetElement, s.FailedStep+1)
	} else {
		s.logf("guidance: %s %q", kind, g.TargetElement)
	}
}
