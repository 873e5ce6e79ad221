package graph

import (
	"context"
	"strings"
	"time"

	"roadtest/internal/config"
	"roadtest/internal/logging"
)

// Node names. Transitions are resolved by the guard table in route.
const (
	nodeCheckResume    = "check_resume"
	nodeDetectMode     = "detect_mode"
	nodeRAGRetrieval   = "rag_retrieval"
	nodeCheckLearned   = "check_learned"
	nodeParseIntent    = "parse_intent"
	nodeCaptureScreen  = "capture_screen"
	nodeAnalyze        = "analyze"
	nodePlanAction     = "plan_action"
	nodeDirectExecute  = "direct_execute"
	nodeExecute        = "execute"
	nodeVerify         = "verify"
	nodeIncrementRetry = "increment_retry"
	nodeWaitHuman      = "wait_human"
	nodeApplyGuidance  = "apply_guidance"
	nodeAdvance        = "advance"
	nodeSaveLearned    = "save_learned"
	nodeLogResults     = "log_results"
	nodeEnd            = "END"
)

// Engine runs a State through the node graph. One Engine may serve many
// sequential invocations; all per-run data lives in the State.
type Engine struct {
	deps Deps

	maxTransitions int
	settleDelay    time.Duration
}

func NewEngine(cfg *config.Config, deps Deps) *Engine {
	return &Engine{
		deps:           deps,
		maxTransitions: cfg.Execution.MaxTransitions,
		settleDelay:    cfg.Verify.SettleDelay,
	}
}

// Invoke drives the state from check_resume until END or suspension. It is
// called once per run, and once more per guidance delivery. The state's
// Status tells the caller what happened.
func (e *Engine) Invoke(ctx context.Context, s *State) {
	log := logging.Get(logging.CategoryGraph)

	node := nodeCheckResume
	for i := 0; i < e.maxTransitions; i++ {
		if node == nodeEnd {
			return
		}
		// The single cooperative checkpoint: stop and pause are only ever
		// observed here and inside device primitives.
		if !e.deps.Control.CheckAndWait() {
			s.Status = StatusStopped
			s.ShouldContinue = false
			s.logf("stop requested, halting at %s", node)
			e.nodeLogResults(ctx, s)
			return
		}

		log.Debugw("node", "name", node, "step", s.CurrentStep, "retries", s.RetryCount)
		next := e.run(ctx, s, node)
		log.Debugw("transition", "from", node, "to", next)
		node = next
	}

	s.errorf("transition budget exhausted after %d nodes", e.maxTransitions)
	s.Status = StatusFailure
	e.nodeLogResults(ctx, s)
}

// run executes one node and applies its outgoing guard.
func (e *Engine) run(ctx context.Context, s *State, node string) string {
	switch node {
	case nodeCheckResume:
		// should_resume_from_hitl
		if s.WaitingForHITL && s.GuidancePending() && !s.HITLApplied {
			return nodeApplyGuidance
		}
		return nodeDetectMode

	case nodeDetectMode:
		e.nodeDetectMode(ctx, s)
		// route_by_mode
		switch s.Mode {
		case ModeTest:
			return nodeRAGRetrieval
		case ModeStandalone:
			return nodeParseIntent
		default:
			s.Status = StatusIdle
			return nodeEnd
		}

	case nodeRAGRetrieval:
		e.nodeRAGRetrieval(ctx, s)
		if len(s.Steps) == 0 {
			s.Status = StatusFailure
			return nodeLogResults
		}
		return nodeCheckLearned

	case nodeParseIntent:
		e.nodeParseIntent(ctx, s)
		if len(s.Steps) == 0 {
			s.Status = StatusFailure
			return nodeLogResults
		}
		return nodeCheckLearned

	case nodeCheckLearned:
		e.nodeCheckLearned(s)
		// should_use_learned
		if s.HasLearnedSolution && s.UseLearned {
			return nodeDirectExecute
		}
		return nodeCaptureScreen

	case nodeCaptureScreen:
		e.nodeCaptureScreen(ctx, s)
		return nodeAnalyze

	case nodeAnalyze:
		e.nodeAnalyze(ctx, s)
		return nodePlanAction

	case nodePlanAction:
		e.nodePlanAction(ctx, s)
		// route_from_planning
		if lastErrorContains(s, "no goal") {
			return nodeWaitHuman
		}
		if s.ActionKind.DirectKey() {
			return nodeDirectExecute
		}
		return nodeExecute

	case nodeDirectExecute:
		e.nodeDirectExecute(ctx, s)
		if s.fellBack {
			s.fellBack = false
			return nodeCaptureScreen
		}
		// route_after_execution
		if s.ActionSuccess {
			return nodeVerify
		}
		return nodeIncrementRetry

	case nodeExecute:
		e.nodeExecute(ctx, s)
		// route_after_execution
		if s.ActionSuccess {
			return nodeVerify
		}
		return nodeIncrementRetry

	case nodeVerify:
		e.nodeVerify(ctx, s)
		// route_after_verification
		if s.VerificationResult != nil && s.VerificationResult.OverallPassed {
			return nodeAdvance
		}
		return nodeIncrementRetry

	case nodeIncrementRetry:
		e.nodeIncrementRetry(s)
		// should_retry
		if s.RetryCount < s.MaxRetries {
			return nodeCaptureScreen
		}
		return nodeWaitHuman

	case nodeWaitHuman:
		e.nodeWaitHuman(s)
		// route_hitl_ready
		if s.GuidancePending() {
			return nodeApplyGuidance
		}
		return nodeEnd

	case nodeApplyGuidance:
		e.nodeApplyGuidance(ctx, s)
		return nodeExecute

	case nodeAdvance:
		e.nodeAdvance(s)
		// route_after_advance
		if s.CurrentStep >= s.TotalSteps {
			return nodeSaveLearned
		}
		if s.HasLearnedSolution && s.UseLearned {
			return nodeDirectExecute
		}
		return nodeCaptureScreen

	case nodeSaveLearned:
		e.nodeSaveLearned(s)
		return nodeLogResults

	case nodeLogResults:
		e.nodeLogResults(ctx, s)
		return nodeEnd
	}

	s.errorf("unknown node %q", node)
	s.Status = StatusFailure
	return nodeLogResults
}

func lastErrorContains(s *State, substr string) bool {
	if len(s.Errors) == 0 {
		return false
	}
	return strings.Contains(s.Errors[len(s.Errors)-1], substr)
}
