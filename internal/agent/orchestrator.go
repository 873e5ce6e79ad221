// Package agent is the public façade over the step graph. It owns the one
// in-flight run, enforces single-run exclusivity, and carries human
// guidance back into a suspended run.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"roadtest/internal/config"
	"roadtest/internal/control"
	"roadtest/internal/graph"
	"roadtest/internal/logging"
	"roadtest/internal/types"
)

var (
	// ErrRunInProgress means another run held the device past the wait
	// window.
	ErrRunInProgress = errors.New("agent: another run is in progress")

	// ErrNotWaiting means guidance arrived but no run is suspended on it.
	ErrNotWaiting = errors.New("agent: no run is waiting for guidance")

	// ErrGuidancePending means earlier guidance has not been consumed yet.
	ErrGuidancePending = errors.New("agent: guidance already pending")
)

// RunResult is the caller-facing summary of one graph invocation.
type RunResult struct {
	Success        bool     `json:"success"`
	Status         string   `json:"status"`
	StepsCompleted int      `json:"steps_completed"`
	TotalSteps     int      `json:"total_steps"`
	RunID          string   `json:"run_id"`
	Errors         []string `json:"errors,omitempty"`
}

// StatusReport is the live run snapshot for get_status.
type StatusReport struct {
	Active         bool   `json:"active"`
	Paused         bool   `json:"paused"`
	RunID          string `json:"run_id,omitempty"`
	TestID         string `json:"test_id,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Status         string `json:"status"`
	CurrentStep    int    `json:"current_step"`
	TotalSteps     int    `json:"total_steps"`
	WaitingForHITL bool   `json:"waiting_for_hitl"`
	Problem        string `json:"problem,omitempty"`
}

// Orchestrator wires initial states into the engine and retains the state
// between HITL suspensions. One run at a time; a second caller waits up to
// Execution.RunWait before being turned away.
type Orchestrator struct {
	engine *graph.Engine
	ctrl   *control.Controller
	cfg    *config.Config
	sem    *semaphore.Weighted

	mu    sync.Mutex
	state *graph.State
	snap  StatusReport
}

func New(cfg *config.Config, engine *graph.Engine, ctrl *control.Controller) *Orchestrator {
	return &Orchestrator{
		engine: engine,
		ctrl:   ctrl,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(1),
	}
}

// RunTest executes a stored test case. Batch ids are rejected; callers loop
// themselves.
func (o *Orchestrator) RunTest(ctx context.Context, testID string, useLearned bool, maxRetries int) (RunResult, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return RunResult{}, fmt.Errorf("agent: empty test id")
	}
	if strings.ContainsAny(testID, ",;") {
		return RunResult{}, fmt.Errorf("agent: %q looks like multiple test ids, run them one at a time", testID)
	}

	if err := o.acquire(ctx); err != nil {
		return RunResult{}, err
	}
	state := graph.NewTestState(uuid.NewString(), testID, useLearned, o.retries(maxRetries))
	return o.drive(ctx, state), nil
}

// ExecuteCommand runs a free-text command in standalone mode.
func (o *Orchestrator) ExecuteCommand(ctx context.Context, command string, maxRetries int) (RunResult, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return RunResult{}, fmt.Errorf("agent: empty command")
	}

	if err := o.acquire(ctx); err != nil {
		return RunResult{}, err
	}
	state := graph.NewCommandState(uuid.NewString(), command, o.retries(maxRetries))
	return o.drive(ctx, state), nil
}

// SendGuidance delivers operator input to a suspended run and re-invokes
// the graph. At most one guidance payload may be outstanding.
func (o *Orchestrator) SendGuidance(ctx context.Context, text string, coord *types.Coordinate, kind types.ActionKind) (RunResult, error) {
	o.mu.Lock()
	state := o.state
	if state == nil || !state.WaitingForHITL {
		o.mu.Unlock()
		return RunResult{}, ErrNotWaiting
	}
	if state.GuidancePending() && !state.HITLApplied {
		o.mu.Unlock()
		return RunResult{}, ErrGuidancePending
	}
	state.HITLGuidance = text
	state.HITLCoordinate = coord
	state.HITLActionKind = kind
	state.HITLApplied = false
	o.mu.Unlock()

	logging.Get(logging.CategoryAgent).Infow("guidance received",
		"run_id", state.RunID, "has_coordinate", coord != nil)
	return o.resume(ctx, state), nil
}

// Stop requests cancellation; the run observes it at its next checkpoint.
func (o *Orchestrator) Stop() { o.ctrl.Stop() }

// Pause suspends the run at its next checkpoint.
func (o *Orchestrator) Pause() { o.ctrl.Pause() }

// Resume releases a paused run.
func (o *Orchestrator) Resume() { o.ctrl.Resume() }

// Reset drops the retained state. An active run is stopped first; a run
// suspended on guidance is abandoned.
func (o *Orchestrator) Reset() {
	o.ctrl.Stop()
	o.ctrl.Finish()

	o.mu.Lock()
	waiting := o.state != nil && o.state.WaitingForHITL
	o.state = nil
	o.snap = StatusReport{}
	o.mu.Unlock()

	// A suspended run still holds the run permit; give it back.
	if waiting {
		o.sem.Release(1)
	}
	logging.Get(logging.CategoryAgent).Infow("orchestrator reset")
}

// Status reports the retained run, or an idle snapshot. The report is the
// last coherent snapshot, taken at run start and at every suspension or
// terminal point; the graph's in-flight state is never read while a node
// may be writing it, so concurrent pollers are safe.
func (o *Orchestrator) Status() StatusReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == nil {
		return StatusReport{
			Active: o.ctrl.Active(),
			Paused: o.ctrl.Paused(),
			Status: string(graph.StatusIdle),
		}
	}
	report := o.snap
	report.Active = o.ctrl.Active()
	report.Paused = o.ctrl.Paused()
	return report
}

// snapshotOf copies the node-visible state fields into a report. Callers
// must know the graph is not mutating state (before Invoke or after it
// returns).
func snapshotOf(state *graph.State) StatusReport {
	return StatusReport{
		RunID:          state.RunID,
		TestID:         state.TestID,
		Mode:           string(state.Mode),
		Status:         string(state.Status),
		CurrentStep:    state.CurrentStep,
		TotalSteps:     state.TotalSteps,
		WaitingForHITL: state.WaitingForHITL,
		Problem:        state.HITLProblem,
	}
}

// =============================================================================
// INTERNALS
// =============================================================================

func (o *Orchestrator) acquire(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, o.cfg.Execution.RunWait)
	defer cancel()
	if err := o.sem.Acquire(wctx, 1); err != nil {
		// The caller giving up is not a device conflict.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRunInProgress
	}
	return nil
}

func (o *Orchestrator) retries(maxRetries int) int {
	if maxRetries > 0 {
		return maxRetries
	}
	return o.cfg.Execution.MaxRetries
}

// drive runs a fresh state to completion or suspension. The run permit is
// released on terminal states and kept while suspended on guidance.
func (o *Orchestrator) drive(ctx context.Context, state *graph.State) RunResult {
	log := logging.Get(logging.CategoryAgent)
	o.mu.Lock()
	o.state = state
	o.snap = snapshotOf(state)
	o.mu.Unlock()

	o.ctrl.Start()
	log.Infow("run started",
		"run_id", state.RunID, "mode", state.Mode, "test_id", state.TestID)

	o.engine.Invoke(ctx, state)
	return o.settle(state)
}

// resume re-enters a suspended run with guidance applied.
func (o *Orchestrator) resume(ctx context.Context, state *graph.State) RunResult {
	o.engine.Invoke(ctx, state)
	return o.settle(state)
}

func (o *Orchestrator) settle(state *graph.State) RunResult {
	log := logging.Get(logging.CategoryAgent)

	o.mu.Lock()
	o.snap = snapshotOf(state)
	o.mu.Unlock()

	if state.Status.Terminal() {
		o.ctrl.Finish()
		o.sem.Release(1)
		log.Infow("run finished",
			"run_id", state.RunID,
			"status", state.Status,
			"steps", fmt.Sprintf("%d/%d", state.CurrentStep, state.TotalSteps))
	} else {
		log.Infow("run suspended",
			"run_id", state.RunID, "status", state.Status, "problem", state.HITLProblem)
	}

	return RunResult{
		Success:        state.Status == graph.StatusSuccess,
		Status:         string(state.Status),
		StepsCompleted: state.CurrentStep,
		TotalSteps:     state.TotalSteps,
		RunID:          state.RunID,
		Errors:         state.Errors,
	}
}
