// Package graph implements the step state machine: a directed graph of
// nodes with guarded transitions driving the plan/execute/verify/retry loop
// for each step and the outer step iteration. Nodes never return errors;
// they write into the state and guards route on what they find.
package graph

import (
	"fmt"
	"time"

	"roadtest/internal/types"
)

// Mode distinguishes how the run was started.
type Mode string

const (
	ModeTest       Mode = "test"       // a stored test case drives the steps
	ModeStandalone Mode = "standalone" // a free-text command, split by the model
	ModeIdle       Mode = "idle"
)

// Status is the run lifecycle state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusWaitingHITL Status = "waiting_hitl"
	StatusSuccess     Status = "success"
	StatusFailure     Status = "failure"
	StatusIncomplete  Status = "incomplete"
	StatusStopped     Status = "stopped"
)

// Terminal reports whether no further graph invocation can change s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusIncomplete, StatusStopped:
		return true
	}
	return false
}

// State is the travelling value passed between nodes. It is exclusively
// owned by the active run; only the orchestrator and the current node touch
// it. Screenshot bytes live here rather than on disk so retries do not
// re-read files.
type State struct {
	// Mode and lifecycle.
	Mode           Mode   `json:"mode"`
	Status         Status `json:"status"`
	ShouldContinue bool   `json:"should_continue"`

	// Test identity.
	RunID       string       `json:"run_id"`
	TestID      string       `json:"test_id,omitempty"`
	Command     string       `json:"command,omitempty"` // standalone free text
	Description string       `json:"description,omitempty"`
	Steps       []types.Step `json:"steps,omitempty"`
	CurrentStep int          `json:"current_step"` // 0-based
	TotalSteps  int          `json:"total_steps"`

	// Device.
	DeviceID     string `json:"device_id,omitempty"`
	ScreenWidth  int    `json:"screen_width,omitempty"`
	ScreenHeight int    `json:"screen_height,omitempty"`

	// Replay.
	HasLearnedSolution bool                   `json:"has_learned_solution"`
	LearnedSolution    *types.LearnedSolution `json:"-"`
	UseLearned         bool                   `json:"use_learned"`

	// Perception.
	BeforeShot       []byte             `json:"-"`
	AfterShot        []byte             `json:"-"`
	ScreenAnalysis   string             `json:"screen_analysis,omitempty"`
	DetectedElements []types.TextRegion `json:"-"`

	// Planning.
	PlannedAction    string            `json:"planned_action,omitempty"`
	ActionKind       types.ActionKind  `json:"action_kind,omitempty"`
	TargetName       string            `json:"target_name,omitempty"`
	TargetCoordinate *types.Coordinate `json:"target_coordinate,omitempty"`
	ActionText       string            `json:"action_text,omitempty"` // input_text payload
	SwipeDirection   string            `json:"swipe_direction,omitempty"`
	KeyCode          int               `json:"key_code,omitempty"`
	ReferenceName    string            `json:"reference_name,omitempty"`

	// Outcome.
	LastActionResult   string                    `json:"last_action_result,omitempty"`
	ActionSuccess      bool                      `json:"action_success"`
	VerificationResult *types.VerificationResult `json:"verification_result,omitempty"`
	RetryCount         int                       `json:"retry_count"`
	MaxRetries         int                       `json:"max_retries"`
	ExecutedSteps      []types.LearnedStep       `json:"executed_steps,omitempty"`

	// Human in the loop.
	WaitingForHITL   bool              `json:"waiting_for_hitl"`
	HITLProblem      string            `json:"hitl_problem,omitempty"`
	HITLGuidance     string            `json:"hitl_guidance,omitempty"`
	HITLCoordinate   *types.Coordinate `json:"hitl_coordinate,omitempty"`
	HITLActionKind   types.ActionKind  `json:"hitl_action_kind,omitempty"`
	HITLApplied      bool              `json:"hitl_applied"`
	HITLRetryPending bool              `json:"hitl_retry_pending"`
	FailedStep       int               `json:"failed_step"`

	// Trail.
	ExecutionLog []string           `json:"execution_log,omitempty"`
	Errors       []string           `json:"errors,omitempty"`
	StepRecords  []types.StepRecord `json:"-"`
	StartedAt    time.Time          `json:"started_at"`

	stepStartedAt time.Time
	ragDone       bool
	fellBack      bool // direct_execute declined this step
}

// NewTestState seeds a state for a stored test case run.
func NewTestState(runID, testID string, useLearned bool, maxRetries int) *State {
	return &State{
		Mode:           ModeTest,
		Status:         StatusIdle,
		ShouldContinue: true,
		RunID:          runID,
		TestID:         testID,
		UseLearned:     useLearned,
		MaxRetries:     maxRetries,
		StartedAt:      time.Now(),
	}
}

// NewCommandState seeds a state for a standalone free-text command.
func NewCommandState(runID, command string, maxRetries int) *State {
	return &State{
		Mode:           ModeStandalone,
		Status:         StatusIdle,
		ShouldContinue: true,
		RunID:          runID,
		Command:        command,
		MaxRetries:     maxRetries,
		StartedAt:      time.Now(),
	}
}

// CurrentGoal returns the goal text of the step in flight, or "".
func (s *State) CurrentGoal() string {
	if s.CurrentStep < 0 || s.CurrentStep >= len(s.Steps) {
		return ""
	}
	return s.Steps[s.CurrentStep].Goal
}

func (s *State) logf(format string, args ...any) {
	s.ExecutionLog = append(s.ExecutionLog, fmt.Sprintf(format, args...))
}

func (s *State) errorf(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// clearStepLocal resets everything scoped to a single step attempt.
func (s *State) clearStepLocal() {
	s.PlannedAction = ""
	s.ActionKind = ""
	s.TargetName = ""
	s.TargetCoordinate = nil
	s.ActionText = ""
	s.SwipeDirection = ""
	s.KeyCode = 0
	s.ReferenceName = ""
	s.LastActionResult = ""
	s.ActionSuccess = false
	s.VerificationResult = nil
	s.RetryCount = 0
	s.BeforeShot = nil
	s.AfterShot = nil
	s.ScreenAnalysis = ""
	s.DetectedElements = nil
	s.clearHITL()
}

func (s *State) clearHITL() {
	s.WaitingForHITL = false
	s.HITLProblem = ""
	s.HITLGuidance = ""
	s.HITLCoordinate = nil
	s.HITLActionKind = ""
	s.HITLApplied = false
}

// GuidancePending reports whether operator input is parked on the state.
func (s *State) GuidancePending() bool {
	return s.HITLGuidance != "" || s.HITLCoordinate != nil
}
