// Package types provides shared type definitions used across roadtest packages.
// This package exists to break import cycles between the graph, the knowledge
// store, and the perception layers. Types here are foundational data
// structures with no complex dependencies.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// ACTIONS
// =============================================================================

// ActionKind identifies a device primitive.
type ActionKind string

const (
	ActionTap        ActionKind = "tap"
	ActionDoubleTap  ActionKind = "double_tap"
	ActionLongPress  ActionKind = "long_press"
	ActionSwipe      ActionKind = "swipe"
	ActionInputText  ActionKind = "input_text"
	ActionPressHome  ActionKind = "press_home"
	ActionPressBack  ActionKind = "press_back"
	ActionPressEnter ActionKind = "press_enter"
	ActionPressKey   ActionKind = "press_key"
)

// DirectKey reports whether the action is a hardware-key shortcut that needs
// no coordinate and no vision pass.
func (k ActionKind) DirectKey() bool {
	switch k {
	case ActionPressHome, ActionPressBack, ActionPressEnter:
		return true
	}
	return false
}

// Valid reports whether k is one of the known action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionTap, ActionDoubleTap, ActionLongPress, ActionSwipe,
		ActionInputText, ActionPressHome, ActionPressBack, ActionPressEnter,
		ActionPressKey:
		return true
	}
	return false
}

// CoordinateSource records where a resolved coordinate came from.
type CoordinateSource string

const (
	SourceDeviceProfile CoordinateSource = "device_profile"
	SourceOCR           CoordinateSource = "ocr"
	SourceGrid          CoordinateSource = "grid"
	SourceModel         CoordinateSource = "model"
	SourceLearned       CoordinateSource = "learned"
	SourceHuman         CoordinateSource = "human"
)

// Coordinate is a screen point tagged with its provenance.
type Coordinate struct {
	X          int              `json:"x"`
	Y          int              `json:"y"`
	Source     CoordinateSource `json:"source,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%d, %d)", c.X, c.Y)
}

// =============================================================================
// TEST CASES
// =============================================================================

// Step is a single natural-language goal within a test case. A Step is data,
// not behaviour; executing it produces a StepRecord.
type Step struct {
	Goal      string `json:"goal"`
	Reference string `json:"reference,omitempty"` // optional reference-image hint
}

// TestCase is an immutable ingested test case.
type TestCase struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Component   string    `json:"component,omitempty"`
	Steps       []Step    `json:"steps"`
	Description string    `json:"description,omitempty"`
	Expected    string    `json:"expected,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SourceFile  string    `json:"source_file,omitempty"`
}

// =============================================================================
// LEARNED SOLUTIONS
// =============================================================================

// LearnedStep is one replayable step of a learned solution. Coordinates are
// specific to the device geometry recorded in the parent solution.
type LearnedStep struct {
	StepNumber int         `json:"step_number"` // 1-based
	Action     ActionKind  `json:"action"`
	TargetName string      `json:"target_name,omitempty"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	Text       string      `json:"text,omitempty"`
	Success    bool        `json:"success"`
}

// LearnedSolution is a replayable trace of a previously successful run of a
// test case on a given device geometry.
type LearnedSolution struct {
	TestID         string        `json:"test_id"`
	DeviceID       string        `json:"device_id"`
	Steps          []LearnedStep `json:"steps"`
	ExecutionCount int           `json:"execution_count"`
	SuccessCount   int           `json:"success_count"`
	SuccessRate    float64       `json:"success_rate"`
	CreatedAt      time.Time     `json:"created_at"`
	LastExecution  time.Time     `json:"last_execution"`
}

// RecomputeRate refreshes SuccessRate from the counters, clamped at zero.
func (s *LearnedSolution) RecomputeRate() {
	if s.ExecutionCount <= 0 {
		s.SuccessRate = 0
		return
	}
	rate := float64(s.SuccessCount) / float64(s.ExecutionCount)
	if rate < 0 {
		rate = 0
	}
	s.SuccessRate = rate
}

// =============================================================================
// DEVICE PROFILES
// =============================================================================

// ProfileEntry is a stored coordinate for a normalized icon name.
type ProfileEntry struct {
	X            int              `json:"x"`
	Y            int              `json:"y"`
	Source       CoordinateSource `json:"source"`
	LastVerified time.Time        `json:"last_verified"`
}

// DeviceProfile maps normalized icon names to coordinates for one geometry.
type DeviceProfile struct {
	DeviceID string                  `json:"device_id"`
	Width    int                     `json:"width"`
	Height   int                     `json:"height"`
	Icons    map[string]ProfileEntry `json:"icons"`
}

// DeviceID derives the canonical profile identifier for a geometry.
func DeviceID(width, height int) string {
	return fmt.Sprintf("device_%dx%d", width, height)
}

// NormalizeIconName converts a human-readable element label into the profile
// key form: lowercased, spaces joined with underscores.
func NormalizeIconName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "_")
}

// =============================================================================
// OCR / VISION
// =============================================================================

// TextRegion is a single OCR hit with its bounding box.
type TextRegion struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
}

// Center returns the midpoint of the region.
func (r TextRegion) Center() (int, int) {
	return r.X + r.W/2, r.Y + r.H/2
}

// =============================================================================
// VERIFICATION
// =============================================================================

// SSIMResult is the primary verification signal.
type SSIMResult struct {
	Similarity     float64 `json:"similarity"`
	Threshold      float64 `json:"threshold"`
	Passed         bool    `json:"passed"`
	ReferenceFound bool    `json:"reference_found"`
	ReferenceName  string  `json:"reference_name,omitempty"`
}

// PixelResult is the before/after pixel-diff fallback signal.
type PixelResult struct {
	ChangePercentage float64 `json:"change_percentage"`
	Changed          bool    `json:"changed"`
}

// AIVerdict is the informational model diagnostic. It never changes the
// overall verdict.
type AIVerdict struct {
	Success    bool    `json:"success"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence"`
	Available  bool    `json:"available"`
}

// VerificationResult is the verifier's combined output.
type VerificationResult struct {
	OverallPassed  bool        `json:"overall_passed"`
	SSIM           SSIMResult  `json:"ssim"`
	Pixel          PixelResult `json:"pixel"`
	AI             AIVerdict   `json:"ai"`
	ComparisonPath string      `json:"comparison_path,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// =============================================================================
// HISTORY
// =============================================================================

// StepRecord is an append-only history row for one executed step.
type StepRecord struct {
	RunID            string           `json:"run_id"`
	TestID           string           `json:"test_id"`
	StepIndex        int              `json:"step_index"`
	Goal             string           `json:"goal"`
	Action           ActionKind       `json:"action"`
	TargetName       string           `json:"target_name,omitempty"`
	Coordinate       *Coordinate      `json:"coordinate,omitempty"`
	CoordinateSource CoordinateSource `json:"coordinate_source,omitempty"`
	SSIMScore        float64          `json:"ssim_score"`
	SSIMPassed       bool             `json:"ssim_passed"`
	SSIMThreshold    float64          `json:"ssim_threshold"`
	ReferenceName    string           `json:"reference_name,omitempty"`
	PixelChange      float64          `json:"pixel_change"`
	BeforePath       string           `json:"before_path,omitempty"`
	AfterPath        string           `json:"after_path,omitempty"`
	ComparisonPath   string           `json:"comparison_path,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	DurationMs       int64            `json:"duration_ms"`
	Status           string           `json:"status"`
	Error            string           `json:"error,omitempty"`
	UsedLearned      bool             `json:"used_learned"`
}

// RunRecord is the per-run summary written when a run finishes.
type RunRecord struct {
	RunID       string       `json:"run_id"`
	TestID      string       `json:"test_id"`
	Mode        string       `json:"mode"`
	Status      string       `json:"status"`
	TotalSteps  int          `json:"total_steps"`
	StepsPassed int          `json:"steps_passed"`
	StepsFailed int          `json:"steps_failed"`
	AverageSSIM float64      `json:"average_ssim"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	DurationMs  int64        `json:"duration_ms"`
	Steps       []StepRecord `json:"steps"`
	Errors      []string     `json:"errors,omitempty"`
}
