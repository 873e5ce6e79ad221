package llm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"roadtest/internal/config"
	"roadtest/internal/logging"
	"roadtest/internal/types"
)

// PlannedAction is the model's fallback plan for a step goal.
type PlannedAction struct {
	ActionType    string `json:"action_type"`
	TargetElement string `json:"target_element"`
	Reasoning     string `json:"reasoning"`
}

// Intent is the split of a free-form command into ordered steps.
type Intent struct {
	Intent        string   `json:"intent"`
	NumberOfSteps int      `json:"number_of_steps"`
	Steps         []string `json:"steps"`
	InitialAction string   `json:"initial_action"`
}

// Guidance is the interpretation of free-text human guidance.
type Guidance struct {
	ActionType    string `json:"action_type"`
	TargetElement string `json:"target_element"`
	ThenRetry     bool   `json:"then_retry"`
	Reasoning     string `json:"reasoning"`
}

// Oracle wraps the raw client with the typed prompts the engine uses and a
// per-run call budget. BudgetThreshold logs a warning; AlertThreshold
// refuses further calls.
type Oracle struct {
	client          Client
	temperature     float64
	visionTemp      float64
	budgetThreshold int64
	alertThreshold  int64
	calls           atomic.Int64
}

// NewOracle builds the typed prompt layer over a client.
func NewOracle(client Client, cfg config.ModelConfig) *Oracle {
	return &Oracle{
		client:          client,
		temperature:     cfg.Temperature,
		visionTemp:      cfg.VisionTemperature,
		budgetThreshold: int64(cfg.BudgetThreshold),
		alertThreshold:  int64(cfg.AlertThreshold),
	}
}

// ResetBudget zeroes the per-run call counter. Called at run start.
func (o *Oracle) ResetBudget() { o.calls.Store(0) }

// Calls returns the number of model calls since the last reset.
func (o *Oracle) Calls() int { return int(o.calls.Load()) }

func (o *Oracle) generate(ctx context.Context, temp float64, prompt string, images ...[]byte) (string, error) {
	n := o.calls.Add(1)
	log := logging.Get(logging.CategoryModel)
	if o.alertThreshold > 0 && n > o.alertThreshold {
		return "", ErrBudgetExhausted
	}
	if o.budgetThreshold > 0 && n == o.budgetThreshold+1 {
		log.Warnw("model call budget threshold crossed", "calls", n)
	}
	return o.client.Generate(ctx, Request{
		Prompt:      prompt,
		Images:      images,
		Temperature: temp,
	})
}

// HasTextLabel asks the routing yes/no question: does the described element
// carry a visible text label? Callers default to texted on error.
func (o *Oracle) HasTextLabel(ctx context.Context, description string, screenshot []byte) (bool, error) {
	prompt := fmt.Sprintf(
		"Look at this screenshot of an automotive head unit.\n"+
			"Does the UI element described as %q carry a visible text label on screen?\n"+
			"Answer with exactly one word: YES or NO.", description)
	resp, err := o.generate(ctx, o.visionTemp, prompt, screenshot)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(resp)), "YES"), nil
}

// LocateIcon asks the model for screen coordinates of a named, unlabeled
// element. Out-of-bounds coordinates are rejected.
func (o *Oracle) LocateIcon(ctx context.Context, name string, screenshot []byte, width, height int) (*types.Coordinate, error) {
	prompt := fmt.Sprintf(
		"You are locating a UI element on an automotive head unit screenshot.\n"+
			"Element: %q\n"+
			"Image dimensions: %d x %d pixels.\n"+
			"Respond with exactly these four lines and nothing else:\n"+
			"FOUND: YES/NO\n"+
			"X: <pixel x>\n"+
			"Y: <pixel y>\n"+
			"CONFIDENCE: <0-100>", name, width, height)
	resp, err := o.generate(ctx, o.visionTemp, prompt, screenshot)
	if err != nil {
		return nil, err
	}
	coord, err := parseLocateResponse(resp)
	if err != nil {
		return nil, err
	}
	if coord == nil {
		return nil, nil
	}
	if coord.X < 0 || coord.X >= width || coord.Y < 0 || coord.Y >= height {
		return nil, fmt.Errorf("model returned out-of-bounds coordinate %s for %dx%d", coord, width, height)
	}
	coord.Source = types.SourceModel
	return coord, nil
}

// ExtractTarget distills a step goal into a short element name (1-2 words).
func (o *Oracle) ExtractTarget(ctx context.Context, goal string) (string, error) {
	prompt := fmt.Sprintf(
		"A UI test step has the goal: %q\n"+
			"Name the single UI element the step interacts with, in 1-2 words.\n"+
			"Respond with only the element name.", goal)
	resp, err := o.generate(ctx, o.temperature, prompt)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(strings.Trim(resp, `"'`))
	if name == "" {
		return "", fmt.Errorf("empty target name")
	}
	// Terse answers only; take the first line if the model rambled.
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	return name, nil
}

// PlanAction is the planning fallback when heuristics cannot map a goal to
// an action.
func (o *Oracle) PlanAction(ctx context.Context, goal, screenAnalysis string) (*PlannedAction, error) {
	prompt := fmt.Sprintf(
		"You are planning one action on an automotive head unit.\n"+
			"Step goal: %q\n"+
			"Current screen: %s\n"+
			"Choose one action. Valid action_type values: tap, double_tap, long_press, "+
			"swipe, input_text, press_home, press_back, press_enter, press_key.\n"+
			"Respond with JSON only: {\"action_type\": ..., \"target_element\": ..., \"reasoning\": ...}",
		goal, screenAnalysis)
	resp, err := o.generate(ctx, o.temperature, prompt)
	if err != nil {
		return nil, err
	}
	var plan PlannedAction
	if err := decodeJSONBlob(resp, &plan); err != nil {
		return nil, fmt.Errorf("unparseable plan: %w", err)
	}
	if plan.ActionType == "" {
		return nil, fmt.Errorf("plan missing action_type")
	}
	return &plan, nil
}

// SplitIntent splits a free-form command into ordered step strings.
func (o *Oracle) SplitIntent(ctx context.Context, command string) (*Intent, error) {
	prompt := fmt.Sprintf(
		"Split this automotive head unit command into ordered UI steps.\n"+
			"Command: %q\n"+
			"Each step must be a single concrete UI interaction.\n"+
			"Respond with JSON only: {\"intent\": ..., \"number_of_steps\": N, "+
			"\"steps\": [...], \"initial_action\": ...}", command)
	resp, err := o.generate(ctx, o.temperature, prompt)
	if err != nil {
		return nil, err
	}
	var intent Intent
	if err := decodeJSONBlob(resp, &intent); err != nil {
		return nil, fmt.Errorf("unparseable intent: %w", err)
	}
	if len(intent.Steps) == 0 {
		return nil, fmt.Errorf("intent split produced no steps")
	}
	return &intent, nil
}

// InterpretGuidance maps free-text human guidance into a concrete action.
// then_retry means the action is remedial and the failed step should be
// re-attempted afterwards.
func (o *Oracle) InterpretGuidance(ctx context.Context, guidance, failedGoal string) (*Guidance, error) {
	prompt := fmt.Sprintf(
		"A UI test step failed and a human operator supplied guidance.\n"+
			"Failed step goal: %q\n"+
			"Guidance: %q\n"+
			"Map the guidance to one action. Valid action_type values: tap, double_tap, "+
			"long_press, swipe, input_text, press_home, press_back, press_enter, press_key.\n"+
			"Set then_retry to true when the guidance is a remedial action to perform "+
			"before re-attempting the failed step.\n"+
			"Respond with JSON only: {\"action_type\": ..., \"target_element\": ..., "+
			"\"then_retry\": true/false, \"reasoning\": ...}", failedGoal, guidance)
	resp, err := o.generate(ctx, o.temperature, prompt)
	if err != nil {
		return nil, err
	}
	var g Guidance
	if err := decodeJSONBlob(resp, &g); err != nil {
		return nil, fmt.Errorf("unparseable guidance: %w", err)
	}
	if g.ActionType == "" {
		return nil, fmt.Errorf("guidance missing action_type")
	}
	return &g, nil
}

// SynthesizeReferenceName derives a reference-image name (<noun>_opened)
// from a step goal.
func (o *Oracle) SynthesizeReferenceName(ctx context.Context, goal string) (string, error) {
	prompt := fmt.Sprintf(
		"A UI test step has the goal: %q\n"+
			"Name the screen the step should end on, as a single lowercase "+
			"identifier of the form <noun>_opened (example: settings_opened).\n"+
			"Respond with only the identifier.", goal)
	resp, err := o.generate(ctx, o.temperature, prompt)
	if err != nil {
		return "", err
	}
	name := types.NormalizeIconName(resp)
	if name == "" || !strings.HasSuffix(name, "_opened") {
		return "", fmt.Errorf("unusable reference name %q", resp)
	}
	return name, nil
}

// VerifyGoal runs the informational verification diagnostic over before and
// after screenshots.
func (o *Oracle) VerifyGoal(ctx context.Context, goal string, before, after []byte) (types.AIVerdict, error) {
	prompt := fmt.Sprintf(
		"Two screenshots follow: before and after a UI action on an automotive "+
			"head unit. The step goal was: %q\n"+
			"State whether the goal was achieved.\n"+
			"Respond with exactly these three lines:\n"+
			"SUCCESS: YES/NO\n"+
			"REASONING: <one sentence>\n"+
			"CONFIDENCE: <0-100>", goal)
	resp, err := o.generate(ctx, o.temperature, prompt, before, after)
	if err != nil {
		return types.AIVerdict{}, err
	}
	return parseVerdict(resp)
}

// AnalyzeScreen describes the current screen relative to a question.
func (o *Oracle) AnalyzeScreen(ctx context.Context, screenshot []byte, question string) (string, error) {
	prompt := fmt.Sprintf(
		"Describe this automotive head unit screen in 2-3 sentences, focused on: %s\n"+
			"Name the interactive elements you can see.", question)
	return o.generate(ctx, o.temperature, prompt, screenshot)
}
