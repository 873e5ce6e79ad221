package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"roadtest/internal/device"
	"roadtest/internal/history"
	"roadtest/internal/logging"
	"roadtest/internal/types"
)

// =============================================================================
// SETUP NODES
// =============================================================================

func (e *Engine) nodeDetectMode(ctx context.Context, s *State) {
	s.Status = StatusRunning
	switch {
	case s.TestID != "":
		s.Mode = ModeTest
	case s.Command != "":
		s.Mode = ModeStandalone
	default:
		s.Mode = ModeIdle
		return
	}

	if s.DeviceID == "" {
		w, h, err := e.deps.Device.ScreenDimensions(ctx)
		if err != nil {
			s.errorf("screen geometry unavailable: %v", err)
			return
		}
		s.ScreenWidth, s.ScreenHeight = w, h
		s.DeviceID = types.DeviceID(w, h)
		s.logf("device geometry %s", s.DeviceID)
	}
}

func (e *Engine) nodeRAGRetrieval(ctx context.Context, s *State) {
	if s.ragDone {
		return
	}
	s.ragDone = true
	log := logging.Get(logging.CategoryGraph)

	tc, err := e.deps.Knowledge.GetTestCase(s.TestID)
	if err != nil {
		s.errorf("loading test case %s: %v", s.TestID, err)
		return
	}
	if tc == nil {
		s.errorf("test case %s not found", s.TestID)
		return
	}
	s.Steps = tc.Steps
	s.TotalSteps = len(tc.Steps)
	s.Description = tc.Description
	s.logf("test case %s: %d steps", s.TestID, s.TotalSteps)

	// Related cases are context for the planner, never extra steps.
	if hits, err := e.deps.Knowledge.SearchTestCases(ctx, tc.Title, 3); err == nil {
		for _, hit := range hits {
			if hit.Case.ID != s.TestID {
				log.Debugw("related case", "id", hit.Case.ID, "similarity", hit.Similarity)
			}
		}
	}
}

func (e *Engine) nodeParseIntent(ctx context.Context, s *State) {
	if s.ragDone {
		return
	}
	s.ragDone = true

	if e.deps.Oracle == nil {
		s.errorf("standalone mode needs a model to split the command")
		return
	}
	intent, err := e.deps.Oracle.SplitIntent(ctx, s.Command)
	if err != nil {
		s.errorf("splitting command: %v", err)
		return
	}
	for _, text := range intent.Steps {
		s.Steps = append(s.Steps, types.Step{Goal: text})
	}
	s.TotalSteps = len(s.Steps)
	s.Description = intent.Intent
	s.logf("command split into %d steps", s.TotalSteps)
}

func (e *Engine) nodeCheckLearned(s *State) {
	if s.HasLearnedSolution || !s.UseLearned || s.TestID == "" {
		return
	}
	sol, err := e.deps.Knowledge.GetLearned(s.TestID)
	if err != nil {
		s.logf("learned lookup failed: %v", err)
		return
	}
	if sol == nil {
		return
	}
	// Coordinates are geometry-bound; a solution recorded on another screen
	// must not be replayed here.
	if sol.DeviceID != s.DeviceID {
		s.logf("learned solution is for %s, not %s; ignoring", sol.DeviceID, s.DeviceID)
		return
	}
	s.HasLearnedSolution = true
	s.LearnedSolution = sol
	s.logf("learned solution found: %d steps, %.0f%% success rate",
		len(sol.Steps), sol.SuccessRate*100)
}

// =============================================================================
// PERCEPTION AND PLANNING
// =============================================================================

func (e *Engine) nodeCaptureScreen(ctx context.Context, s *State) {
	s.stepStartedAt = time.Now()
	shot, w, h, err := e.deps.Device.Screenshot(ctx)
	if err != nil {
		s.logf("screenshot failed: %v", err)
		s.BeforeShot = nil
		return
	}
	s.BeforeShot = shot
	if s.ScreenWidth == 0 {
		s.ScreenWidth, s.ScreenHeight = w, h
		s.DeviceID = types.DeviceID(w, h)
	}
}

func (e *Engine) nodeAnalyze(ctx context.Context, s *State) {
	if e.deps.Vision == nil || s.BeforeShot == nil {
		return
	}
	analysis, err := e.deps.Vision.Analyze(ctx, s.BeforeShot, s.CurrentGoal())
	if err != nil {
		s.logf("screen analysis failed: %v", err)
		return
	}
	s.ScreenAnalysis = analysis.Summary
	s.DetectedElements = analysis.Elements
}

func (e *Engine) nodePlanAction(ctx context.Context, s *State) {
	goal := s.CurrentGoal()
	if goal == "" {
		s.errorf("planning failed: no goal for step %d", s.CurrentStep)
		return
	}

	kind, swipeDir, text := classifyGoal(goal)
	s.ActionKind = kind
	s.SwipeDirection = swipeDir
	s.ActionText = text
	s.ReferenceName = e.referenceName(ctx, s, goal)

	if kind.DirectKey() || kind == types.ActionSwipe || kind == types.ActionInputText {
		s.PlannedAction = fmt.Sprintf("%s (%s)", kind, goal)
		return
	}

	target := e.extractTarget(ctx, goal)
	s.TargetName = target
	s.TargetCoordinate = e.resolve(ctx, s, target)

	if s.TargetCoordinate == nil && e.deps.Oracle != nil {
		// Planning fallback: let the model re-read the goal against the
		// screen summary, then resolve its target.
		plan, err := e.deps.Oracle.PlanAction(ctx, goal, s.ScreenAnalysis)
		if err != nil {
			s.logf("plan fallback failed: %v", err)
		} else if plan != nil {
			if k, ok := actionKindFrom(plan.ActionType); ok {
				s.ActionKind = k
			}
			if plan.TargetElement != "" && plan.TargetElement != target {
				s.TargetName = plan.TargetElement
				s.TargetCoordinate = e.resolve(ctx, s, plan.TargetElement)
			}
		}
	}

	if s.TargetCoordinate != nil {
		s.PlannedAction = fmt.Sprintf("%s %q at %s", s.ActionKind, s.TargetName, s.TargetCoordinate)
	} else {
		s.PlannedAction = fmt.Sprintf("%s %q (unresolved)", s.ActionKind, s.TargetName)
		s.logf("no coordinate resolved for %q", s.TargetName)
	}
}

func (e *Engine) extractTarget(ctx context.Context, goal string) string {
	if e.deps.Oracle != nil {
		if target, err := e.deps.Oracle.ExtractTarget(ctx, goal); err == nil && target != "" {
			return target
		}
	}
	return stripActionVerbs(goal)
}

func (e *Engine) resolve(ctx context.Context, s *State, target string) *types.Coordinate {
	if target == "" || e.deps.Vision == nil || s.BeforeShot == nil {
		return nil
	}
	coord, err := e.deps.Vision.FindElement(ctx, s.BeforeShot, target)
	if err != nil {
		s.logf("element resolution failed for %q: %v", target, err)
		return nil
	}
	return coord
}

func (e *Engine) referenceName(ctx context.Context, s *State, goal string) string {
	if s.CurrentStep < len(s.Steps) && s.Steps[s.CurrentStep].Reference != "" {
		return s.Steps[s.CurrentStep].Reference
	}
	if e.deps.Oracle == nil {
		return ""
	}
	name, err := e.deps.Oracle.SynthesizeReferenceName(ctx, goal)
	if err != nil {
		return ""
	}
	return name
}

// =============================================================================
// EXECUTION
// =============================================================================

func (e *Engine) nodeDirectExecute(ctx context.Context, s *State) {
	// Direct-key actions planned this tick skip the replay logic.
	if s.ActionKind.DirectKey() && s.PlannedAction != "" {
		e.runPrimitive(ctx, s)
		return
	}

	ls := findLearnedStep(s.LearnedSolution, s.CurrentStep+1)
	if ls == nil {
		s.logf("no learned step %d, falling back to perception", s.CurrentStep+1)
		s.fellBack = true
		return
	}

	coord := ls.Coordinate
	if coord == nil && ls.TargetName != "" {
		if c, ok := e.deps.Knowledge.GetCoordinate(s.DeviceID, ls.TargetName); ok {
			coord = &c
		}
	}
	if coord == nil && needsCoordinate(ls.Action) {
		s.logf("learned step %d has no usable coordinate, falling back", ls.StepNumber)
		s.fellBack = true
		return
	}

	s.stepStartedAt = time.Now()
	s.ActionKind = ls.Action
	s.TargetName = ls.TargetName
	s.ActionText = ls.Text
	if coord != nil {
		replay := *coord
		replay.Source = types.SourceLearned
		s.TargetCoordinate = &replay
	}
	s.PlannedAction = fmt.Sprintf("replay %s %q", ls.Action, ls.TargetName)

	// The before-shot backs pixel-diff verification when no reference exists.
	if shot, _, _, err := e.deps.Device.Screenshot(ctx); err == nil {
		s.BeforeShot = shot
	}
	if s.ReferenceName == "" {
		s.ReferenceName = e.referenceName(ctx, s, s.CurrentGoal())
	}
	e.runPrimitive(ctx, s)
}

func (e *Engine) nodeExecute(ctx context.Context, s *State) {
	if s.BeforeShot == nil {
		if shot, _, _, err := e.deps.Device.Screenshot(ctx); err == nil {
			s.BeforeShot = shot
		}
	}
	e.runPrimitive(ctx, s)
}

func (e *Engine) runPrimitive(ctx context.Context, s *State) {
	if needsCoordinate(s.ActionKind) && s.TargetCoordinate == nil {
		s.ActionSuccess = false
		s.LastActionResult = fmt.Sprintf("no coordinate for %q", s.TargetName)
		s.logf("action skipped: %s", s.LastActionResult)
		return
	}

	var res device.Result
	switch s.ActionKind {
	case types.ActionTap:
		res = e.deps.Device.Tap(ctx, s.TargetCoordinate.X, s.TargetCoordinate.Y)
	case types.ActionDoubleTap:
		res = e.deps.Device.DoubleTap(ctx, s.TargetCoordinate.X, s.TargetCoordinate.Y, 0)
	case types.ActionLongPress:
		res = e.deps.Device.LongPress(ctx, s.TargetCoordinate.X, s.TargetCoordinate.Y, 0)
	case types.ActionSwipe:
		if s.SwipeDirection == "down" {
			res = e.deps.Device.SwipeDown(ctx, 400, 0)
		} else {
			res = e.deps.Device.SwipeUp(ctx, 400, 0)
		}
	case types.ActionInputText:
		res = e.deps.Device.InputText(ctx, s.ActionText)
	case types.ActionPressHome:
		res = e.deps.Device.PressKey(ctx, device.KeyHome)
	case types.ActionPressBack:
		res = e.deps.Device.PressKey(ctx, device.KeyBack)
	case types.ActionPressEnter:
		res = e.deps.Device.PressKey(ctx, device.KeyEnter)
	case types.ActionPressKey:
		res = e.deps.Device.PressKey(ctx, s.KeyCode)
	default:
		s.ActionSuccess = false
		s.LastActionResult = fmt.Sprintf("unknown action %q", s.ActionKind)
		return
	}

	s.ActionSuccess = res.Success
	if res.Success {
		s.LastActionResult = fmt.Sprintf("%s ok in %dms", s.ActionKind, res.DurationMs)
	} else {
		s.LastActionResult = fmt.Sprintf("%s failed: %s", s.ActionKind, res.Error)
		s.logf("action failed: %s", s.LastActionResult)
	}
}

// =============================================================================
// VERIFICATION AND OUTCOME
// =============================================================================

func (e *Engine) nodeVerify(ctx context.Context, s *State) {
	// Give the UI time to settle before judging it.
	settle := e.settleDelay
	if settle <= 0 {
		settle = time.Second
	}
	time.Sleep(settle)

	shot, _, _, err := e.deps.Device.Screenshot(ctx)
	if err != nil {
		s.logf("after-shot failed: %v", err)
		s.VerificationResult = &types.VerificationResult{Error: err.Error()}
		e.recordStep(s, "failed")
		return
	}
	s.AfterShot = shot

	res := e.deps.Verifier.Check(ctx, s.CurrentGoal(), s.DeviceID, s.ReferenceName, s.BeforeShot, s.AfterShot)
	s.VerificationResult = &res

	if res.OverallPassed {
		s.logf("step %d verified (ssim %.3f, pixel %.1f%%)",
			s.CurrentStep+1, res.SSIM.Similarity, res.Pixel.ChangePercentage)
		e.autoLearn(s)
		e.recordStep(s, "passed")
	} else {
		s.logf("step %d verification failed", s.CurrentStep+1)
		e.recordStep(s, "failed")
	}
}

// autoLearn writes a freshly proven coordinate into the device profile.
// Profile and learned sources are already persisted; everything else earns
// an entry on first verified use.
func (e *Engine) autoLearn(s *State) {
	c := s.TargetCoordinate
	if c == nil || s.TargetName == "" {
		return
	}
	if c.Source == types.SourceLearned || c.Source == types.SourceDeviceProfile {
		return
	}
	if err := e.deps.Knowledge.SetCoordinate(s.ScreenWidth, s.ScreenHeight, s.TargetName, c.X, c.Y, c.Source); err != nil {
		s.logf("profile write failed for %q: %v", s.TargetName, err)
	}
}

func (e *Engine) recordStep(s *State, status string) {
	rec := types.StepRecord{
		RunID:       s.RunID,
		TestID:      s.TestID,
		StepIndex:   s.CurrentStep,
		Goal:        s.CurrentGoal(),
		Action:      s.ActionKind,
		TargetName:  s.TargetName,
		Coordinate:  s.TargetCoordinate,
		StartedAt:   s.stepStartedAt,
		Status:      status,
		UsedLearned: s.TargetCoordinate != nil && s.TargetCoordinate.Source == types.SourceLearned,
	}
	if s.TargetCoordinate != nil {
		rec.CoordinateSource = s.TargetCoordinate.Source
	}
	if v := s.VerificationResult; v != nil {
		rec.SSIMScore = v.SSIM.Similarity
		rec.SSIMPassed = v.SSIM.Passed
		rec.SSIMThreshold = v.SSIM.Threshold
		rec.ReferenceName = v.SSIM.ReferenceName
		rec.PixelChange = v.Pixel.ChangePercentage
		rec.ComparisonPath = v.ComparisonPath
		rec.Error = v.Error
	}
	if !s.stepStartedAt.IsZero() {
		rec.DurationMs = time.Since(s.stepStartedAt).Milliseconds()
	}
	s.StepRecords = append(s.StepRecords, rec)
}

func (e *Engine) nodeIncrementRetry(s *State) {
	s.RetryCount++
	s.logf("step %d attempt %d/%d failed", s.CurrentStep+1, s.RetryCount, s.MaxRetries)
}

func (e *Engine) nodeWaitHuman(s *State) {
	s.WaitingForHITL = true
	s.FailedStep = s.CurrentStep
	s.Status = StatusWaitingHITL
	if s.HITLProblem == "" {
		s.HITLProblem = fmt.Sprintf("step %d (%q): %s",
			s.CurrentStep+1, s.CurrentGoal(), s.LastActionResult)
	}
	s.logf("waiting for human guidance on step %d", s.CurrentStep+1)
}

func (e *Engine) nodeAdvance(s *State) {
	if s.HITLRetryPending {
		// The guidance was remedial; stay on the failed step and try it
		// again with a clean budget.
		s.HITLRetryPending = false
		s.logf("remedial action done, re-attempting step %d", s.CurrentStep+1)
		s.clearStepLocal()
		return
	}

	s.ExecutedSteps = append(s.ExecutedSteps, types.LearnedStep{
		StepNumber: s.CurrentStep + 1,
		Action:     s.ActionKind,
		TargetName: s.TargetName,
		Coordinate: s.TargetCoordinate,
		Text:       s.ActionText,
		Success:    true,
	})
	s.CurrentStep++
	s.logf("advanced to step %d/%d", s.CurrentStep, s.TotalSteps)
	s.clearStepLocal()
}

func (e *Engine) nodeSaveLearned(s *State) {
	if s.Mode != ModeTest || len(s.ExecutedSteps) == 0 || len(s.Errors) > 0 {
		return
	}
	if s.CurrentStep < s.TotalSteps {
		return
	}
	if _, err := e.deps.Knowledge.RecordLearned(s.TestID, s.DeviceID, s.ExecutedSteps, true); err != nil {
		s.logf("learned solution not saved: %v", err)
		return
	}
	s.logf("learned solution saved: %d steps", len(s.ExecutedSteps))
}

func (e *Engine) nodeLogResults(ctx context.Context, s *State) {
	_ = ctx
	if s.Status == StatusRunning || s.Status == StatusIdle {
		switch {
		case len(s.Errors) > 0:
			s.Status = StatusFailure
		case s.CurrentStep >= s.TotalSteps && s.TotalSteps > 0:
			s.Status = StatusSuccess
		default:
			s.Status = StatusIncomplete
		}
	}
	s.ShouldContinue = false

	if e.deps.History == nil {
		return
	}
	run := &types.RunRecord{
		RunID:      s.RunID,
		TestID:     s.TestID,
		Mode:       string(s.Mode),
		Status:     string(s.Status),
		TotalSteps: s.TotalSteps,
		StartedAt:  s.StartedAt,
		Steps:      s.StepRecords,
		Errors:     s.Errors,
	}
	history.Finalize(run, time.Now())
	if err := e.deps.History.SaveRun(run); err != nil {
		logging.Get(logging.CategoryGraph).Warnw("history write failed", "err", err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func findLearnedStep(sol *types.LearnedSolution, number int) *types.LearnedStep {
	if sol == nil {
		return nil
	}
	for i := range sol.Steps {
		if sol.Steps[i].StepNumber == number {
			return &sol.Steps[i]
		}
	}
	return nil
}

func needsCoordinate(kind types.ActionKind) bool {
	switch kind {
	case types.ActionTap, types.ActionDoubleTap, types.ActionLongPress:
		return true
	}
	return false
}

// classifyGoal maps a natural-language goal onto an action kind using plain
// phrasing cues. Anything unrecognized is a tap, the dominant head-unit
// gesture.
func classifyGoal(goal string) (types.ActionKind, string, string) {
	g := strings.ToLower(goal)
	switch {
	case strings.Contains(g, "press home") || strings.Contains(g, "go home"):
		return types.ActionPressHome, "", ""
	case strings.Contains(g, "press back") || strings.Contains(g, "go back"):
		return types.ActionPressBack, "", ""
	case strings.Contains(g, "press enter"):
		return types.ActionPressEnter, "", ""
	case strings.Contains(g, "swipe down") || strings.Contains(g, "scroll down"):
		return types.ActionSwipe, "down", ""
	case strings.Contains(g, "swipe up") || strings.Contains(g, "scroll up") || strings.Contains(g, "swipe") || strings.Contains(g, "scroll"):
		return types.ActionSwipe, "up", ""
	case strings.Contains(g, "double tap") || strings.Contains(g, "double-tap"):
		return types.ActionDoubleTap, "", ""
	case strings.Contains(g, "long press") || strings.Contains(g, "long-press") || strings.Contains(g, "hold"):
		return types.ActionLongPress, "", ""
	case strings.Contains(g, "type ") || strings.Contains(g, "enter text") || strings.Contains(g, "input "):
		return types.ActionInputText, "", quotedPayload(goal)
	}
	return types.ActionTap, "", ""
}

// quotedPayload pulls the text between the first pair of quotes, if any.
func quotedPayload(goal string) string {
	for _, q := range []string{`"`, "'"} {
		if i := strings.Index(goal, q); i >= 0 {
			if j := strings.Index(goal[i+1:], q); j >= 0 {
				return goal[i+1 : i+1+j]
			}
		}
	}
	return ""
}

func stripActionVerbs(goal string) string {
	words := strings.Fields(goal)
	for len(words) > 0 {
		switch strings.ToLower(words[0]) {
		case "tap", "click", "open", "press", "select", "the", "on", "a", "an":
			words = words[1:]
		default:
			return strings.Join(words, " ")
		}
	}
	return goal
}

func actionKindFrom(actionType string) (types.ActionKind, bool) {
	k := types.ActionKind(types.NormalizeIconName(actionType))
	if k.Valid() {
		return k, true
	}
	switch types.NormalizeIconName(actionType) {
	case "click", "touch":
		return types.ActionTap, true
	case "home":
		return types.ActionPressHome, true
	case "back":
		return types.ActionPressBack, true
	case "enter":
		return types.ActionPressEnter, true
	case "text", "type":
		return types.ActionInputText, true
	}
	return "", false
}
