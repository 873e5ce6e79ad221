package agent

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"roadtest/internal/config"
	"roadtest/internal/control"
	"roadtest/internal/device"
	"roadtest/internal/graph"
	"roadtest/internal/knowledge"
	"roadtest/internal/llm"
	"roadtest/internal/types"
	"roadtest/internal/vision"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// FAKES
// =============================================================================

type stubDevice struct{ taps int }

func (d *stubDevice) Tap(context.Context, int, int) device.Result {
	d.taps++
	return device.Result{Success: true}
}

func (d *stubDevice) DoubleTap(ctx context.Context, x, y int, _ time.Duration) device.Result {
	return d.Tap(ctx, x, y)
}

func (d *stubDevice) LongPress(ctx context.Context, x, y int, _ time.Duration) device.Result {
	return d.Tap(ctx, x, y)
}

func (d *stubDevice) Swipe(context.Context, int, int, int, int, time.Duration) device.Result {
	return device.Result{Success: true}
}

func (d *stubDevice) SwipeUp(context.Context, int, time.Duration) device.Result {
	return device.Result{Success: true}
}

func (d *stubDevice) SwipeDown(context.Context, int, time.Duration) device.Result {
	return device.Result{Success: true}
}

func (d *stubDevice) InputText(context.Context, string) device.Result {
	return device.Result{Success: true}
}

func (d *stubDevice) PressKey(context.Context, int) device.Result {
	return device.Result{Success: true}
}

func (d *stubDevice) Screenshot(context.Context) ([]byte, int, int, error) {
	return []byte("png"), 1920, 1080, nil
}

func (d *stubDevice) ScreenDimensions(context.Context) (int, int, error) {
	return 1920, 1080, nil
}

type stubVision struct{}

func (stubVision) FindElement(context.Context, []byte, string) (*types.Coordinate, error) {
	return &types.Coordinate{X: 10, Y: 20, Source: types.SourceOCR}, nil
}

func (stubVision) Analyze(context.Context, []byte, string) (*vision.ScreenAnalysis, error) {
	return &vision.ScreenAnalysis{}, nil
}

type stubVerifier struct{ pass bool }

func (v stubVerifier) Check(context.Context, string, string, string, []byte, []byte) types.VerificationResult {
	return types.VerificationResult{OverallPassed: v.pass}
}

type stubOracle struct{}

func (stubOracle) ExtractTarget(_ context.Context, goal string) (string, error) { return goal, nil }

func (stubOracle) PlanAction(context.Context, string, string) (*llm.PlannedAction, error) {
	return &llm.PlannedAction{ActionType: "tap"}, nil
}

func (stubOracle) SplitIntent(_ context.Context, cmd string) (*llm.Intent, error) {
	return &llm.Intent{Steps: []string{cmd}}, nil
}

func (stubOracle) InterpretGuidance(context.Context, string, string) (*llm.Guidance, error) {
	return &llm.Guidance{ActionType: "tap"}, nil
}

func (stubOracle) SynthesizeReferenceName(context.Context, string) (string, error) {
	return "screen_opened", nil
}

type stubKnowledge struct{ cases map[string]*types.TestCase }

func (k *stubKnowledge) GetTestCase(id string) (*types.TestCase, error) { return k.cases[id], nil }

func (k *stubKnowledge) SearchTestCases(context.Context, string, int) ([]knowledge.SearchHit, error) {
	return nil, nil
}

func (k *stubKnowledge) GetLearned(string) (*types.LearnedSolution, error) { return nil, nil }

func (k *stubKnowledge) RecordLearned(testID, deviceID string, steps []types.LearnedStep, _ bool) (*types.LearnedSolution, error) {
	return &types.LearnedSolution{TestID: testID}, nil
}

func (k *stubKnowledge) GetCoordinate(string, string) (types.Coordinate, bool) {
	return types.Coordinate{}, false
}

func (k *stubKnowledge) SetCoordinate(int, int, string, int, int, types.CoordinateSource) error {
	return nil
}

func newOrchestrator(t *testing.T, pass bool) (*Orchestrator, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Verify.SettleDelay = time.Millisecond
	cfg.Execution.RunWait = 50 * time.Millisecond

	ctrl := control.New()
	engine := graph.NewEngine(cfg, graph.Deps{
		Device:   &stubDevice{},
		Vision:   stubVision{},
		Verifier: stubVerifier{pass: pass},
		Oracle:   stubOracle{},
		Knowledge: &stubKnowledge{cases: map[string]*types.TestCase{
			"T-001": {ID: "T-001", Steps: []types.Step{{Goal: "Tap Settings"}}},
		}},
		Control: ctrl,
	})
	return New(cfg, engine, ctrl), cfg
}

// =============================================================================
// TESTS
// =============================================================================

func TestRunTestSuccess(t *testing.T) {
	o, _ := newOrchestrator(t, true)

	res, err := o.RunTest(context.Background(), "T-001", true, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Status != "success" {
		t.Errorf("result = %+v", res)
	}
	if res.StepsCompleted != 1 || res.TotalSteps != 1 {
		t.Errorf("steps = %d/%d", res.StepsCompleted, res.TotalSteps)
	}
	if res.RunID == "" {
		t.Error("run id not assigned")
	}

	// Terminal run released the permit; a fresh run starts immediately.
	if _, err := o.RunTest(context.Background(), "T-001", true, 3); err != nil {
		t.Errorf("second sequential run rejected: %v", err)
	}
}

func TestRunTestRejectsBatchIDs(t *testing.T) {
	o, _ := newOrchestrator(t, true)
	for _, id := range []string{"T-001,T-002", "T-001;T-002", ""} {
		if _, err := o.RunTest(context.Background(), id, true, 3); err == nil {
			t.Errorf("id %q accepted", id)
		}
	}
}

func TestSuspendedRunBlocksNewRuns(t *testing.T) {
	o, _ := newOrchestrator(t, false) // verification never passes

	res, err := o.RunTest(context.Background(), "T-001", true, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "waiting_hitl" {
		t.Fatalf("status = %s, want waiting_hitl", res.Status)
	}

	if _, err := o.RunTest(context.Background(), "T-001", true, 1); err != ErrRunInProgress {
		t.Errorf("expected ErrRunInProgress while suspended, got %v", err)
	}

	o.Reset()
	// After reset the permit is back.
	if _, err := o.RunTest(context.Background(), "T-001", true, 1); err != nil {
		t.Errorf("run after reset rejected: %v", err)
	}
	o.Reset()
}

func TestAcquireReportsCallerCancellation(t *testing.T) {
	o, _ := newOrchestrator(t, false)

	res, err := o.RunTest(context.Background(), "T-001", true, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "waiting_hitl" {
		t.Fatalf("status = %s, want waiting_hitl", res.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.RunTest(ctx, "T-001", true, 1); err != context.Canceled {
		t.Errorf("cancelled caller got %v, want context.Canceled", err)
	}
	o.Reset()
}

func TestSendGuidanceResumesRun(t *testing.T) {
	o, _ := newOrchestrator(t, false)

	res, err := o.RunTest(context.Background(), "T-001", true, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "waiting_hitl" {
		t.Fatalf("status = %s", res.Status)
	}

	// The graph executes the operator tap; verification still fails, so the
	// run suspends again rather than completing.
	res, err = o.SendGuidance(context.Background(), "", &types.Coordinate{X: 5, Y: 5}, types.ActionTap)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "waiting_hitl" {
		t.Errorf("status = %s, want another suspension", res.Status)
	}
	o.Reset()
}

func TestSendGuidanceWithoutSuspendedRun(t *testing.T) {
	o, _ := newOrchestrator(t, true)
	if _, err := o.SendGuidance(context.Background(), "tap it", nil, ""); err != ErrNotWaiting {
		t.Errorf("expected ErrNotWaiting, got %v", err)
	}
}

func TestSendGuidanceRejectsSecondPending(t *testing.T) {
	o, _ := newOrchestrator(t, false)

	if _, err := o.RunTest(context.Background(), "T-001", true, 1); err != nil {
		t.Fatal(err)
	}
	// Park unconsumed guidance directly on the retained state.
	o.mu.Lock()
	o.state.HITLGuidance = "first"
	o.state.HITLApplied = false
	o.mu.Unlock()

	if _, err := o.SendGuidance(context.Background(), "second", nil, ""); err != ErrGuidancePending {
		t.Errorf("expected ErrGuidancePending, got %v", err)
	}
	o.Reset()
}

func TestStatusSnapshotAtSuspension(t *testing.T) {
	o, _ := newOrchestrator(t, false)

	if _, err := o.RunTest(context.Background(), "T-001", true, 1); err != nil {
		t.Fatal(err)
	}
	report := o.Status()
	if !report.WaitingForHITL || report.Status != "waiting_hitl" {
		t.Errorf("suspended report = %+v", report)
	}
	if report.Problem == "" {
		t.Error("suspended report carries no problem description")
	}

	// Status must not touch graph state; concurrent pollers see the same
	// snapshot the suspension produced.
	done := make(chan StatusReport, 4)
	for i := 0; i < 4; i++ {
		go func() { done <- o.Status() }()
	}
	for i := 0; i < 4; i++ {
		if r := <-done; r.RunID != report.RunID || r.Status != report.Status {
			t.Errorf("concurrent report = %+v", r)
		}
	}
	o.Reset()
}

func TestStatusReflectsRun(t *testing.T) {
	o, _ := newOrchestrator(t, true)

	idle := o.Status()
	if idle.Active || idle.Status != "idle" {
		t.Errorf("idle report = %+v", idle)
	}

	if _, err := o.RunTest(context.Background(), "T-001", true, 3); err != nil {
		t.Fatal(err)
	}
	after := o.Status()
	if after.Status != "success" || after.TestID != "T-001" {
		t.Errorf("report = %+v", after)
	}
}
