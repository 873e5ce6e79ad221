package graph

import (
	"context"
	"time"

	"roadtest/internal/device"
	"roadtest/internal/knowledge"
	"roadtest/internal/llm"
	"roadtest/internal/types"
	"roadtest/internal/vision"
)

// Device is the slice of the device driver the graph drives.
type Device interface {
	Tap(ctx context.Context, x, y int) device.Result
	DoubleTap(ctx context.Context, x, y int, delay time.Duration) device.Result
	LongPress(ctx context.Context, x, y int, duration time.Duration) device.Result
	Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) device.Result
	SwipeUp(ctx context.Context, distance int, duration time.Duration) device.Result
	SwipeDown(ctx context.Context, distance int, duration time.Duration) device.Result
	InputText(ctx context.Context, s string) device.Result
	PressKey(ctx context.Context, code int) device.Result
	Screenshot(ctx context.Context) ([]byte, int, int, error)
	ScreenDimensions(ctx context.Context) (int, int, error)
}

// Vision resolves element descriptions and summarizes screens.
type Vision interface {
	FindElement(ctx context.Context, screenshot []byte, description string) (*types.Coordinate, error)
	Analyze(ctx context.Context, screenshot []byte, question string) (*vision.ScreenAnalysis, error)
}

// Verifier decides step outcomes.
type Verifier interface {
	Check(ctx context.Context, goal, deviceID, refName string, before, after []byte) types.VerificationResult
}

// Oracle is the prompt surface the graph itself needs. All methods are
// best-effort; the graph degrades on error rather than failing the run.
type Oracle interface {
	ExtractTarget(ctx context.Context, goal string) (string, error)
	PlanAction(ctx context.Context, goal, screenAnalysis string) (*llm.PlannedAction, error)
	SplitIntent(ctx context.Context, command string) (*llm.Intent, error)
	InterpretGuidance(ctx context.Context, guidance, failedGoal string) (*llm.Guidance, error)
	SynthesizeReferenceName(ctx context.Context, goal string) (string, error)
}

// Knowledge is the graph's view of the three corpora.
type Knowledge interface {
	GetTestCase(id string) (*types.TestCase, error)
	SearchTestCases(ctx context.Context, query string, k int) ([]knowledge.SearchHit, error)
	GetLearned(testID string) (*types.LearnedSolution, error)
	RecordLearned(testID, deviceID string, steps []types.LearnedStep, success bool) (*types.LearnedSolution, error)
	GetCoordinate(deviceID, name string) (types.Coordinate, bool)
	SetCoordinate(width, height int, name string, x, y int, source types.CoordinateSource) error
}

// Controller exposes the cooperative suspension point every node honors.
type Controller interface {
	CheckAndWait() bool
}

// History persists the finished run.
type History interface {
	SaveRun(run *types.RunRecord) error
}

// Deps bundles the collaborator handles an Engine needs. Oracle, Vision and
// History may be nil; the corresponding behaviour degrades gracefully.
type Deps struct {
	Device    Device
	Vision    Vision
	Verifier  Verifier
	Oracle    Oracle
	Knowledge Knowledge
	Control   Controller
	History   History
}
