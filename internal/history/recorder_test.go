package history

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"roadtest/internal/types"
)

func newRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := NewRecorder(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func sampleRun(runID string, started time.Time) *types.RunRecord {
	return &types.RunRecord{
		RunID:     runID,
		TestID:    "T-001",
		Mode:      "test",
		Status:    "success",
		StartedAt: started,
		Steps: []types.StepRecord{
			{RunID: runID, StepIndex: 0, Goal: "Tap Settings", Status: "passed", SSIMScore: 0.93},
		},
		TotalSteps: 1,
	}
}

func TestSaveAndGetRun(t *testing.T) {
	r := newRecorder(t)
	run := sampleRun("run-1", time.Now())
	if err := r.SaveRun(run); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetAbsentRun(t *testing.T) {
	r := newRecorder(t)
	got, err := r.GetRun("missing")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected nil for absent run")
	}
}

func TestListNewestFirst(t *testing.T) {
	r := newRecorder(t)
	base := time.Now()
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := r.SaveRun(sampleRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := r.List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].RunID != "run-c" || entries[2].RunID != "run-a" {
		t.Errorf("order = %s, %s, %s", entries[0].RunID, entries[1].RunID, entries[2].RunID)
	}

	limited, err := r.List(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored, got %d", len(limited))
	}
}

func TestSaveRunReplacesIndexEntry(t *testing.T) {
	r := newRecorder(t)
	run := sampleRun("run-1", time.Now())
	if err := r.SaveRun(run); err != nil {
		t.Fatal(err)
	}
	run.Status = "failure"
	if err := r.SaveRun(run); err != nil {
		t.Fatal(err)
	}

	entries, err := r.List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("duplicate index entry: %d", len(entries))
	}
	if entries[0].Status != "failure" {
		t.Errorf("status = %q", entries[0].Status)
	}
}

func TestSaveRunRequiresID(t *testing.T) {
	r := newRecorder(t)
	if err := r.SaveRun(&types.RunRecord{}); err == nil {
		t.Error("expected error for missing run id")
	}
}

func TestFinalizeAggregates(t *testing.T) {
	started := time.Now()
	run := &types.RunRecord{
		RunID:     "run-1",
		StartedAt: started,
		Steps: []types.StepRecord{
			{Status: "passed", SSIMScore: 0.9},
			{Status: "passed", SSIMScore: 0.8},
			{Status: "failed"},
		},
		TotalSteps: 3,
	}
	Finalize(run, started.Add(5*time.Second))

	if run.StepsPassed != 2 || run.StepsFailed != 1 {
		t.Errorf("counters = %d/%d", run.StepsPassed, run.StepsFailed)
	}
	if run.AverageSSIM < 0.84 || run.AverageSSIM > 0.86 {
		t.Errorf("average ssim = %v", run.AverageSSIM)
	}
	if run.DurationMs != 5000 {
		t.Errorf("duration = %dms", run.DurationMs)
	}
}
