package llm

import (
	"testing"
)

func TestParseLocateResponseFound(t *testing.T) {
	resp := "FOUND: YES\nX: 850\nY: 450\nCONFIDENCE: 92"
	coord, err := parseLocateResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	if coord == nil {
		t.Fatal("expected coordinate")
	}
	if coord.X != 850 || coord.Y != 450 {
		t.Errorf("coordinate = %v, want (850, 450)", coord)
	}
	if coord.Confidence != 92 {
		t.Errorf("confidence = %v, want 92", coord.Confidence)
	}
}

func TestParseLocateResponseNotFound(t *testing.T) {
	coord, err := parseLocateResponse("FOUND: NO\nX: 0\nY: 0\nCONFIDENCE: 0")
	if err != nil {
		t.Fatal(err)
	}
	if coord != nil {
		t.Errorf("expected nil coordinate for FOUND: NO, got %v", coord)
	}
}

func TestParseLocateResponseToleratesNoise(t *testing.T) {
	resp := "Sure, here is the result:\nFOUND: YES\nX: 120 px\nY: 300\nCONFIDENCE: 80%"
	coord, err := parseLocateResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	if coord.X != 120 || coord.Y != 300 {
		t.Errorf("coordinate = %v, want (120, 300)", coord)
	}
}

func TestParseLocateResponseMissingFound(t *testing.T) {
	if _, err := parseLocateResponse("X: 1\nY: 2"); err == nil {
		t.Error("expected error for missing FOUND line")
	}
}

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict("SUCCESS: YES\nREASONING: Settings screen is visible.\nCONFIDENCE: 88")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Success {
		t.Error("expected success verdict")
	}
	if v.Reasoning != "Settings screen is visible." {
		t.Errorf("reasoning = %q", v.Reasoning)
	}
	if v.Confidence != 88 {
		t.Errorf("confidence = %v, want 88", v.Confidence)
	}
	if !v.Available {
		t.Error("verdict should be marked available")
	}
}

func TestParseVerdictNo(t *testing.T) {
	v, err := parseVerdict("SUCCESS: NO\nREASONING: nothing changed\nCONFIDENCE: 70")
	if err != nil {
		t.Fatal(err)
	}
	if v.Success {
		t.Error("expected failed verdict")
	}
}

func TestParseVerdictMissingSuccess(t *testing.T) {
	if _, err := parseVerdict("REASONING: unclear"); err == nil {
		t.Error("expected error for missing SUCCESS line")
	}
}

func TestExtractJSONFenced(t *testing.T) {
	resp := "```json\n{\"action_type\": \"tap\", \"target_element\": \"Settings\"}\n```"
	var plan PlannedAction
	if err := decodeJSONBlob(resp, &plan); err != nil {
		t.Fatal(err)
	}
	if plan.ActionType != "tap" || plan.TargetElement != "Settings" {
		t.Errorf("plan = %+v", plan)
	}
}

func TestExtractJSONNested(t *testing.T) {
	resp := `prefix {"intent": "open {media}", "number_of_steps": 2, "steps": ["a", "b"], "initial_action": "tap"} suffix`
	var intent Intent
	if err := decodeJSONBlob(resp, &intent); err != nil {
		t.Fatal(err)
	}
	if intent.NumberOfSteps != 2 || len(intent.Steps) != 2 {
		t.Errorf("intent = %+v", intent)
	}
}

func TestExtractJSONMissing(t *testing.T) {
	var plan PlannedAction
	if err := decodeJSONBlob("no json here", &plan); err == nil {
		t.Error("expected error when no JSON present")
	}
}
