package pipeline

import (
	"testing"
)

func TestStepOrderIsFixed(t *testing.T) {
	want := []Step{
		StepScripting, StepVoiceGen, StepAlignment, StepVisualPlan,
		StepImageGen, StepTimelineBuild, StepRendering, StepPackaging,
	}

	got := Steps()
	if len(got) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestNextAfterWalksTheWholePipeline(t *testing.T) {
	step := FirstStep()
	visited := []Step{step}

	for {
		next, ok := NextAfter(step)
		if !ok {
			break
		}
		visited = append(visited, next)
		step = next
	}

	if len(visited) != TotalSteps() {
		t.Errorf("walk visited %d steps, expected %d", len(visited), TotalSteps())
	}
	if step != StepPackaging {
		t.Errorf("walk ended at %s, expected %s", step, StepPackaging)
	}
}

func TestNextAfterUnknownStep(t *testing.T) {
	if _, ok := NextAfter(Step("teleport")); ok {
		t.Error("unknown step should have no successor")
	}
	if _, ok := NextAfter(StepPackaging); ok {
		t.Error("last step should have no successor")
	}
}

func TestStepPercentMonotonic(t *testing.T) {
	prev := 0
	for _, step := range Steps() {
		pct := step.Percent()
		if pct <= prev {
			t.Errorf("%s percent %d not greater than predecessor's %d", step, pct, prev)
		}
		prev = pct
	}
	if StepPackaging.Percent() != 100 {
		t.Errorf("final step should reach 100%%, got %d", StepPackaging.Percent())
	}
}

func TestStatusValidity(t *testing.T) {
	for _, s := range []string{"queued", "ready", "failed", "dead_lettered", "image_gen", "rendering"} {
		if !IsValidStatus(s) {
			t.Errorf("%s should be a valid status", s)
		}
	}
	if IsValidStatus("exploded") {
		t.Error("exploded should not be a valid status")
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !StatusReady.Terminal() || !StatusDeadLettered.Terminal() {
		t.Error("ready and dead_lettered are terminal")
	}
	if StatusQueued.Terminal() || StatusFailed.Terminal() || StatusForStep(StepRendering).Terminal() {
		t.Error("queued, failed and step statuses are not terminal")
	}
}
