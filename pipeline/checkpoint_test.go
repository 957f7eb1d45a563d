package pipeline

import (
	"testing"
	"time"

	reeltest "github.com/reelforge/reelforge/internal/testing"
)

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	jobs := NewStore(db)
	checkpoints := NewCheckpointStore(db, DefaultRecoverableThreshold)

	job := NewJob("user-1", "project-1", 10)
	if err := jobs.CreateJob(job); err != nil {
		t.Fatal(err)
	}

	artifacts := Artifacts{
		ArtifactScript:    "s3://bucket/script.json",
		ArtifactNarration: "s3://bucket/voice.wav",
	}
	if err := checkpoints.Save(job.ID, StepVoiceGen, artifacts); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	cp, err := checkpoints.Load(job.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cp == nil {
		t.Fatal("expected a checkpoint")
	}
	if cp.LastCompletedStep != StepVoiceGen {
		t.Errorf("expected last step %s, got %s", StepVoiceGen, cp.LastCompletedStep)
	}
	if cp.Progress != StepVoiceGen.Percent() {
		t.Errorf("expected progress %d, got %d", StepVoiceGen.Percent(), cp.Progress)
	}
	if cp.Artifacts[ArtifactNarration] != "s3://bucket/voice.wav" {
		t.Errorf("artifacts lost in round trip: %+v", cp.Artifacts)
	}
}

func TestCheckpointSaveOverwrites(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	jobs := NewStore(db)
	checkpoints := NewCheckpointStore(db, DefaultRecoverableThreshold)

	job := NewJob("user-1", "project-1", 10)
	if err := jobs.CreateJob(job); err != nil {
		t.Fatal(err)
	}

	if err := checkpoints.Save(job.ID, StepScripting, Artifacts{ArtifactScript: "v1"}); err != nil {
		t.Fatal(err)
	}
	if err := checkpoints.Save(job.ID, StepImageGen, Artifacts{
		ArtifactScript: "v1",
		ArtifactImages: "s3://bucket/images/",
	}); err != nil {
		t.Fatal(err)
	}

	cp, err := checkpoints.Load(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp.LastCompletedStep != StepImageGen {
		t.Errorf("overwrite lost: expected %s, got %s", StepImageGen, cp.LastCompletedStep)
	}
}

func TestCheckpointLoadMissing(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	checkpoints := NewCheckpointStore(db, DefaultRecoverableThreshold)

	cp, err := checkpoints.Load("no-such-job")
	if err != nil {
		t.Fatalf("missing checkpoint should not error: %v", err)
	}
	if cp != nil {
		t.Error("expected nil checkpoint")
	}
}

func TestCheckpointClear(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	jobs := NewStore(db)
	checkpoints := NewCheckpointStore(db, DefaultRecoverableThreshold)

	job := NewJob("user-1", "project-1", 10)
	if err := jobs.CreateJob(job); err != nil {
		t.Fatal(err)
	}
	if err := checkpoints.Save(job.ID, StepPackaging, nil); err != nil {
		t.Fatal(err)
	}
	if err := checkpoints.Clear(job.ID); err != nil {
		t.Fatal(err)
	}

	cp, err := checkpoints.Load(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp != nil {
		t.Error("cleared checkpoint should be gone")
	}
}

func TestCanResumeHonorsThreshold(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	checkpoints := NewCheckpointStore(db, StepImageGen)

	cases := []struct {
		step Step
		want bool
	}{
		{StepScripting, false},
		{StepVisualPlan, false}, // one before the threshold
		{StepImageGen, true},    // at the threshold
		{StepRendering, true},
		{StepPackaging, true},
	}

	for _, tc := range cases {
		cp := &Checkpoint{LastCompletedStep: tc.step}
		if got := checkpoints.CanResume(cp); got != tc.want {
			t.Errorf("CanResume(after %s) = %v, want %v", tc.step, got, tc.want)
		}
	}

	if checkpoints.CanResume(nil) {
		t.Error("nil checkpoint must not be resumable")
	}
	if checkpoints.CanResume(&Checkpoint{LastCompletedStep: "garbled"}) {
		t.Error("corrupt checkpoint must not be resumable")
	}
}

func TestResumePoint(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	checkpoints := NewCheckpointStore(db, StepImageGen)

	// Below threshold: restart from scratch with no inherited artifacts.
	start, artifacts, done := checkpoints.ResumePoint(&Checkpoint{
		LastCompletedStep: StepAlignment,
		Artifacts:         Artifacts{ArtifactScript: "ref"},
	})
	if start != FirstStep() || done {
		t.Errorf("below-threshold resume should restart, got start=%s done=%v", start, done)
	}
	if len(artifacts) != 0 {
		t.Error("restart must not inherit checkpoint artifacts")
	}

	// At threshold: continue with the next step and the artifacts.
	start, artifacts, done = checkpoints.ResumePoint(&Checkpoint{
		LastCompletedStep: StepImageGen,
		Artifacts:         Artifacts{ArtifactImages: "ref"},
	})
	if start != StepTimelineBuild || done {
		t.Errorf("expected resume at %s, got start=%s done=%v", StepTimelineBuild, start, done)
	}
	if artifacts[ArtifactImages] != "ref" {
		t.Error("resume should inherit checkpoint artifacts")
	}

	// After the final step: pipeline already done, only settlement remains.
	_, _, done = checkpoints.ResumePoint(&Checkpoint{
		LastCompletedStep: StepPackaging,
		Artifacts:         Artifacts{ArtifactBundle: "ref"},
	})
	if !done {
		t.Error("checkpoint after the final step means the pipeline is complete")
	}
}

func TestInvalidThresholdFallsBack(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	checkpoints := NewCheckpointStore(db, Step("not_a_step"))
	if checkpoints.Threshold() != DefaultRecoverableThreshold {
		t.Errorf("invalid threshold should fall back to %s, got %s",
			DefaultRecoverableThreshold, checkpoints.Threshold())
	}
}

func TestCheckpointCascadesWithJob(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	jobs := NewStore(db)
	checkpoints := NewCheckpointStore(db, DefaultRecoverableThreshold)

	job := NewJob("user-1", "project-1", 10)
	if err := jobs.CreateJob(job); err != nil {
		t.Fatal(err)
	}
	job.Ready(10)
	old := job.CreatedAt.Add(-100 * time.Hour)
	job.FinishedAt = &old
	if err := jobs.UpdateJob(job); err != nil {
		t.Fatal(err)
	}
	if err := checkpoints.Save(job.ID, StepPackaging, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := jobs.CleanupOld(time.Hour); err != nil {
		t.Fatal(err)
	}

	cp, err := checkpoints.Load(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp != nil {
		t.Error("checkpoint should cascade-delete with its job")
	}
}
