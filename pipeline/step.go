// Package pipeline drives a production job through the ordered step
// sequence, persisting a resumable checkpoint after each completed step and
// deciding retry versus dead-letter on failure.
package pipeline

// Step identifies one stage of the production pipeline. Steps execute in
// the fixed order returned by Steps(); each consumes the artifacts of its
// predecessors.
type Step string

const (
	StepScripting     Step = "scripting"
	StepVoiceGen      Step = "voice_gen"
	StepAlignment     Step = "alignment"
	StepVisualPlan    Step = "visual_plan"
	StepImageGen      Step = "image_gen"
	StepTimelineBuild Step = "timeline_build"
	StepRendering     Step = "rendering"
	StepPackaging     Step = "packaging"
)

// stepOrder is the fixed total order of the pipeline.
var stepOrder = []Step{
	StepScripting,
	StepVoiceGen,
	StepAlignment,
	StepVisualPlan,
	StepImageGen,
	StepTimelineBuild,
	StepRendering,
	StepPackaging,
}

// stepPercent is the job progress reached once the step completes.
var stepPercent = map[Step]int{
	StepScripting:     10,
	StepVoiceGen:      22,
	StepAlignment:     30,
	StepVisualPlan:    42,
	StepImageGen:      65,
	StepTimelineBuild: 75,
	StepRendering:     92,
	StepPackaging:     100,
}

// DefaultRecoverableThreshold is the earliest step from which checkpoint
// resume is worthwhile. Image generation is the first expensive, slow
// step; everything before it is cheap enough to just redo.
const DefaultRecoverableThreshold = StepImageGen

// Steps returns the pipeline steps in execution order.
func Steps() []Step {
	steps := make([]Step, len(stepOrder))
	copy(steps, stepOrder)
	return steps
}

// FirstStep returns the first step of the pipeline.
func FirstStep() Step {
	return stepOrder[0]
}

// NextAfter returns the step immediately following s in the fixed order.
// ok is false when s is the last step (or unknown).
func NextAfter(s Step) (next Step, ok bool) {
	idx := s.Index()
	if idx < 0 || idx >= len(stepOrder)-1 {
		return "", false
	}
	return stepOrder[idx+1], true
}

// Index returns the step's position in the fixed order, or -1 if unknown.
func (s Step) Index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Valid returns true if s is a known pipeline step.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Percent returns the job progress reached once this step completes.
func (s Step) Percent() int {
	return stepPercent[s]
}

// TotalSteps returns the number of steps in the pipeline.
func TotalSteps() int {
	return len(stepOrder)
}
