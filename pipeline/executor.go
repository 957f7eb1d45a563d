package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// StepExecutor runs one production stage. Implementations call out to
// LLM/TTS/image/render services and are treated as black boxes: they take
// the accumulated artifacts as input and return either the artifacts they
// produced or a typed failure. All retry policy lives in the orchestrator.
//
// Context cancellation: executors MUST honor ctx.Done() and exit promptly
// when cancelled; the worker re-queues the job with its checkpoint intact.
type StepExecutor interface {
	// Execute runs the stage and returns the artifacts it produced.
	// Failures should be *StepError so the orchestrator records a stable
	// error code; plain errors are classified from their message.
	Execute(ctx context.Context, job *Job, artifacts Artifacts) (Artifacts, error)

	// Step returns the pipeline step this executor implements.
	Step() Step
}

// ExecutorRegistry maps each pipeline step to its executor.
// Thread-safe for concurrent registration and lookup.
type ExecutorRegistry struct {
	executors map[Step]StepExecutor
	mu        sync.RWMutex
}

// NewExecutorRegistry creates an empty executor registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{
		executors: make(map[Step]StepExecutor),
	}
}

// Register adds an executor for its declared step.
// Panics if an executor is already registered for that step.
func (r *ExecutorRegistry) Register(executor StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	step := executor.Step()
	if _, exists := r.executors[step]; exists {
		panic(fmt.Sprintf("executor already registered for step: %s", step))
	}
	r.executors[step] = executor
}

// Get retrieves the executor for a step. Returns nil if none is registered.
func (r *ExecutorRegistry) Get(step Step) StepExecutor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[step]
}

// Has checks if an executor is registered for a step.
func (r *ExecutorRegistry) Has(step Step) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.executors[step]
	return exists
}

// Complete reports whether every pipeline step has a registered executor.
func (r *ExecutorRegistry) Complete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, step := range stepOrder {
		if _, exists := r.executors[step]; !exists {
			return false
		}
	}
	return true
}
