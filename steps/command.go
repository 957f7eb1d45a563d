// Package steps provides the command-backed step executors used by the
// standalone worker binary. Each pipeline step maps to an external tool
// (LLM scripting CLI, TTS client, ffmpeg wrapper) configured per
// deployment; hosted deployments replace these with direct provider
// executors.
package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/errors"
	"github.com/reelforge/reelforge/pipeline"
)

// primaryArtifact is the artifact kind each step's command emits on stdout.
var primaryArtifact = map[pipeline.Step]pipeline.ArtifactKind{
	pipeline.StepScripting:     pipeline.ArtifactScript,
	pipeline.StepVoiceGen:      pipeline.ArtifactNarration,
	pipeline.StepAlignment:     pipeline.ArtifactCaptions,
	pipeline.StepVisualPlan:    pipeline.ArtifactVisualPlan,
	pipeline.StepImageGen:      pipeline.ArtifactImages,
	pipeline.StepTimelineBuild: pipeline.ArtifactTimeline,
	pipeline.StepRendering:     pipeline.ArtifactVideo,
	pipeline.StepPackaging:     pipeline.ArtifactBundle,
}

// CommandExecutor runs one pipeline step as an external command.
//
// The command receives the job and prior artifacts through REELFORGE_*
// environment variables and prints the storage reference of its output as
// the last line of stdout.
type CommandExecutor struct {
	step    pipeline.Step
	command string
	timeout time.Duration
	workDir string
	log     *zap.SugaredLogger
}

// NewCommandExecutor creates a command-backed executor for a step.
func NewCommandExecutor(step pipeline.Step, command string, timeout time.Duration, workDir string, log *zap.SugaredLogger) *CommandExecutor {
	return &CommandExecutor{
		step:    step,
		command: command,
		timeout: timeout,
		workDir: workDir,
		log:     log,
	}
}

// Step returns the pipeline step this executor implements.
func (e *CommandExecutor) Step() pipeline.Step {
	return e.step
}

// Execute runs the configured command and returns the artifact it produced.
func (e *CommandExecutor) Execute(ctx context.Context, job *pipeline.Job, artifacts pipeline.Artifacts) (pipeline.Artifacts, error) {
	words, err := shellquote.Split(e.command)
	if err != nil {
		return nil, pipeline.NewStepError(pipeline.ErrorCodeInvalidInput,
			fmt.Sprintf("invalid command for step %s", e.step), err)
	}
	if len(words) == 0 {
		return nil, pipeline.NewStepError(pipeline.ErrorCodeInvalidInput,
			fmt.Sprintf("empty command for step %s", e.step), nil)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	jobDir := filepath.Join(e.workDir, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create work dir for job %s", job.ID)
	}

	cmd := exec.CommandContext(ctx, words[0], words[1:]...)
	cmd.Dir = jobDir
	cmd.Env = append(os.Environ(),
		"REELFORGE_JOB_ID="+job.ID,
		"REELFORGE_USER_ID="+job.UserID,
		"REELFORGE_PROJECT_ID="+job.ProjectID,
		"REELFORGE_STEP="+string(e.step),
		"REELFORGE_WORK_DIR="+jobDir,
	)
	for kind, ref := range artifacts {
		cmd.Env = append(cmd.Env,
			"REELFORGE_ARTIFACT_"+strings.ToUpper(string(kind))+"="+ref)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	e.log.Debugw("Step command finished",
		"step", string(e.step),
		"job_id", job.ID,
		"duration", time.Since(start),
		"error", runErr)

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, pipeline.NewStepError(pipeline.ErrorCodeTimeout,
				fmt.Sprintf("%s command timed out after %s", e.step, e.timeout), runErr)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pipeline.NewStepError(pipeline.ErrorCodeProviderError,
			fmt.Sprintf("%s command failed: %s", e.step, tail(stderr.String(), 400)), runErr)
	}

	ref := lastLine(stdout.String())
	if ref == "" {
		return nil, pipeline.NewStepError(pipeline.ErrorCodeProviderError,
			fmt.Sprintf("%s command produced no artifact reference", e.step), nil)
	}

	return pipeline.Artifacts{primaryArtifact[e.step]: ref}, nil
}

// RegisterCommandExecutors builds a complete registry from the configured
// step command map. Returns an error naming every unmapped step.
func RegisterCommandExecutors(registry *pipeline.ExecutorRegistry, commands map[string]string, timeout time.Duration, workDir string, log *zap.SugaredLogger) error {
	var missing []string
	for _, step := range pipeline.Steps() {
		command, ok := commands[string(step)]
		if !ok || strings.TrimSpace(command) == "" {
			missing = append(missing, string(step))
			continue
		}
		registry.Register(NewCommandExecutor(step, command, timeout, workDir, log))
	}

	if len(missing) > 0 {
		return errors.Newf("no command configured for steps: %s", strings.Join(missing, ", "))
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
