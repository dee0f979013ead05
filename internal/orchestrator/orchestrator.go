package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/withkeystone/preview-deployer/internal/dao/rundao"
	"github.com/withkeystone/preview-deployer/internal/services"
)

// CommentMarker identifies the sticky preview comment on a pull request
const CommentMarker = "<!-- preview-deployer -->"

// Stack manages the preview stack lifecycle
type Stack interface {
	Build(ctx context.Context, services ...string) error
	Up(ctx context.Context, scales map[string]int) error
	Down(ctx context.Context) error
	StreamLogs(ctx context.Context, w io.Writer) (func(), error)
}

// Health waits for the stack's health endpoint
type Health interface {
	Wait(ctx context.Context, url string, timeout, interval time.Duration) error
}

// TunnelOpener provisions a quick tunnel to a local URL
type TunnelOpener interface {
	Open(ctx context.Context, localURL string) (*services.Tunnel, error)
}

// Notifier posts the preview link to the pull request
type Notifier interface {
	UpsertComment(ctx context.Context, owner, repo string, pr int, marker, body string) error
}

// SuiteRunner triggers and polls a Keystone suite run
type SuiteRunner interface {
	TriggerSuiteRun(ctx context.Context, input services.TriggerInput) (*services.TriggerResult, error)
	WaitForCompletion(ctx context.Context, suiteRunID string, timeout, pollInterval time.Duration) (*services.SuiteRunStatus, error)
}

// Recorder persists run records. Optional; a nil Recorder disables recording.
type Recorder interface {
	Create(ctx context.Context, input rundao.CreateInput) (rundao.Record, error)
	Update(ctx context.Context, input rundao.UpdateInput) error
}

// Input carries everything one pipeline run needs. All values are ephemeral
// strings handed between phases; none are persisted except in the optional
// run record.
type Input struct {
	Owner    string         // GitHub repository owner
	Repo     string         // GitHub repository name
	Env      string         // Deployer environment (dev, stg, prd)
	Branch   string         // Git branch
	Commit   string         // Git commit hash
	PR       int            // Pull request number; 0 skips the comment
	SuiteID  string         // Keystone suite to run
	RunID    string         // KSUID identifying this run
	ImageTag string         // Tag applied to the built images
	Services []string       // Compose services to build
	Scales   map[string]int // Service scale overrides for up

	LocalBaseURL   string        // Stack address on the runner, e.g. http://localhost:3000
	HealthPath     string        // Health endpoint path, e.g. /healthz
	HealthTimeout  time.Duration // Overall health wait budget
	HealthInterval time.Duration // Delay between health probes

	SuiteTimeout      time.Duration // Overall suite run budget
	SuitePollInterval time.Duration // Delay between status polls

	LogWriter io.Writer // Destination for the background stack log tail
}

// Result is the outcome of a completed pipeline
type Result struct {
	TunnelURL string
	Suite     *services.SuiteRunStatus
}

// Orchestrator runs the preview pipeline: build, up, health wait, tunnel,
// notify, test. Phases are strictly sequential; teardown always runs.
type Orchestrator struct {
	stack    Stack
	health   Health
	tunnels  TunnelOpener
	notifier Notifier
	suites   SuiteRunner
	recorder Recorder
}

// New creates a new Orchestrator instance. recorder may be nil.
func New(stack Stack, health Health, tunnels TunnelOpener, notifier Notifier, suites SuiteRunner, recorder Recorder) *Orchestrator {
	return &Orchestrator{
		stack:    stack,
		health:   health,
		tunnels:  tunnels,
		notifier: notifier,
		suites:   suites,
		recorder: recorder,
	}
}

// Run executes the pipeline. The stack is torn down on every exit path,
// including cancellation; teardown uses a context detached from ctx so a
// cancelled run still cleans up.
func (o *Orchestrator) Run(ctx context.Context, input Input) (result *Result, err error) {
	logger := zerolog.Ctx(ctx)

	pk := rundao.NewPK(input.Repo, input.Env)
	o.record(ctx, input, func() error {
		_, err := o.recorder.Create(ctx, rundao.CreateInput{
			Repo:     input.Repo,
			Env:      input.Env,
			SK:       input.RunID,
			PR:       input.PR,
			Branch:   input.Branch,
			Commit:   input.Commit,
			ImageTag: input.ImageTag,
		})
		return err
	})

	defer func() {
		status := rundao.RunStatusSuccess
		update := rundao.UpdateInput{PK: pk, SK: input.RunID}
		if err != nil {
			status = rundao.RunStatusFailed
			msg := err.Error()
			update.ErrorMsg = &msg
		} else if result != nil && result.Suite != nil && result.Suite.FailedTests > 0 {
			status = rundao.RunStatusFailed
			update.FailedTests = &result.Suite.FailedTests
		}
		update.Status = &status

		// Record the final status even when the run was cancelled
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		o.record(recordCtx, input, func() error { return o.recorder.Update(recordCtx, update) })
	}()

	logger.Info().Str("run_id", input.RunID).Str("repo", input.Repo).Msg("Building preview images")
	if err := o.stack.Build(ctx, input.Services...); err != nil {
		return nil, err
	}

	// Teardown is registered before up, so a partially started stack is
	// cleaned up even when up itself fails. The detached context means
	// cancellation cannot skip it either.
	defer func() {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		if downErr := o.stack.Down(downCtx); downErr != nil {
			logger.Warn().Err(downErr).Msg("Stack teardown failed")
		}
	}()

	logger.Info().Msg("Starting preview stack")
	if err := o.stack.Up(ctx, input.Scales); err != nil {
		return nil, err
	}

	status := rundao.RunStatusInProgress
	o.record(ctx, input, func() error {
		return o.recorder.Update(ctx, rundao.UpdateInput{PK: pk, SK: input.RunID, Status: &status})
	})

	if input.LogWriter != nil {
		stop, logErr := o.stack.StreamLogs(ctx, input.LogWriter)
		if logErr != nil {
			// Observability only; never fail the pipeline over the log tail
			logger.Warn().Err(logErr).Msg("Failed to start log tail")
		} else {
			defer stop()
		}
	}

	healthURL := input.LocalBaseURL + input.HealthPath
	logger.Info().Str("url", healthURL).Msg("Waiting for stack health")
	if err := o.health.Wait(ctx, healthURL, input.HealthTimeout, input.HealthInterval); err != nil {
		return nil, err
	}

	tunnel, err := o.tunnels.Open(ctx, input.LocalBaseURL)
	if err != nil {
		return nil, err
	}
	defer tunnel.Close()

	tunnelURL := tunnel.URL
	o.record(ctx, input, func() error {
		inProgress := rundao.RunStatusInProgress
		return o.recorder.Update(ctx, rundao.UpdateInput{PK: pk, SK: input.RunID, Status: &inProgress, TunnelURL: &tunnelURL})
	})

	if input.PR > 0 {
		body := CommentBody(input, tunnelURL)
		if err := o.notifier.UpsertComment(ctx, input.Owner, input.Repo, input.PR, CommentMarker, body); err != nil {
			return nil, fmt.Errorf("failed to post preview comment: %w", err)
		}
		logger.Info().Int("pr", input.PR).Str("url", tunnelURL).Msg("Posted preview comment")
	}

	trigger, err := o.suites.TriggerSuiteRun(ctx, services.TriggerInput{
		SuiteID: input.SuiteID,
		BaseURL: tunnelURL,
		CIRunID: input.RunID,
		Branch:  input.Branch,
		Commit:  input.Commit,
	})
	if err != nil {
		return nil, err
	}

	suiteRunID := trigger.SuiteRunID
	o.record(ctx, input, func() error {
		inProgress := rundao.RunStatusInProgress
		return o.recorder.Update(ctx, rundao.UpdateInput{PK: pk, SK: input.RunID, Status: &inProgress, SuiteRunID: &suiteRunID})
	})

	logger.Info().Str("suite_run_id", suiteRunID).Msg("Suite run triggered, polling for completion")
	suite, err := o.suites.WaitForCompletion(ctx, suiteRunID, input.SuiteTimeout, input.SuitePollInterval)
	if err != nil {
		return nil, err
	}

	return &Result{
		TunnelURL: tunnelURL,
		Suite:     suite,
	}, nil
}

// record runs a recorder operation when recording is enabled. Recording
// failures are logged but never fail the pipeline.
func (o *Orchestrator) record(ctx context.Context, input Input, fn func() error) {
	if o.recorder == nil {
		return
	}
	if err := fn(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("run_id", input.RunID).Msg("Failed to record run state")
	}
}

// CommentBody renders the sticky pull-request comment for a preview
func CommentBody(input Input, tunnelURL string) string {
	commit := input.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}

	return fmt.Sprintf(`%s
## Preview environment

Preview for this pull request is up at %s

| | |
| --- | --- |
| Branch | %s |
| Commit | %s |
| Run | %s |

Keystone suite %s is running against this preview. The stack and tunnel are
torn down when the run finishes.`,
		CommentMarker, tunnelURL, input.Branch, commit, input.RunID, input.SuiteID)
}
