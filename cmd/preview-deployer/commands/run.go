package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"
	"github.com/withkeystone/preview-deployer/internal/dao/rundao"
	"github.com/withkeystone/preview-deployer/internal/di"
	apperrors "github.com/withkeystone/preview-deployer/internal/errors"
	"github.com/withkeystone/preview-deployer/internal/orchestrator"
	"github.com/withkeystone/preview-deployer/internal/policy"
	"github.com/withkeystone/preview-deployer/internal/services"
)

// RunCommand returns the run command that executes the full preview pipeline:
// validate, build, up, health wait, tunnel, comment, suite run, teardown
func RunCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the full preview pipeline for a pull request",
		Description: `Builds the preview images, starts the stack, waits for the health endpoint,
opens a quick tunnel, posts the preview link as a pull-request comment, runs
the Keystone suite against the tunneled URL, and tears the stack down.

Teardown always runs, even when an earlier step fails or the run is cancelled.

Examples:
  # Typical CI invocation
  preview-deployer run --suite-id st_123 --repo acme/shop --pr 42 \
    --branch feature/checkout --commit $GITHUB_SHA

  # Local dry run without a PR comment
  preview-deployer run --suite-id st_123 --repo acme/shop`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "suite-id",
				Aliases:  []string{"s"},
				Usage:    "Keystone suite ID to run against the preview",
				Required: true,
				EnvVars:  []string{"KEYSTONE_SUITE_ID"},
			},
			&cli.StringFlag{
				Name:     "repo",
				Aliases:  []string{"r"},
				Usage:    "Repository in format 'owner/repo'",
				Required: true,
				EnvVars:  []string{"GITHUB_REPOSITORY"},
			},
			&cli.IntFlag{
				Name:    "pr",
				Usage:   "Pull request number; omit to skip the preview comment",
				EnvVars: []string{"PR_NUMBER"},
			},
			&cli.StringFlag{
				Name:    "branch",
				Usage:   "Git branch",
				EnvVars: []string{"GITHUB_HEAD_REF"},
			},
			&cli.StringFlag{
				Name:    "commit",
				Usage:   "Git commit SHA",
				EnvVars: []string{"GITHUB_SHA"},
			},
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "Deployer environment (dev, stg, or prd)",
				Value:   "dev",
				EnvVars: []string{"ENV"},
			},
			&cli.StringFlag{
				Name:    "compose-file",
				Aliases: []string{"f"},
				Usage:   "Path to the compose file",
				Value:   "docker-compose.yml",
				EnvVars: []string{"COMPOSE_FILE"},
			},
			&cli.StringFlag{
				Name:    "project",
				Aliases: []string{"p"},
				Usage:   "Compose project name for the preview stack",
				Value:   "preview",
				EnvVars: []string{"COMPOSE_PROJECT_NAME"},
			},
			&cli.StringSliceFlag{
				Name:  "service",
				Usage: "Service image(s) to build (can be specified multiple times)",
				Value: cli.NewStringSlice("web", "worker"),
			},
			&cli.StringSliceFlag{
				Name:  "scale",
				Usage: "Scale override(s) in {service}={replicas} form (can be specified multiple times)",
				Value: cli.NewStringSlice("worker=2"),
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Local port the stack serves on",
				Value:   3000,
				EnvVars: []string{"PREVIEW_PORT"},
			},
			&cli.StringFlag{
				Name:  "health-path",
				Usage: "Health endpoint path",
				Value: "/healthz",
			},
			&cli.DurationFlag{
				Name:  "health-timeout",
				Usage: "Overall health wait budget",
				Value: 3 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "health-interval",
				Usage: "Delay between health probes",
				Value: 2 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Maximum time to wait for the suite run",
				Value: 10 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Delay between suite status polls",
				Value: 5 * time.Second,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output format: text, json, or github",
				Value:   "text",
			},
			&cli.StringFlag{
				Name:  "image-tag",
				Usage: "Tag for the built images (defaults to the short commit or run ID)",
			},
			&cli.BoolFlag{
				Name:  "push",
				Usage: "Push the built images to ECR after the run",
			},
		},
		Action: func(c *cli.Context) error {
			return runAction(c, logger)
		},
	}
}

func runAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context

	owner, repo, err := splitRepo(c.String("repo"))
	if err != nil {
		return err
	}

	scales, err := parseScaleFlags(c.StringSlice("scale"))
	if err != nil {
		return err
	}

	runID := ksuid.New().String()
	imageTag := c.String("image-tag")
	if imageTag == "" {
		if commit := c.String("commit"); len(commit) >= 7 {
			imageTag = commit[:7]
		} else {
			imageTag = strings.ToLower(runID)
		}
	}

	// Validate the compose file before anything starts
	composeFile := c.String("compose-file")
	if err := validateComposeFile(ctx, composeFile); err != nil {
		return err
	}

	container, err := di.New(c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	var (
		keystone *services.KeystoneService
		github   *services.GitHubService
		dao      *rundao.DAO
	)
	if err := container.Invoke(func(k *services.KeystoneService, g *services.GitHubService, d *rundao.DAO) {
		keystone, github, dao = k, g, d
	}); err != nil {
		return fmt.Errorf("failed to resolve dependencies: %w", err)
	}

	compose := services.NewComposeService(composeFile, c.String("project"))

	var recorder orchestrator.Recorder
	if dao != nil {
		recorder = dao
	}

	orch := orchestrator.New(
		compose,
		services.NewHealthChecker(),
		services.NewTunnelService(),
		github,
		keystone,
		recorder,
	)

	input := orchestrator.Input{
		Owner:             owner,
		Repo:              repo,
		Env:               c.String("env"),
		Branch:            c.String("branch"),
		Commit:            c.String("commit"),
		PR:                c.Int("pr"),
		SuiteID:           c.String("suite-id"),
		RunID:             runID,
		ImageTag:          imageTag,
		Services:          c.StringSlice("service"),
		Scales:            scales,
		LocalBaseURL:      fmt.Sprintf("http://localhost:%d", c.Int("port")),
		HealthPath:        c.String("health-path"),
		HealthTimeout:     c.Duration("health-timeout"),
		HealthInterval:    c.Duration("health-interval"),
		SuiteTimeout:      c.Duration("timeout"),
		SuitePollInterval: c.Duration("poll-interval"),
		LogWriter:         os.Stderr,
	}

	logger.Info().
		Str("run_id", runID).
		Str("repo", c.String("repo")).
		Str("suite_id", input.SuiteID).
		Msg("Starting preview pipeline")

	result, err := orch.Run(ctx, input)
	if err != nil {
		return err
	}

	if err := FormatSuiteResult(os.Stdout, result.Suite, c.String("output"), ""); err != nil {
		return err
	}

	if c.Bool("push") {
		if err := pushImages(ctx, container, c.String("project"), repo, imageTag, c.StringSlice("service")); err != nil {
			return err
		}
	}

	if result.Suite.FailedTests > 0 {
		return cli.Exit(fmt.Sprintf("suite run finished with %d failed test(s)", result.Suite.FailedTests), 1)
	}
	if result.Suite.Status != "completed" {
		return cli.Exit(fmt.Sprintf("suite run finished with status %s", result.Suite.Status), 1)
	}

	return nil
}

// validateComposeFile parses the compose file and evaluates the preview policy
func validateComposeFile(ctx context.Context, path string) error {
	doc, err := services.LoadComposeFile(path)
	if err != nil {
		return err
	}

	validator, err := policy.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to build policy validator: %w", err)
	}

	result, err := validator.ValidateCompose(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to validate compose file: %w", err)
	}

	if !result.Allowed {
		return fmt.Errorf("%w: %s", apperrors.ErrPolicyViolation, strings.Join(result.Violations, "; "))
	}

	return nil
}

// pushImages retags the locally built compose images and pushes them to the
// caller's ECR registry
func pushImages(ctx context.Context, container di.Container, project, repo, imageTag string, serviceNames []string) error {
	logger := zerolog.Ctx(ctx)

	ecrService := di.MustGet[*services.ECRService](container)

	registry, err := ecrService.RegistryURI(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve ECR registry: %w", err)
	}

	creds, err := ecrService.GetCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ECR credentials: %w", err)
	}

	docker := services.NewDockerService()
	if err := docker.Login(ctx, registry, creds.Username, creds.Password); err != nil {
		return err
	}

	for _, svc := range serviceNames {
		// Compose names built images {project}-{service}
		source := fmt.Sprintf("%s-%s:latest", project, svc)
		target := fmt.Sprintf("%s/%s-%s:%s", registry, repo, svc, imageTag)

		if err := docker.Tag(ctx, source, target); err != nil {
			return err
		}
		if err := docker.Push(ctx, target); err != nil {
			return err
		}

		logger.Info().Str("image", target).Msg("Pushed preview image")
	}

	return nil
}

// splitRepo parses an owner/repo reference
func splitRepo(full string) (owner, repo string, err error) {
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repo must be in format 'owner/repo', got: %s", full)
	}
	return parts[0], parts[1], nil
}
