package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/withkeystone/preview-deployer/internal/di"
	"github.com/withkeystone/preview-deployer/internal/services"
)

// TestCommand returns the test command that triggers a Keystone suite run
// against a base URL and polls it to completion
func TestCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "test",
		Usage: "Run a Keystone suite against a base URL and wait for the result",
		Description: `Triggers a Keystone suite run against the given base URL, polls the run
until it reaches a terminal status (completed, failed, or aborted), and
renders the result. Exits non-zero when any test fails or the run times out.

Examples:
  preview-deployer test --suite-id st_123 --base-url https://example.trycloudflare.com
  preview-deployer test --suite-id st_123 --base-url https://staging.acme.dev --output github`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "suite-id",
				Aliases:  []string{"s"},
				Usage:    "Keystone suite ID to run",
				Required: true,
				EnvVars:  []string{"KEYSTONE_SUITE_ID"},
			},
			&cli.StringFlag{
				Name:     "base-url",
				Aliases:  []string{"u"},
				Usage:    "Base URL the suite runs against",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "ci-run-id",
				Usage:   "CI run identifier attached to the suite run",
				EnvVars: []string{"GITHUB_RUN_ID"},
			},
			&cli.StringFlag{
				Name:    "branch",
				Usage:   "Branch name attached to the suite run",
				EnvVars: []string{"GITHUB_HEAD_REF"},
			},
			&cli.StringFlag{
				Name:    "commit",
				Usage:   "Commit SHA attached to the suite run",
				EnvVars: []string{"GITHUB_SHA"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Maximum time to wait for the suite run",
				Value: 10 * time.Minute,
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Delay between status polls",
				Value: 5 * time.Second,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output format: text, json, or github",
				Value:   "text",
			},
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "Deployer environment (dev, stg, or prd)",
				Value:   "dev",
				EnvVars: []string{"ENV"},
			},
		},
		Action: func(c *cli.Context) error {
			return testAction(c, logger)
		},
	}
}

func testAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context

	container, err := di.New(c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	var keystone *services.KeystoneService
	if err := container.Invoke(func(k *services.KeystoneService) { keystone = k }); err != nil {
		return fmt.Errorf("failed to resolve Keystone client: %w", err)
	}

	logger.Info().Str("suite_id", c.String("suite-id")).Str("base_url", c.String("base-url")).Msg("Triggering suite run")

	trigger, err := keystone.TriggerSuiteRun(ctx, services.TriggerInput{
		SuiteID: c.String("suite-id"),
		BaseURL: c.String("base-url"),
		CIRunID: c.String("ci-run-id"),
		Branch:  c.String("branch"),
		Commit:  c.String("commit"),
	})
	if err != nil {
		return err
	}

	logger.Info().Str("suite_run_id", trigger.SuiteRunID).Str("run_url", trigger.RunURL).Msg("Suite run started")

	status, err := keystone.WaitForCompletion(ctx, trigger.SuiteRunID, c.Duration("timeout"), c.Duration("poll-interval"))
	if err != nil {
		return err
	}

	if err := FormatSuiteResult(os.Stdout, status, c.String("output"), trigger.SuiteRunID); err != nil {
		return err
	}

	if status.FailedTests > 0 {
		return cli.Exit(fmt.Sprintf("suite run finished with %d failed test(s)", status.FailedTests), 1)
	}
	if status.Status != "completed" {
		return cli.Exit(fmt.Sprintf("suite run finished with status %s", status.Status), 1)
	}

	return nil
}
