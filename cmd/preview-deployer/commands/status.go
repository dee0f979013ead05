package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/withkeystone/preview-deployer/internal/di"
	"github.com/withkeystone/preview-deployer/internal/services"
)

// StatusCommand returns the status command for a one-shot suite-run status check
func StatusCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Check the status of a Keystone suite run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "suite-run-id",
				Usage:    "Suite run ID to check",
				Required: true,
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
			return statusAction(c, logger)
		},
	}
}

func statusAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context

	container, err := di.New(c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	var keystone *services.KeystoneService
	if err := container.Invoke(func(k *services.KeystoneService) { keystone = k }); err != nil {
		return fmt.Errorf("failed to resolve Keystone client: %w", err)
	}

	suiteRunID := c.String("suite-run-id")
	status, err := keystone.GetSuiteRunStatus(ctx, suiteRunID)
	if err != nil {
		return err
	}

	logger.Debug().Str("suite_run_id", suiteRunID).Str("status", status.Status).Msg("Fetched suite run status")

	if err := FormatSuiteResult(os.Stdout, status, c.String("output"), suiteRunID); err != nil {
		return err
	}

	if status.Status == "failed" || status.FailedTests > 0 {
		return cli.Exit("", 1)
	}

	return nil
}
