package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/withkeystone/preview-deployer/cmd/preview-deployer/commands"
	"github.com/withkeystone/preview-deployer/internal/di"
)

func main() {
	logger := di.ProvideLogger()

	// A new trigger for the same PR cancels the previous in-flight run by
	// sending SIGTERM; cancellation flows through the context and teardown
	// still runs.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	app := &cli.App{
		Name:  "preview-deployer",
		Usage: "Pull-request preview environments with Keystone test runs",
		Description: `Builds the preview images, starts the stack, exposes it through a quick
tunnel, posts the preview link to the pull request, and runs a Keystone
suite against the tunneled URL before tearing everything down.

This tool provides commands for:
  - Running the full preview pipeline in CI (run)
  - Managing the preview stack directly (up, down)
  - Driving Keystone suite runs against any URL (test, status)
  - Posting preview comments and seeding repository secrets`,
		Commands: []*cli.Command{
			commands.RunCommand(&logger),
			commands.UpCommand(&logger),
			commands.DownCommand(&logger),
			commands.TestCommand(&logger),
			commands.StatusCommand(&logger),
			commands.CommentCommand(&logger),
			commands.RunsCommand(&logger),
			commands.SetupGitHubCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
