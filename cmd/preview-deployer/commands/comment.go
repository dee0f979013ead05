package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/withkeystone/preview-deployer/internal/di"
	apperrors "github.com/withkeystone/preview-deployer/internal/errors"
	"github.com/withkeystone/preview-deployer/internal/orchestrator"
	"github.com/withkeystone/preview-deployer/internal/services"
)

// CommentCommand returns the comment command for posting or updating the
// sticky preview comment on a pull request
func CommentCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "comment",
		Usage: "Create or update the preview comment on a pull request",
		Description: `Posts a comment to the pull request, or updates the existing one. Comments
are matched by an embedded marker so repeated runs update a single sticky
comment instead of piling up.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "repo",
				Aliases:  []string{"r"},
				Usage:    "Repository in format 'owner/repo'",
				Required: true,
				EnvVars:  []string{"GITHUB_REPOSITORY"},
			},
			&cli.IntFlag{
				Name:     "pr",
				Usage:    "Pull request number",
				Required: true,
				EnvVars:  []string{"PR_NUMBER"},
			},
			&cli.StringFlag{
				Name:     "message",
				Aliases:  []string{"m"},
				Usage:    "Comment body",
				Required: true,
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
			return commentAction(c, logger)
		},
	}
}

func commentAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context

	pr := c.Int("pr")
	if pr <= 0 {
		return apperrors.ErrMissingPullRequest
	}

	owner, repo, err := splitRepo(c.String("repo"))
	if err != nil {
		return err
	}

	container, err := di.New(c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	var github *services.GitHubService
	if err := container.Invoke(func(g *services.GitHubService) { github = g }); err != nil {
		return fmt.Errorf("failed to resolve GitHub client: %w", err)
	}

	body := orchestrator.CommentMarker + "\n" + c.String("message")

	if err := github.UpsertComment(ctx, owner, repo, pr, orchestrator.CommentMarker, body); err != nil {
		return err
	}

	logger.Info().Int("pr", pr).Msg("Preview comment posted")
	return nil
}
