package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/withkeystone/preview-deployer/internal/di"
	"github.com/withkeystone/preview-deployer/internal/services"
)

// SetupGitHubCommand returns the setup-github command for seeding repository secrets
func SetupGitHubCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "setup-github",
		Usage: "Store the Keystone API key as a GitHub Actions repository secret",
		Description: `Encrypts the Keystone API key with the repository's public key (libsodium
sealed box) and stores it as an Actions secret, so CI runs can authenticate
against Keystone without long-lived keys in the workflow file.

The key is read from configuration (KEYSTONE_API_KEY or SSM) unless
--api-key is given.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "repo",
				Aliases:  []string{"r"},
				Usage:    "Repository in format 'owner/repo'",
				Required: true,
				EnvVars:  []string{"GITHUB_REPOSITORY"},
			},
			&cli.StringFlag{
				Name:  "api-key",
				Usage: "Keystone API key to store (defaults to the configured key)",
			},
			&cli.StringFlag{
				Name:  "secret-name",
				Usage: "Name of the Actions secret",
				Value: "KEYSTONE_API_KEY",
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
			return setupGitHubAction(c, logger)
		},
	}
}

func setupGitHubAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context

	owner, repo, err := splitRepo(c.String("repo"))
	if err != nil {
		return err
	}

	container, err := di.New(c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	var (
		github *services.GitHubService
		config *services.Config
		sm     *services.SecretsManagerService
	)
	if err := container.Invoke(func(g *services.GitHubService, cfg *services.Config, s *services.SecretsManagerService) {
		github, config, sm = g, cfg, s
	}); err != nil {
		return fmt.Errorf("failed to resolve dependencies: %w", err)
	}

	apiKey := c.String("api-key")
	if apiKey == "" {
		apiKey, err = sm.Resolve(ctx, config.KeystoneAPIKey)
		if err != nil {
			return fmt.Errorf("failed to resolve Keystone API key: %w", err)
		}
	}
	if apiKey == "" {
		return fmt.Errorf("no API key provided and none configured")
	}

	secretName := c.String("secret-name")
	if err := github.CreateOrUpdateSecret(ctx, owner, repo, secretName, apiKey); err != nil {
		return err
	}

	logger.Info().
		Str("repo", c.String("repo")).
		Str("secret", secretName).
		Msg("Repository secret stored")

	fmt.Printf("Secret %s stored for %s/%s\n", secretName, owner, repo)
	return nil
}
