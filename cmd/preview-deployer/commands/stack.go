package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/withkeystone/preview-deployer/internal/services"
	"github.com/withkeystone/preview-deployer/internal/utils"
)

// UpCommand returns the up command for starting the preview stack on its own
func UpCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "up",
		Usage: "Build and start the preview stack without running the pipeline",
		Flags: []cli.Flag{
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
				Name:  "scale",
				Usage: "Scale override(s) in {service}={replicas} form",
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
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for the health endpoint before returning",
			},
			&cli.DurationFlag{
				Name:  "health-timeout",
				Usage: "Overall health wait budget",
				Value: 3 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			return upAction(c, logger)
		},
	}
}

func upAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context

	composeFile := c.String("compose-file")
	if err := validateComposeFile(ctx, composeFile); err != nil {
		return err
	}

	scales, err := parseScaleFlags(c.StringSlice("scale"))
	if err != nil {
		return err
	}

	compose := services.NewComposeService(composeFile, c.String("project"))

	logger.Info().Str("project", c.String("project")).Msg("Building preview images")
	if err := compose.Build(ctx); err != nil {
		return err
	}

	logger.Info().Msg("Starting preview stack")
	if err := compose.Up(ctx, scales); err != nil {
		return err
	}

	if c.Bool("wait") {
		url := fmt.Sprintf("http://localhost:%d%s", c.Int("port"), c.String("health-path"))
		checker := services.NewHealthChecker()
		if err := checker.Wait(ctx, url, c.Duration("health-timeout"), 2*time.Second); err != nil {
			return err
		}
	}

	fmt.Printf("Preview stack %s is up\n", c.String("project"))
	return nil
}

// DownCommand returns the down command for tearing the preview stack down
func DownCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "down",
		Usage: "Tear down the preview stack and remove its volumes",
		Flags: []cli.Flag{
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
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			compose := services.NewComposeService(c.String("compose-file"), c.String("project"))

			logger.Info().Str("project", c.String("project")).Msg("Tearing down preview stack")
			if err := compose.Down(ctx); err != nil {
				return err
			}

			fmt.Printf("Preview stack %s is down\n", c.String("project"))
			return nil
		},
	}
}

// parseScaleFlags converts --scale flag values into a scale map
func parseScaleFlags(specs []string) (map[string]int, error) {
	scales, err := utils.ParseScales(specs)
	if err != nil {
		return nil, fmt.Errorf("invalid --scale: %w", err)
	}
	return scales, nil
}
