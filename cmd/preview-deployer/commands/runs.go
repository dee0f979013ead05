package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/withkeystone/preview-deployer/internal/dao/rundao"
	"github.com/withkeystone/preview-deployer/internal/di"
)

// RunsCommand returns the runs command for listing recorded preview runs
func RunsCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List recorded preview runs",
		Description: `Lists preview run records from the runs table. With --repo, lists all runs
for that repository; without it, lists the latest run per repository.

Requires a configured runs table (PREVIEW_RUNS_TABLE or SSM).`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Usage:   "Repository name to list runs for",
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
			return runsAction(c, logger)
		},
	}
}

func runsAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context
	env := c.String("env")

	container, err := di.New(env)
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	var dao *rundao.DAO
	if err := container.Invoke(func(d *rundao.DAO) { dao = d }); err != nil {
		return fmt.Errorf("failed to resolve run DAO: %w", err)
	}
	if dao == nil {
		return fmt.Errorf("no runs table configured; set PREVIEW_RUNS_TABLE or the runs-table parameter")
	}

	var records []rundao.Record
	if repo := c.String("repo"); repo != "" {
		records, err = dao.QueryByRepoEnv(ctx, repo, env)
	} else {
		records, err = dao.QueryLatestRuns(ctx, env)
	}
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No preview runs found")
		return nil
	}

	fmt.Printf("%-40s %-12s %-8s %-20s %s\n", "RUN", "STATUS", "PR", "CREATED", "TUNNEL")
	for _, record := range records {
		tunnel := ""
		if record.TunnelURL != nil {
			tunnel = *record.TunnelURL
		}
		created := time.Unix(record.CreatedAt, 0).UTC().Format(time.RFC3339)
		fmt.Printf("%-40s %-12s %-8d %-20s %s\n", record.GetID(), record.Status, record.PR, created, tunnel)
	}

	logger.Debug().Int("count", len(records)).Msg("Listed preview runs")
	return nil
}
