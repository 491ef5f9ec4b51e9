package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/playbot/pkg/usecase/history"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	var cfg config

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Number of entries to show (at most 10)",
			Value:   history.MaxRecent,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "List recently generated guides",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			// Initialize repository
			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			items, err := history.New(repo).ListRecent(ctx, int(c.Int("limit")))
			if err != nil {
				return err
			}

			// Display history
			if len(items) == 0 {
				fmt.Fprintln(c.Root().Writer, "No history found")
				return nil
			}

			for _, item := range items {
				fmt.Fprintf(c.Root().Writer, "%d\t%s\t%s\t%s\t%s\n",
					item.ID,
					item.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					item.GameName,
					item.GuideType.Label(),
					item.Platform,
				)
			}

			return nil
		},
	}
}
