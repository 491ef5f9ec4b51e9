package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func migrateCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the history schema",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.Migrate(ctx); err != nil {
				return goerr.Wrap(err, "failed to migrate history schema", goerr.V("backend", cfg.backend))
			}

			fmt.Fprintf(c.Root().Writer, "Schema ready (%s)\n", cfg.backend)
			return nil
		},
	}
}
