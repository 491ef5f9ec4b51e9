package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/service/mcp"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var (
		cfg      config
		autoSave bool
	)

	flags := globalFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, policyFlags(&cfg)...)
	flags = append(flags, &cli.BoolFlag{
		Name:        "auto-save",
		Usage:       "Record history in the background after every generated guide",
		Sources:     cli.EnvVars("PLAYBOT_AUTO_SAVE"),
		Destination: &autoSave,
	})

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve guide generation and history as MCP tools over stdio",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			// stdout carries the protocol, so logs must not go there
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
				return goerr.Wrap(err, "failed to migrate history schema")
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			engine, err := cfg.newPolicy(ctx)
			if err != nil {
				return err
			}

			svc, err := mcp.New(newGuideUseCase(gemini, engine), newHistoryUseCase(repo, engine), c.Root().Version, mcp.WithAutoSave(autoSave))
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}
