package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/usecase/export"
	"github.com/m-mizutani/playbot/pkg/usecase/history"
	"github.com/urfave/cli/v3"
)

func generateCommand() *cli.Command {
	var (
		cfg        config
		gameName   string
		guideType  string
		platform   string
		save       bool
		exportFlag bool
		outputPath string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "game",
			Aliases:     []string{"g"},
			Usage:       "Game name",
			Destination: &gameName,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "type",
			Aliases:     []string{"t"},
			Usage:       "Guide type (walkthrough, levelling guide, cheat sheet, unlock guide)",
			Value:       string(model.GuideTypeWalkthrough),
			Destination: &guideType,
		},
		&cli.StringFlag{
			Name:        "platform",
			Usage:       "Platform (PC, PS5, Switch, ...)",
			Value:       string(model.PlatformPC),
			Destination: &platform,
		},
		&cli.BoolFlag{
			Name:        "save",
			Aliases:     []string{"s"},
			Usage:       "Record the generated guide in history",
			Destination: &save,
		},
		&cli.BoolFlag{
			Name:        "export",
			Usage:       "Export the guide to the configured bucket or directory",
			Destination: &exportFlag,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Write the guide as a markdown document to this file",
			Destination: &outputPath,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, exportFlags(&cfg)...)
	flags = append(flags, policyFlags(&cfg)...)

	return &cli.Command{
		Name:  "generate",
		Usage: "Generate a game guide and print it",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}
			w := c.Root().Writer

			typ, err := model.ParseGuideType(guideType)
			if err != nil {
				return err
			}
			pf, err := model.ParsePlatform(platform)
			if err != nil {
				return err
			}
			req := model.GuideRequest{GameName: gameName, GuideType: typ, Platform: pf}
			if err := req.Validate(); err != nil {
				return err
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			engine, err := cfg.newPolicy(ctx)
			if err != nil {
				return err
			}
			uc := newGuideUseCase(gemini, engine)

			state := model.NewGenerationState()
			seq := state.Begin(req)

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			sp.Suffix = fmt.Sprintf(" Generating %s for %s...", req.GuideType.Label(), req.GameName)
			sp.Start()
			result, err := uc.Generate(ctx, req)
			sp.Stop()

			if err != nil {
				state.Fail(seq, err)
			} else {
				state.Succeed(seq, result)
			}

			snapshot := state.Snapshot()
			if snapshot.Status == model.GenerationError {
				return snapshot.Err
			}
			result = snapshot.Result

			fmt.Fprintln(w, result.Guide)
			if len(result.References) > 0 {
				fmt.Fprintln(w, "\nSources:")
				for i, ref := range result.References {
					fmt.Fprintf(w, "  %d. %s\n     %s\n", i+1, ref.Title, ref.URI)
				}
			}

			if save {
				repo, err := cfg.newRepository(ctx)
				if err != nil {
					return err
				}
				defer repo.Close()

				if err := repo.Migrate(ctx); err != nil {
					return goerr.Wrap(err, "failed to migrate history schema")
				}

				record, err := history.New(repo).Record(ctx, history.RecordInput{
					GameName:  req.GameName,
					GuideType: req.GuideType,
					Platform:  req.Platform,
					Guide:     result.Guide,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "\nHistory saved: %d\n", record.ID)
			}

			if exportFlag {
				storage, err := cfg.newExportStorage(ctx)
				if err != nil {
					return err
				}
				key, err := export.New(storage).Export(ctx, req, result)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Exported: %s\n", key)
			}

			if outputPath != "" {
				doc, err := export.Render(req, result, time.Now())
				if err != nil {
					return err
				}
				if err := os.WriteFile(outputPath, []byte(doc), 0644); err != nil {
					return goerr.Wrap(err, "failed to write output file", goerr.V("path", outputPath))
				}
				fmt.Fprintf(w, "Written: %s\n", outputPath)
			}

			return nil
		},
	}
}
