package cli

import (
	"context"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/playbot/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

var version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	// Variables already set in the environment take precedence over .env
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logging.Default().Warn("failed to load .env file", "error", err)
	}

	if err := newApp(os.Stdout).Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

func newApp(w io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "playbot",
		Version: version,
		Usage:   "Game guide assistant backed by Gemini with Google Search grounding",
		Writer:  w,
		Commands: []*cli.Command{
			serveCommand(),
			generateCommand(),
			historyCommand(),
			migrateCommand(),
			mcpCommand(),
		},
	}
}
