package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/server"
	"github.com/m-mizutani/playbot/pkg/service/mcp"
	"github.com/m-mizutani/playbot/pkg/usecase/export"
	"github.com/m-mizutani/playbot/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	var (
		cfg       config
		addr      string
		autoSave  bool
		enableMCP bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Listen address",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("PLAYBOT_ADDR"),
			Destination: &addr,
		},
		&cli.BoolFlag{
			Name:        "auto-save",
			Usage:       "Record history in the background after every generated guide",
			Sources:     cli.EnvVars("PLAYBOT_AUTO_SAVE"),
			Destination: &autoSave,
		},
		&cli.BoolFlag{
			Name:        "mcp",
			Usage:       "Serve MCP tools over streamable HTTP at /mcp",
			Sources:     cli.EnvVars("PLAYBOT_MCP"),
			Destination: &enableMCP,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, exportFlags(&cfg)...)
	flags = append(flags, policyFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}
			logger := logging.From(ctx)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Initialize dependencies
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
			if gemini == nil {
				logger.Warn("gemini API key is not set, generate-guide will fail")
			}

			storage, err := cfg.newExportStorage(ctx)
			if err != nil {
				return err
			}

			engine, err := cfg.newPolicy(ctx)
			if err != nil {
				return err
			}

			guideUC := newGuideUseCase(gemini, engine)
			historyUC := newHistoryUseCase(repo, engine)
			opts := []server.Option{
				server.WithExport(export.New(storage)),
				server.WithAutoSave(autoSave),
			}
			if enableMCP {
				svc, err := mcp.New(guideUC, historyUC, c.Root().Version, mcp.WithAutoSave(autoSave))
				if err != nil {
					return err
				}
				opts = append(opts, server.WithMCP(svc.HTTPHandler()))
			}
			srv := server.New(guideUC, historyUC, opts...)

			// In-flight requests keep running until Shutdown returns
			baseCtx := context.WithoutCancel(ctx)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return baseCtx },
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting server", "addr", addr, "backend", cfg.backend, "auto_save", autoSave, "mcp", enableMCP)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return goerr.Wrap(err, "server stopped", goerr.V("addr", addr))
				}
			case <-ctx.Done():
				logger.Info("shutting down server")
			}

			shutdownCtx, cancel := context.WithTimeout(baseCtx, shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server")
			}

			srv.WaitBackground()
			logger.Info("server stopped")
			return nil
		},
	}
}
