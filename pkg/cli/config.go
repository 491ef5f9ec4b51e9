package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/adapter"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/policy"
	"github.com/m-mizutani/playbot/pkg/repository"
	"github.com/m-mizutani/playbot/pkg/usecase/guide"
	"github.com/m-mizutani/playbot/pkg/usecase/history"
	"github.com/m-mizutani/playbot/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	backendSQLite    = "sqlite"
	backendFirestore = "firestore"
	backendBigQuery  = "bigquery"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	backend    string
	sqlitePath string
	project    string
	database   string
	dataset    string

	// Adapters
	geminiAPIKey string
	geminiModel  string

	// Export
	exportBucket string
	exportDir    string

	// Policy
	policyDir string
}

// globalFlags returns logging and repository flags used by every command
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("PLAYBOT_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("PLAYBOT_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "db-backend",
			Usage:       "History backend (sqlite, firestore, bigquery)",
			Value:       backendSQLite,
			Sources:     cli.EnvVars("PLAYBOT_DB_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "Path of the SQLite history database",
			Value:       "playbot.db",
			Sources:     cli.EnvVars("PLAYBOT_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset ID holding the history table",
			Value:       "playbot",
			Sources:     cli.EnvVars("PLAYBOT_BIGQUERY_DATASET"),
			Destination: &cfg.dataset,
		},
	}
}

// llmFlags returns flags for Gemini
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY", "API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Value:       adapter.DefaultGenerativeModel,
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
	}
}

// exportFlags returns flags for the export destination
func exportFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "export-bucket",
			Usage:       "Cloud Storage bucket for exported guides",
			Sources:     cli.EnvVars("PLAYBOT_EXPORT_BUCKET"),
			Destination: &cfg.exportBucket,
		},
		&cli.StringFlag{
			Name:        "export-dir",
			Usage:       "Local directory for exported guides, used when no bucket is set",
			Sources:     cli.EnvVars("PLAYBOT_EXPORT_DIR"),
			Destination: &cfg.exportDir,
		},
	}
}

// policyFlags returns flags for Rego request and auto-save policies
func policyFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policies and YAML data documents",
			Sources:     cli.EnvVars("PLAYBOT_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// setupLogger replaces the default logger according to the flags and
// attaches it to ctx
func (cfg *config) setupLogger(ctx context.Context) (context.Context, error) {
	if _, err := logging.ParseLevel(cfg.logLevel); err != nil {
		return ctx, err
	}
	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		return ctx, err
	}

	logger := logging.New(cfg.logLevel, nil, logging.WithFormat(format))
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

// newRepository creates a history repository for the selected backend
func (cfg *config) newRepository(ctx context.Context) (repository.HistoryRepository, error) {
	switch cfg.backend {
	case backendSQLite:
		if cfg.sqlitePath == "" {
			return nil, goerr.New("sqlite-path is required", goerr.T(model.ErrTagConfig))
		}
		repo, err := repository.NewSQLite(cfg.sqlitePath)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, nil

	case backendFirestore:
		if cfg.project == "" {
			return nil, goerr.New("project is required", goerr.T(model.ErrTagConfig))
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required", goerr.T(model.ErrTagConfig))
		}
		repo, err := repository.New(cfg.project, cfg.database)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, nil

	case backendBigQuery:
		if cfg.project == "" {
			return nil, goerr.New("project is required", goerr.T(model.ErrTagConfig))
		}
		repo, err := repository.NewBigQuery(ctx, cfg.project, cfg.dataset)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, nil

	default:
		return nil, goerr.New("unknown db-backend", goerr.T(model.ErrTagConfig), goerr.V("backend", cfg.backend))
	}
}

// newGemini creates a Gemini adapter. It returns nil without error when no
// API key is set so that the server can still start and report the missing
// key per request.
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiAPIKey == "" {
		return nil, nil
	}

	client, err := adapter.NewGemini(ctx, cfg.geminiAPIKey, adapter.WithGenerativeModel(cfg.geminiModel))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// newExportStorage returns Cloud Storage when a bucket is set, a local
// directory when only a directory is set, and nil otherwise
func (cfg *config) newExportStorage(ctx context.Context) (adapter.Storage, error) {
	switch {
	case cfg.exportBucket != "":
		storage, err := adapter.NewStorage(ctx, cfg.exportBucket)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil

	case cfg.exportDir != "":
		storage, err := adapter.NewFileStorage(cfg.exportDir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil

	default:
		return nil, nil
	}
}

// newGuideUseCase creates the guide use case with the request policy applied
// when a policy directory is set
func newGuideUseCase(gemini adapter.Gemini, engine *policy.Engine) *guide.UseCase {
	if engine == nil {
		return guide.New(gemini)
	}
	return guide.New(gemini, guide.WithPolicy(engine))
}

// newHistoryUseCase creates the history use case with the auto-save policy
// applied when a policy directory is set
func newHistoryUseCase(repo repository.HistoryRepository, engine *policy.Engine) *history.UseCase {
	if engine == nil {
		return history.New(repo)
	}
	return history.New(repo, history.WithAutoSavePolicy(engine))
}

// newPolicy loads policies from policy-dir, or returns nil when unset
func (cfg *config) newPolicy(ctx context.Context) (*policy.Engine, error) {
	if cfg.policyDir == "" {
		return nil, nil
	}
	engine, err := policy.Load(ctx, cfg.policyDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load policy", goerr.V("dir", cfg.policyDir))
	}
	return engine, nil
}
