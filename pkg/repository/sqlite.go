package repository

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/model"
	_ "modernc.org/sqlite"
)

const historyTable = "generation_history"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS generation_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    game_name TEXT NOT NULL,
    guide_type TEXT NOT NULL,
    platform TEXT NOT NULL,
    guide_snippet TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_generation_history_created_at ON generation_history(created_at DESC);
`

// SQLite implements HistoryRepository on a SQLite database
type SQLite struct {
	db *sqlx.DB
}

// historyRow is the column mapping of generation_history. created_at holds
// Unix microseconds so that ordering stays numeric.
type historyRow struct {
	ID        int64  `db:"id"`
	GameName  string `db:"game_name"`
	GuideType string `db:"guide_type"`
	Platform  string `db:"platform"`
	CreatedAt int64  `db:"created_at"`
}

// NewSQLite opens the SQLite database at path. ":memory:" keeps the database
// in memory for the lifetime of the repository.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, goerr.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("path", path))
		}
	}

	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite", goerr.V("path", path))
	}
	if path == ":memory:" {
		// Each connection of an in-memory database is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to ping sqlite", goerr.V("path", path))
	}

	return &SQLite{db: db}, nil
}

func (r *SQLite) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return goerr.Wrap(err, "failed to create history table", goerr.T(model.ErrTagStorage))
	}
	return nil
}

func (r *SQLite) PutHistory(ctx context.Context, record *model.HistoryRecord) error {
	query := `INSERT INTO generation_history (game_name, guide_type, platform, guide_snippet, created_at)
		VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		record.GameName,
		string(record.GuideType),
		string(record.Platform),
		record.Snippet,
		record.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to insert history",
			goerr.T(model.ErrTagStorage),
			goerr.V("game", record.GameName),
		)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return goerr.Wrap(err, "failed to get inserted history id", goerr.T(model.ErrTagStorage))
	}
	record.ID = model.HistoryID(id)
	return nil
}

func (r *SQLite) ListHistory(ctx context.Context, limit int) ([]*model.HistoryItem, error) {
	query := `SELECT id, game_name, guide_type, platform, created_at
		FROM generation_history
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		if isNoSuchTable(err) {
			return []*model.HistoryItem{}, nil
		}
		return nil, goerr.Wrap(err, "failed to list history", goerr.T(model.ErrTagStorage))
	}

	items := make([]*model.HistoryItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, &model.HistoryItem{
			ID:        model.HistoryID(row.ID),
			GameName:  row.GameName,
			GuideType: model.GuideType(row.GuideType),
			Platform:  model.Platform(row.Platform),
			CreatedAt: time.UnixMicro(row.CreatedAt).UTC(),
		})
	}
	return items, nil
}

func (r *SQLite) Close() error {
	return r.db.Close()
}

func isNoSuchTable(err error) bool {
	return strings.Contains(err.Error(), "no such table: "+historyTable)
}
