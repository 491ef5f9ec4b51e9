package repository

import (
	"context"

	"github.com/m-mizutani/playbot/pkg/model"
)

// HistoryRepository defines the interface for generation history persistence.
// Records are append-only: there is no update or delete.
type HistoryRepository interface {
	// Migrate prepares the backing schema. It is idempotent and meant to run
	// once at startup, not on every write.
	Migrate(ctx context.Context) error

	// PutHistory appends a record and sets its assigned ID
	PutHistory(ctx context.Context, record *model.HistoryRecord) error

	// ListHistory returns at most limit items, most recent first. A missing
	// schema yields an empty list, not an error.
	ListHistory(ctx context.Context, limit int) ([]*model.HistoryItem, error)

	// Close releases the underlying connection
	Close() error
}
