package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/repository"
)

func setupSQLite(t *testing.T) *repository.SQLite {
	t.Helper()
	repo, err := repository.NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newRecord(game string, createdAt time.Time) *model.HistoryRecord {
	return &model.HistoryRecord{
		HistoryItem: model.HistoryItem{
			GameName:  game,
			GuideType: model.GuideTypeWalkthrough,
			Platform:  model.PlatformPC,
			CreatedAt: createdAt,
		},
		Snippet: "# " + game,
	}
}

func TestSQLitePutHistory(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()
	gt.NoError(t, repo.Migrate(ctx))

	first := newRecord("Celeste", time.Now())
	gt.NoError(t, repo.PutHistory(ctx, first))
	second := newRecord("Hollow Knight", time.Now())
	gt.NoError(t, repo.PutHistory(ctx, second))

	gt.True(t, first.ID > 0)
	gt.True(t, second.ID > first.ID)
}

func TestSQLiteListHistoryOrderAndLimit(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()
	gt.NoError(t, repo.Migrate(ctx))

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	t1 := newRecord("T1", base)
	t2 := newRecord("T2", base.Add(time.Minute))
	t3 := newRecord("T3", base.Add(2*time.Minute))

	// Insert out of order to make sure ordering is by created_at
	for _, r := range []*model.HistoryRecord{t2, t3, t1} {
		gt.NoError(t, repo.PutHistory(ctx, r))
	}

	items, err := repo.ListHistory(ctx, 2)
	gt.NoError(t, err)
	gt.A(t, items).Length(2)
	gt.Equal(t, items[0].GameName, "T3")
	gt.Equal(t, items[1].GameName, "T2")
	gt.True(t, items[0].CreatedAt.Equal(t3.CreatedAt))
	gt.Equal(t, items[0].ID, t3.ID)
	gt.Equal(t, items[0].GuideType, model.GuideTypeWalkthrough)
	gt.Equal(t, items[0].Platform, model.PlatformPC)

	all, err := repo.ListHistory(ctx, 10)
	gt.NoError(t, err)
	gt.A(t, all).Length(3)
}

func TestSQLiteListHistoryWithoutTable(t *testing.T) {
	repo := setupSQLite(t)

	items, err := repo.ListHistory(context.Background(), 10)
	gt.NoError(t, err)
	gt.NotNil(t, items)
	gt.A(t, items).Length(0)
}

func TestSQLitePutHistoryWithoutTable(t *testing.T) {
	repo := setupSQLite(t)

	err := repo.PutHistory(context.Background(), newRecord("Doom", time.Now()))
	gt.Error(t, err)
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	gt.NoError(t, repo.Migrate(ctx))
	gt.NoError(t, repo.PutHistory(ctx, newRecord("Tetris", time.Now())))
	gt.NoError(t, repo.Migrate(ctx))

	items, err := repo.ListHistory(ctx, 10)
	gt.NoError(t, err)
	gt.A(t, items).Length(1)
}

func TestSQLiteInMemory(t *testing.T) {
	repo, err := repository.NewSQLite(":memory:")
	gt.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	gt.NoError(t, repo.Migrate(ctx))
	gt.NoError(t, repo.PutHistory(ctx, newRecord("Portal", time.Now())))

	items, err := repo.ListHistory(ctx, 10)
	gt.NoError(t, err)
	gt.A(t, items).Length(1)
}
