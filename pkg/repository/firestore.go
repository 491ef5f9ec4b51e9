package repository

import (
	"context"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionHistory  = "generation_history"
	collectionCounters = "counters"
)

// Firestore implements HistoryRepository on Cloud Firestore. Integer IDs are
// issued from a counter document updated in the same transaction as the insert.
type Firestore struct {
	client *firestore.Client
}

type historyDoc struct {
	ID        int64     `firestore:"id"`
	GameName  string    `firestore:"game_name"`
	GuideType string    `firestore:"guide_type"`
	Platform  string    `firestore:"platform"`
	Snippet   string    `firestore:"guide_snippet"`
	CreatedAt time.Time `firestore:"created_at"`
}

type counterDoc struct {
	Last int64 `firestore:"last"`
}

// New creates a Firestore repository for the given project and database
func New(projectID, databaseID string) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("project is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(context.Background(), projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID),
		)
	}

	return &Firestore{client: client}, nil
}

// Migrate is a no-op: collections are created on first write
func (r *Firestore) Migrate(ctx context.Context) error {
	return nil
}

func (r *Firestore) PutHistory(ctx context.Context, record *model.HistoryRecord) error {
	counterRef := r.client.Collection(collectionCounters).Doc(collectionHistory)

	var assigned int64
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var counter counterDoc
		snap, err := tx.Get(counterRef)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return goerr.Wrap(err, "failed to get history counter")
		default:
			if err := snap.DataTo(&counter); err != nil {
				return goerr.Wrap(err, "failed to decode history counter")
			}
		}

		assigned = counter.Last + 1
		if err := tx.Set(counterRef, counterDoc{Last: assigned}); err != nil {
			return goerr.Wrap(err, "failed to update history counter")
		}

		docRef := r.client.Collection(collectionHistory).Doc(strconv.FormatInt(assigned, 10))
		if err := tx.Create(docRef, historyDoc{
			ID:        assigned,
			GameName:  record.GameName,
			GuideType: string(record.GuideType),
			Platform:  string(record.Platform),
			Snippet:   record.Snippet,
			CreatedAt: record.CreatedAt,
		}); err != nil {
			return goerr.Wrap(err, "failed to create history document")
		}
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to put history",
			goerr.T(model.ErrTagStorage),
			goerr.V("game", record.GameName),
		)
	}

	record.ID = model.HistoryID(assigned)
	return nil
}

func (r *Firestore) ListHistory(ctx context.Context, limit int) ([]*model.HistoryItem, error) {
	iter := r.client.Collection(collectionHistory).
		OrderBy("created_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	items := []*model.HistoryItem{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list history", goerr.T(model.ErrTagStorage))
		}

		var doc historyDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode history document",
				goerr.T(model.ErrTagStorage),
				goerr.V("doc_id", snap.Ref.ID),
			)
		}

		items = append(items, &model.HistoryItem{
			ID:        model.HistoryID(doc.ID),
			GameName:  doc.GameName,
			GuideType: model.GuideType(doc.GuideType),
			Platform:  model.Platform(doc.Platform),
			CreatedAt: doc.CreatedAt,
		})
	}

	return items, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}
