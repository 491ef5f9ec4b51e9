package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/model"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Dataset IDs are at most 1024 letters, digits or underscores
const maxDatasetIDLength = 1024

var datasetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// BigQuery implements HistoryRepository on a BigQuery table partitioned by
// created_at. Rows are streamed, so IDs are derived from the creation time in
// microseconds and bumped to stay strictly increasing.
type BigQuery struct {
	client  *bigquery.Client
	dataset string

	mu     sync.Mutex
	lastID int64
}

type bigqueryHistoryRow struct {
	ID        int64     `bigquery:"id"`
	GameName  string    `bigquery:"game_name"`
	GuideType string    `bigquery:"guide_type"`
	Platform  string    `bigquery:"platform"`
	Snippet   string    `bigquery:"guide_snippet"`
	CreatedAt time.Time `bigquery:"created_at"`
}

// NewBigQuery creates a BigQuery repository storing history in
// <projectID>.<datasetID>.generation_history
func NewBigQuery(ctx context.Context, projectID, datasetID string, opts ...option.ClientOption) (*BigQuery, error) {
	if projectID == "" {
		return nil, goerr.New("project is required")
	}
	if len(datasetID) > maxDatasetIDLength || !datasetIDPattern.MatchString(datasetID) {
		return nil, goerr.New("invalid dataset ID", goerr.V("dataset", datasetID))
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.V("project", projectID))
	}

	return &BigQuery{client: client, dataset: datasetID}, nil
}

// nextHistoryID returns an ID derived from t that is greater than last
func nextHistoryID(last int64, t time.Time) int64 {
	id := t.UnixMicro()
	if id <= last {
		id = last + 1
	}
	return id
}

func hasStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Migrate creates the history table. An existing table is left as is.
func (r *BigQuery) Migrate(ctx context.Context) error {
	schema, err := bigquery.InferSchema(bigqueryHistoryRow{})
	if err != nil {
		return goerr.Wrap(err, "failed to infer history schema")
	}

	table := r.client.Dataset(r.dataset).Table(historyTable)
	err = table.Create(ctx, &bigquery.TableMetadata{
		Schema:           schema,
		TimePartitioning: &bigquery.TimePartitioning{Field: "created_at"},
	})
	if err != nil && !hasStatus(err, http.StatusConflict) {
		return goerr.Wrap(err, "failed to create history table",
			goerr.V("dataset", r.dataset),
			goerr.V("table", historyTable),
		)
	}
	return nil
}

// PutHistory streams one row and sets record.ID
func (r *BigQuery) PutHistory(ctx context.Context, record *model.HistoryRecord) error {
	r.mu.Lock()
	id := nextHistoryID(r.lastID, record.CreatedAt)
	r.lastID = id
	r.mu.Unlock()

	row := &bigqueryHistoryRow{
		ID:        id,
		GameName:  record.GameName,
		GuideType: string(record.GuideType),
		Platform:  string(record.Platform),
		Snippet:   record.Snippet,
		CreatedAt: record.CreatedAt.UTC(),
	}

	inserter := r.client.Dataset(r.dataset).Table(historyTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return goerr.Wrap(err, "failed to insert history row", goerr.V("game", record.GameName))
	}

	record.ID = model.HistoryID(id)
	return nil
}

// ListHistory returns up to limit entries, newest first. A missing table
// yields an empty list.
func (r *BigQuery) ListHistory(ctx context.Context, limit int) ([]*model.HistoryItem, error) {
	q := r.client.Query(fmt.Sprintf(
		"SELECT id, game_name, guide_type, platform, guide_snippet, created_at FROM `%s.%s.%s` ORDER BY created_at DESC, id DESC LIMIT @limit",
		r.client.Project(), r.dataset, historyTable,
	))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return []*model.HistoryItem{}, nil
		}
		return nil, goerr.Wrap(err, "failed to query history")
	}

	items := make([]*model.HistoryItem, 0, limit)
	for {
		var row bigqueryHistoryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate history rows")
		}

		items = append(items, &model.HistoryItem{
			ID:        model.HistoryID(row.ID),
			GameName:  row.GameName,
			GuideType: model.GuideType(row.GuideType),
			Platform:  model.Platform(row.Platform),
			CreatedAt: row.CreatedAt,
		})
	}

	return items, nil
}

// Close releases the BigQuery client
func (r *BigQuery) Close() error {
	return r.client.Close()
}
