package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/repository"
	"github.com/m-mizutani/playbot/pkg/utils/logging"
)

// MaxRecent is the largest number of entries ListRecent returns
const MaxRecent = 10

// AutoSavePolicy filters background writes made by RecordAsync
type AutoSavePolicy interface {
	ShouldAutoSave(ctx context.Context, req model.GuideRequest, guide string) (bool, error)
}

// UseCase records and lists generation history
type UseCase struct {
	repo   repository.HistoryRepository
	now    func() time.Time
	policy AutoSavePolicy
	wg     sync.WaitGroup
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithClock replaces the timestamp source of recorded entries
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// WithAutoSavePolicy makes RecordAsync skip entries rejected by p
func WithAutoSavePolicy(p AutoSavePolicy) Option {
	return func(uc *UseCase) {
		uc.policy = p
	}
}

// New creates a new history UseCase instance
func New(repo repository.HistoryRepository, opts ...Option) *UseCase {
	uc := &UseCase{
		repo: repo,
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// RecordInput is one completed generation to be recorded
type RecordInput struct {
	GameName  string
	GuideType model.GuideType
	Platform  model.Platform
	Guide     string
}

func (x RecordInput) validate() error {
	var missing []string
	if strings.TrimSpace(x.GameName) == "" {
		missing = append(missing, "gameName")
	}
	if x.GuideType == "" {
		missing = append(missing, "guideType")
	}
	if x.Platform == "" {
		missing = append(missing, "platform")
	}
	if x.Guide == "" {
		missing = append(missing, "guide")
	}
	if len(missing) > 0 {
		return goerr.New("Missing required fields",
			goerr.T(model.ErrTagValidation),
			goerr.V("fields", strings.Join(missing, ",")),
		)
	}
	return nil
}

// Record stores a truncated snippet of the guide along with the request
// metadata and the current time.
func (u *UseCase) Record(ctx context.Context, input RecordInput) (*model.HistoryRecord, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	record := &model.HistoryRecord{
		HistoryItem: model.HistoryItem{
			GameName:  input.GameName,
			GuideType: input.GuideType,
			Platform:  input.Platform,
			CreatedAt: u.now(),
		},
		Snippet: model.Snippet(input.Guide),
	}

	if err := u.repo.PutHistory(ctx, record); err != nil {
		return nil, goerr.Wrap(err, "Failed to save history", goerr.T(model.ErrTagStorage))
	}

	logging.From(ctx).Debug("history recorded", "id", record.ID, "game", record.GameName)
	return record, nil
}

// RecordAsync records in the background. The outcome never reaches the
// caller; failures are only logged. Use Wait to drain pending writes.
func (u *UseCase) RecordAsync(ctx context.Context, input RecordInput) {
	logger := logging.From(ctx)
	ctx = context.WithoutCancel(ctx)

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()

		if u.policy != nil {
			req := model.GuideRequest{GameName: input.GameName, GuideType: input.GuideType, Platform: input.Platform}
			save, err := u.policy.ShouldAutoSave(ctx, req, input.Guide)
			if err != nil {
				logger.Warn("failed to evaluate auto-save policy", "error", err)
				return
			}
			if !save {
				logger.Debug("auto-save skipped by policy", "game", input.GameName)
				return
			}
		}

		if _, err := u.Record(ctx, input); err != nil {
			logger.Warn("failed to record history", "error", err)
		}
	}()
}

// Wait blocks until all writes started by RecordAsync have finished
func (u *UseCase) Wait() {
	u.wg.Wait()
}

// ListRecent returns the most recent entries, newest first. limit is clamped
// to [1, MaxRecent]; zero or negative means MaxRecent.
func (u *UseCase) ListRecent(ctx context.Context, limit int) ([]*model.HistoryItem, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}

	items, err := u.repo.ListHistory(ctx, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "Failed to fetch history", goerr.T(model.ErrTagStorage))
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
