package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"kinobot/internal/storage"
	logx "kinobot/pkg/logx"
)

const DefaultDailyLimit = 5

const dayLayout = "2006-01-02"

// Quota enforces the per-user daily request limit against the stored counter.
// The counter resets logically at the calendar day boundary: a stale date means
// zero requests today regardless of the stored count.
type Quota struct {
	store storage.Store
	log   logx.Logger

	mu    sync.RWMutex
	limit int

	now func() time.Time
}

func NewQuota(store storage.Store, limit int, log logx.Logger) *Quota {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Quota{store: store, limit: limit, log: log, now: time.Now}
}

// SetLimit applies a new daily limit (hot reload). Zero or negative restores
// the default. Already-consumed counts are untouched.
func (q *Quota) SetLimit(limit int) {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	q.mu.Lock()
	q.limit = limit
	q.mu.Unlock()
}

func (q *Quota) Limit() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.limit
}

// CheckAndConsume reports whether the user may make one more request today and,
// if so, consumes one unit. A denied check never mutates state.
func (q *Quota) CheckAndConsume(ctx context.Context, userID int64) (bool, error) {
	today := q.now().Format(dayLayout)

	state, err := q.store.UserQuota(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		// First contact: make sure the row exists, then count this request.
		if err := q.store.UpsertUser(ctx, userID, ""); err != nil {
			return false, err
		}
		state = storage.QuotaState{}
		err = nil
	}
	if err != nil {
		return false, err
	}

	limit := q.Limit()

	if state.Date != today {
		// New day (or never requested): stored count is logically zero.
		if err := q.store.SetUserQuota(ctx, userID, storage.QuotaState{Count: 1, Date: today}); err != nil {
			return false, err
		}
		return true, nil
	}

	if state.Count >= limit {
		q.log.Debug("daily quota exhausted", logx.Int64("user_id", userID), logx.Int("count", state.Count), logx.Int("limit", limit))
		return false, nil
	}

	if err := q.store.SetUserQuota(ctx, userID, storage.QuotaState{Count: state.Count + 1, Date: today}); err != nil {
		return false, err
	}
	return true, nil
}
