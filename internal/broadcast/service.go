package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"kinobot/internal/storage"
	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

// Courier is the transport surface fan-out needs.
type Courier interface {
	CopyMessage(ctx context.Context, to kit.ChatTarget, src kit.StoredRef, opt *kit.SendOptions) (kit.MessageRef, error)
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
}

// RecordStore persists per-user delivery records for later recall.
type RecordStore interface {
	AllUserIDs(ctx context.Context) ([]int64, error)
	AppendBroadcastRecord(ctx context.Context, rec storage.BroadcastRecord) error
	BroadcastRecords(ctx context.Context, broadcastID string) ([]storage.BroadcastRecord, error)
}

type Config struct {
	Workers       int
	RatePerSec    int
	SendTimeout   time.Duration
	ProgressEvery int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 50
	}
	return c
}

type State string

const (
	InProgress State = "in_progress"
	Completed  State = "completed"
)

type Progress struct {
	Processed int
	Total     int
}

type Report struct {
	ID     string
	Total  int
	Sent   int
	Failed int
}

// Service fans a stored message out to the full user roster and can later
// recall it by deleting every recorded copy.
type Service struct {
	courier Courier
	store   RecordStore
	log     logx.Logger

	mu     sync.RWMutex
	cfg    Config
	states map[string]State
}

func New(courier Courier, store RecordStore, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		courier: courier,
		store:   store,
		cfg:     cfg.withDefaults(),
		log:     log,
		states:  make(map[string]State),
	}
}

// Apply installs new pacing knobs (hot reload). Running broadcasts keep the
// settings they started with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// StateOf reports the lifecycle state of a broadcast id ("" if unknown).
func (s *Service) StateOf(id string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[id]
}

func (s *Service) setState(id string, st State) {
	s.mu.Lock()
	s.states[id] = st
	s.mu.Unlock()
}

// Start copies payload to every known user. Failures are isolated per user;
// the run continues and the report carries the final tallies. The progress
// callback fires every cfg.ProgressEvery processed users (may be nil).
func (s *Service) Start(ctx context.Context, payload kit.StoredRef, progress func(Progress)) (Report, error) {
	cfg := s.config()
	id := uuid.NewString()

	users, err := s.store.AllUserIDs(ctx)
	if err != nil {
		return Report{ID: id}, err
	}

	s.setState(id, InProgress)
	s.log.Info("broadcast started",
		logx.String("broadcast_id", id),
		logx.Int("total", len(users)),
		logx.Int("workers", cfg.Workers),
		logx.Int("rate_per_sec", cfg.RatePerSec),
	)

	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	jobs := make(chan int64)
	results := make(chan bool)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for uid := range jobs {
				results <- s.sendOne(ctx, cfg, limiter, id, payload, uid)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, uid := range users {
			select {
			case jobs <- uid:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	report := Report{ID: id, Total: len(users)}
	processed := 0
	for ok := range results {
		processed++
		if ok {
			report.Sent++
		} else {
			report.Failed++
		}
		if progress != nil && processed%cfg.ProgressEvery == 0 {
			progress(Progress{Processed: processed, Total: len(users)})
		}
	}

	s.setState(id, Completed)
	s.log.Info("broadcast completed",
		logx.String("broadcast_id", id),
		logx.Int("total", report.Total),
		logx.Int("sent", report.Sent),
		logx.Int("failed", report.Failed),
	)
	return report, ctx.Err()
}

func (s *Service) sendOne(ctx context.Context, cfg Config, limiter *rate.Limiter, id string, payload kit.StoredRef, uid int64) bool {
	if err := limiter.Wait(ctx); err != nil {
		return false
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	ref, err := s.courier.CopyMessage(sctx, kit.ChatTarget{ChatID: uid}, payload, nil)
	if err != nil {
		s.log.Debug("broadcast send failed",
			logx.String("broadcast_id", id), logx.Int64("user_id", uid), logx.Err(err))
		return false
	}

	// Append on the run context: a copy landing near the send deadline must
	// still get its recall record.
	rec := storage.BroadcastRecord{BroadcastID: id, UserID: uid, MessageID: ref.MessageID}
	if err := s.store.AppendBroadcastRecord(ctx, rec); err != nil {
		// The user got the message; losing the record only affects recall.
		s.log.Warn("broadcast record append failed",
			logx.String("broadcast_id", id), logx.Int64("user_id", uid), logx.Err(err))
	}
	return true
}

// Recall deletes every recorded delivery of a broadcast. Individual delete
// failures (already deleted, user blocked the bot) are skipped silently, so
// calling Recall twice is harmless.
func (s *Service) Recall(ctx context.Context, id string) (int, error) {
	recs, err := s.store.BroadcastRecords(ctx, id)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		ref := kit.MessageRef{ChatID: rec.UserID, MessageID: rec.MessageID}
		if err := s.courier.DeleteMessage(ctx, ref); err != nil {
			s.log.Debug("recall delete skipped",
				logx.String("broadcast_id", id), logx.Int64("user_id", rec.UserID), logx.Err(err))
			continue
		}
		deleted++
	}

	s.log.Info("broadcast recalled",
		logx.String("broadcast_id", id),
		logx.Int("records", len(recs)),
		logx.Int("deleted", deleted),
	)
	return deleted, nil
}
