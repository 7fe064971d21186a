// Package maintenance runs the scheduled background chores: the nightly stats
// digest for admins and periodic session sweeps.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kinobot/internal/storage"
	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

const (
	defaultDigestCron = "0 3 * * *"
	sweepCron         = "*/10 * * * *"
	jobTimeout        = 30 * time.Second
)

// Notifier delivers digest messages to admins.
type Notifier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// StatsSource provides the numbers for the digest.
type StatsSource interface {
	Counts(ctx context.Context) (storage.Counts, error)
}

// Sweeper drops expired conversation state; returns the number removed.
type Sweeper interface {
	Sweep() int
}

type Config struct {
	Enabled    bool
	DigestCron string
	Timezone   string
}

type Service struct {
	log      logx.Logger
	notifier Notifier
	stats    StatsSource
	sweeper  Sweeper

	mu     sync.Mutex
	cron   *cron.Cron
	cfg    Config
	admins []int64
}

func New(notifier Notifier, stats StatsSource, sweeper Sweeper, cfg Config, admins []int64, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		notifier: notifier,
		stats:    stats,
		sweeper:  sweeper,
		cfg:      cfg,
		admins:   append([]int64(nil), admins...),
	}
}

// SetAdmins replaces the digest recipient list (hot reload).
func (s *Service) SetAdmins(ids []int64) {
	s.mu.Lock()
	s.admins = append([]int64(nil), ids...)
	s.mu.Unlock()
}

// Start installs the cron entries. A disabled config still schedules the
// session sweep; only the digest is gated.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c, err := s.build(ctx, s.cfg)
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("maintenance started",
		logx.Bool("digest", s.cfg.Enabled), logx.String("digest_cron", s.digestSpec(s.cfg)))
	return nil
}

// Apply swaps the schedule in place (hot reload). Invalid specs keep the
// previous schedule running.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		s.cfg = cfg
		return nil
	}
	c, err := s.build(ctx, cfg)
	if err != nil {
		return err
	}
	old := s.cron
	c.Start()
	s.cron = c
	s.cfg = cfg
	go func() { <-old.Stop().Done() }()
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("maintenance stopped")
}

func (s *Service) build(ctx context.Context, cfg Config) (*cron.Cron, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("maintenance timezone: %w", err)
		}
		loc = l
	}
	c := cron.New(cron.WithLocation(loc))

	if s.sweeper != nil {
		if _, err := c.AddFunc(sweepCron, s.runSweep); err != nil {
			return nil, fmt.Errorf("sweep schedule: %w", err)
		}
	}
	if cfg.Enabled {
		spec := s.digestSpec(cfg)
		if _, err := c.AddFunc(spec, func() { s.runDigest(ctx) }); err != nil {
			return nil, fmt.Errorf("digest schedule %q: %w", spec, err)
		}
	}
	return c, nil
}

func (s *Service) digestSpec(cfg Config) string {
	if cfg.DigestCron == "" {
		return defaultDigestCron
	}
	return cfg.DigestCron
}

func (s *Service) runSweep() {
	if n := s.sweeper.Sweep(); n > 0 {
		s.log.Debug("sessions swept", logx.Int("dropped", n))
	}
}

func (s *Service) runDigest(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	counts, err := s.stats.Counts(ctx)
	if err != nil {
		s.log.Warn("digest stats failed", logx.Err(err))
		return
	}
	text := fmt.Sprintf("📊 Kunlik hisobot\n\n👥 Foydalanuvchilar: %d\n🎬 Kinolar: %d",
		counts.Users, counts.Content)

	s.mu.Lock()
	admins := append([]int64(nil), s.admins...)
	s.mu.Unlock()

	for _, id := range admins {
		if _, err := s.notifier.SendText(ctx, kit.ChatTarget{ChatID: id}, text, nil); err != nil {
			s.log.Warn("digest send failed", logx.Int64("admin_id", id), logx.Err(err))
		}
	}
	s.log.Info("digest sent", logx.Int("admins", len(admins)),
		logx.Int64("users", counts.Users), logx.Int64("content", counts.Content))
}
