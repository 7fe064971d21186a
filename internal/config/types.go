package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Quota       QuotaConfig       `json:"quota,omitempty"`
	Broadcast   BroadcastConfig   `json:"broadcast,omitempty"`
	Session     SessionConfig     `json:"session,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	// Token may be empty in the file; the loader falls back to
	// the KINOBOT_TOKEN environment variable.
	Token string `json:"token,omitempty"`

	AdminUserIDs []int64 `json:"admin_user_ids"`

	// RequiredChannels gates content delivery: "@username" or "-100..." ids.
	// Order matters; join prompts follow it.
	RequiredChannels []string `json:"required_channels"`

	// StorageChannel is where admin-ingested posts are expected to live.
	// Informational; storage refs are captured from forwards.
	StorageChannel string `json:"storage_channel,omitempty"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type QuotaConfig struct {
	// DailyLimit is the number of content requests per user per calendar day.
	// Zero means the default (5).
	DailyLimit int `json:"daily_limit,omitempty"`
}

// BroadcastConfig controls fan-out pacing.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - rate_per_sec: 20
//   - send_timeout: "10s"
//   - progress_every: 50
type BroadcastConfig struct {
	Workers    int `json:"workers,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// SendTimeout is a Go duration string applied per delivery.
	SendTimeout   string `json:"send_timeout,omitempty"`
	ProgressEvery int    `json:"progress_every,omitempty"`
}

type SessionConfig struct {
	// TTL is a Go duration string; conversation state older than this is dropped.
	// Zero means the default (15m).
	TTL string `json:"ttl,omitempty"`
}

type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// DigestCron is a standard 5-field cron expression for the nightly stats
	// digest sent to admins. Empty means "0 3 * * *".
	DigestCron string `json:"digest_cron,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

// Validate checks invariants that must hold before a config is committed.
// It does not check the token (env fallback happens later).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if len(cfg.Telegram.AdminUserIDs) == 0 {
		return errors.New("telegram.admin_user_ids must not be empty")
	}
	for i, ch := range cfg.Telegram.RequiredChannels {
		if strings.TrimSpace(ch) == "" {
			return fmt.Errorf("telegram.required_channels[%d] is empty", i)
		}
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return errors.New("storage.path must be set")
	}
	if cfg.Quota.DailyLimit < 0 {
		return errors.New("quota.daily_limit must be >= 0")
	}
	if cfg.Broadcast.Workers < 0 || cfg.Broadcast.RatePerSec < 0 || cfg.Broadcast.ProgressEvery < 0 {
		return errors.New("broadcast: workers, rate_per_sec and progress_every must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"broadcast.send_timeout", cfg.Broadcast.SendTimeout},
		{"session.ttl", cfg.Session.TTL},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
