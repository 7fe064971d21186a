package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults for the duration knobs. An omitted or empty field falls back here.
const (
	DefaultPollTimeout = 10 * time.Second
	DefaultBusyTimeout = 5 * time.Second
	DefaultSessionTTL  = 15 * time.Minute
)

// ParseDurationField parses a duration config value. Empty means zero, which
// the typed accessors below treat as "use the default".
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// PollTimeoutDuration resolves telegram.poll_timeout, defaulting to 10s.
func (c TelegramConfig) PollTimeoutDuration() (time.Duration, error) {
	return durationOr("telegram.poll_timeout", c.PollTimeout, DefaultPollTimeout)
}

// BusyTimeoutDuration resolves storage.busy_timeout, defaulting to 5s.
func (c StorageConfig) BusyTimeoutDuration() (time.Duration, error) {
	return durationOr("storage.busy_timeout", c.BusyTimeout, DefaultBusyTimeout)
}

// TTLDuration resolves session.ttl, defaulting to 15m.
func (c SessionConfig) TTLDuration() (time.Duration, error) {
	return durationOr("session.ttl", c.TTL, DefaultSessionTTL)
}

// SendTimeoutDuration resolves broadcast.send_timeout. Zero is passed through;
// the broadcast service applies its own default there.
func (c BroadcastConfig) SendTimeoutDuration() (time.Duration, error) {
	return ParseDurationField("broadcast.send_timeout", c.SendTimeout)
}

func durationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
