package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
telegram:
  token: "123:abc"
  admin_user_ids: [1, 2]
  required_channels: ["@ch"]
  poll_timeout: "10s"
logging:
  level: "INFO"
  console: true
  file:
    enabled: false
    path: ""
storage:
  path: "./bot.db"
quota:
  daily_limit: 3
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminUserIDs) != 2 || cfg.Quota.DailyLimit != 3 {
		t.Fatalf("cfg = %+v, want admins and quota parsed", cfg)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nmystery:\n  knob: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown section accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{
				AdminUserIDs:     []int64{1},
				RequiredChannels: []string{"@ch"},
			},
			Storage: StorageConfig{Path: "./bot.db"},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"no admins", func(c *Config) { c.Telegram.AdminUserIDs = nil }, true},
		{"blank channel", func(c *Config) { c.Telegram.RequiredChannels = []string{" "} }, true},
		{"no storage path", func(c *Config) { c.Storage.Path = "" }, true},
		{"negative quota", func(c *Config) { c.Quota.DailyLimit = -1 }, true},
		{"bad session ttl", func(c *Config) { c.Session.TTL = "soon" }, true},
		{"bad poll timeout", func(c *Config) { c.Telegram.PollTimeout = "10 parsecs" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr && err == nil {
				t.Fatal("want error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("want nil, got %v", err)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	t.Parallel()
	var cfg Config

	if d, err := cfg.Telegram.PollTimeoutDuration(); err != nil || d != DefaultPollTimeout {
		t.Fatalf("poll timeout = %v, %v; want default", d, err)
	}
	if d, err := cfg.Storage.BusyTimeoutDuration(); err != nil || d != DefaultBusyTimeout {
		t.Fatalf("busy timeout = %v, %v; want default", d, err)
	}
	if d, err := cfg.Session.TTLDuration(); err != nil || d != DefaultSessionTTL {
		t.Fatalf("session ttl = %v, %v; want default", d, err)
	}

	cfg.Session.TTL = "45m"
	if d, err := cfg.Session.TTLDuration(); err != nil || d != 45*time.Minute {
		t.Fatalf("session ttl = %v, %v; want 45m", d, err)
	}
	cfg.Session.TTL = "soon"
	if _, err := cfg.Session.TTLDuration(); err == nil {
		t.Fatal("invalid ttl accepted")
	}

	// send_timeout carries no config-side default; the broadcast service
	// fills one in when the field is zero.
	if d, err := cfg.Broadcast.SendTimeoutDuration(); err != nil || d != 0 {
		t.Fatalf("send timeout = %v, %v; want 0", d, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Telegram: TelegramConfig{AdminUserIDs: []int64{1}, RequiredChannels: []string{"@a"}},
		Quota:    QuotaConfig{DailyLimit: 5},
	}
	newCfg := &Config{
		Telegram: TelegramConfig{AdminUserIDs: []int64{1, 2}, RequiredChannels: []string{"@a"}},
		Quota:    QuotaConfig{DailyLimit: 10},
	}

	sections, _ := SummarizeChange(oldCfg, newCfg)
	want := map[string]bool{"telegram": true, "quota": true}
	if len(sections) != len(want) {
		t.Fatalf("sections = %v, want telegram and quota", sections)
	}
	for _, s := range sections {
		if !want[s] {
			t.Fatalf("unexpected section %q in %v", s, sections)
		}
	}

	if sections, _ := SummarizeChange(newCfg, newCfg); len(sections) != 0 {
		t.Fatalf("identical configs reported changes: %v", sections)
	}
}
