package maintenance

import (
	"context"
	"strings"
	"sync"
	"testing"

	"kinobot/internal/storage"
	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

type fakeNotifier struct {
	mu    sync.Mutex
	sends []kit.ChatTarget
	texts []string
}

func (f *fakeNotifier) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, to)
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

type fakeStats struct{ counts storage.Counts }

func (f fakeStats) Counts(context.Context) (storage.Counts, error) { return f.counts, nil }

type fakeSweeper struct{ n int }

func (f *fakeSweeper) Sweep() int { return f.n }

func TestDigestReachesEveryAdmin(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	svc := New(n, fakeStats{storage.Counts{Users: 42, Content: 7}}, nil,
		Config{Enabled: true}, []int64{10, 20}, logx.Nop())

	svc.runDigest(context.Background())

	if len(n.sends) != 2 {
		t.Fatalf("sends = %d, want 2", len(n.sends))
	}
	if !strings.Contains(n.texts[0], "42") || !strings.Contains(n.texts[0], "7") {
		t.Fatalf("digest text = %q, want user and content counts", n.texts[0])
	}
}

func TestDigestAdminHotReload(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	svc := New(n, fakeStats{}, nil, Config{Enabled: true}, []int64{10}, logx.Nop())

	svc.SetAdmins([]int64{30})
	svc.runDigest(context.Background())

	if len(n.sends) != 1 || n.sends[0].ChatID != 30 {
		t.Fatalf("sends = %+v, want only the reloaded admin", n.sends)
	}
}

func TestStartRejectsBadCronSpec(t *testing.T) {
	t.Parallel()
	svc := New(&fakeNotifier{}, fakeStats{}, nil,
		Config{Enabled: true, DigestCron: "not a cron spec"}, []int64{10}, logx.Nop())

	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("Start accepted an invalid cron spec")
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	svc := New(&fakeNotifier{}, fakeStats{}, nil,
		Config{Timezone: "Nowhere/Nope"}, nil, logx.Nop())

	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("Start accepted an unknown timezone")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	sw := &fakeSweeper{n: 3}
	svc := New(&fakeNotifier{}, fakeStats{}, sw,
		Config{Enabled: true, DigestCron: "0 3 * * *", Timezone: "UTC"}, []int64{10}, logx.Nop())

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := svc.Apply(context.Background(), Config{Enabled: false, Timezone: "UTC"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	svc.Stop()
	svc.Stop()
}
