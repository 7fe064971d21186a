package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kinobot/internal/storage"
	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

type memStore struct {
	mu    sync.Mutex
	users []int64
	recs  []storage.BroadcastRecord
}

func (m *memStore) AllUserIDs(context.Context) ([]int64, error) {
	return append([]int64(nil), m.users...), nil
}

func (m *memStore) AppendBroadcastRecord(_ context.Context, rec storage.BroadcastRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memStore) BroadcastRecords(_ context.Context, id string) ([]storage.BroadcastRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.BroadcastRecord
	for _, r := range m.recs {
		if r.BroadcastID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeCourier struct {
	mu      sync.Mutex
	nextMsg int
	deleted map[kit.MessageRef]bool
	// failFor decides whether a copy to this user errors.
	failFor func(uid int64) bool
}

func (f *fakeCourier) CopyMessage(_ context.Context, to kit.ChatTarget, _ kit.StoredRef, _ *kit.SendOptions) (kit.MessageRef, error) {
	if f.failFor != nil && f.failFor(to.ChatID) {
		return kit.MessageRef{}, errors.New("blocked")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsg++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextMsg}, nil
}

func (f *fakeCourier) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted == nil {
		f.deleted = make(map[kit.MessageRef]bool)
	}
	if f.deleted[ref] {
		return errors.New("message to delete not found")
	}
	f.deleted[ref] = true
	return nil
}

func testConfig() Config {
	// Pacing that keeps the 120-user run fast.
	return Config{Workers: 4, RatePerSec: 10000, SendTimeout: time.Second, ProgressEvery: 50}
}

func TestBroadcastFanOutIsolatesFailures(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	for i := 1; i <= 120; i++ {
		st.users = append(st.users, int64(i))
	}
	courier := &fakeCourier{failFor: func(uid int64) bool { return uid%10 == 0 }}
	svc := New(courier, st, testConfig(), logx.Nop())

	var progressCalls []Progress
	var progMu sync.Mutex
	report, err := svc.Start(context.Background(), kit.StoredRef{Chat: "-1001", MessageID: 7}, func(p Progress) {
		progMu.Lock()
		progressCalls = append(progressCalls, p)
		progMu.Unlock()
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if report.Total != 120 || report.Sent != 108 || report.Failed != 12 {
		t.Fatalf("report = %+v, want total=120 sent=108 failed=12", report)
	}
	recs, _ := st.BroadcastRecords(context.Background(), report.ID)
	if len(recs) != 108 {
		t.Fatalf("records = %d, want 108 (failures must not be recorded)", len(recs))
	}
	if svc.StateOf(report.ID) != Completed {
		t.Fatalf("state = %s, want completed", svc.StateOf(report.ID))
	}

	progMu.Lock()
	defer progMu.Unlock()
	if len(progressCalls) != 2 {
		t.Fatalf("progress calls = %d, want 2 (at 50 and 100)", len(progressCalls))
	}
	if progressCalls[0].Processed != 50 || progressCalls[1].Processed != 100 {
		t.Fatalf("progress = %+v, want processed 50 then 100", progressCalls)
	}
}

func TestRecallDeletesOnceIdempotent(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	for i := 1; i <= 120; i++ {
		st.users = append(st.users, int64(i))
	}
	courier := &fakeCourier{failFor: func(uid int64) bool { return uid%10 == 0 }}
	svc := New(courier, st, testConfig(), logx.Nop())

	report, err := svc.Start(context.Background(), kit.StoredRef{Chat: "-1001", MessageID: 7}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deleted, err := svc.Recall(context.Background(), report.ID)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if deleted != 108 {
		t.Fatalf("deleted = %d, want 108", deleted)
	}

	// Second recall finds the same records but every delete fails; skipped
	// silently, zero deleted.
	deleted, err = svc.Recall(context.Background(), report.ID)
	if err != nil {
		t.Fatalf("second recall: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("second recall deleted = %d, want 0", deleted)
	}
}

func TestRecallUnknownBroadcast(t *testing.T) {
	t.Parallel()
	svc := New(&fakeCourier{}, &memStore{}, testConfig(), logx.Nop())

	deleted, err := svc.Recall(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}
}

// deadlineStore refuses writes on a dead context, like a real driver would.
type deadlineStore struct {
	memStore
}

func (s *deadlineStore) AppendBroadcastRecord(ctx context.Context, rec storage.BroadcastRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStore.AppendBroadcastRecord(ctx, rec)
}

type slowCourier struct {
	fakeCourier
	delay time.Duration
}

func (c *slowCourier) CopyMessage(ctx context.Context, to kit.ChatTarget, src kit.StoredRef, opt *kit.SendOptions) (kit.MessageRef, error) {
	time.Sleep(c.delay)
	return c.fakeCourier.CopyMessage(ctx, to, src, opt)
}

func TestRecordKeptWhenCopyOutlivesSendDeadline(t *testing.T) {
	t.Parallel()
	st := &deadlineStore{}
	st.users = []int64{1}
	courier := &slowCourier{delay: 20 * time.Millisecond}
	cfg := Config{Workers: 1, RatePerSec: 10000, SendTimeout: time.Millisecond, ProgressEvery: 50}
	svc := New(courier, st, cfg, logx.Nop())

	report, err := svc.Start(context.Background(), kit.StoredRef{Chat: "-1001", MessageID: 7}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("sent = %d, want 1", report.Sent)
	}
	recs, _ := st.BroadcastRecords(context.Background(), report.ID)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1 (slow copy must still be recallable)", len(recs))
	}
}

func TestBroadcastEmptyRoster(t *testing.T) {
	t.Parallel()
	svc := New(&fakeCourier{}, &memStore{}, testConfig(), logx.Nop())

	report, err := svc.Start(context.Background(), kit.StoredRef{Chat: "-1001", MessageID: 7}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if report.Total != 0 || report.Sent != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v, want all zeros", report)
	}
}
