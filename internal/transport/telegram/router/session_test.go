package router

import (
	"testing"
	"time"
)

func TestSessionExpiry(t *testing.T) {
	t.Parallel()
	s := NewSessionStore(10 * time.Minute)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	s.Set(1, Session{State: StateEnterCode})

	if sess, ok := s.Get(1); !ok || sess.State != StateEnterCode {
		t.Fatalf("get = %+v %v, want enter_code", sess, ok)
	}

	now = base.Add(11 * time.Minute)
	if _, ok := s.Get(1); ok {
		t.Fatal("session survived past TTL")
	}
}

func TestSessionSetRefreshesTTL(t *testing.T) {
	t.Parallel()
	s := NewSessionStore(10 * time.Minute)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	s.Set(1, Session{State: StateSearch})
	now = base.Add(8 * time.Minute)
	s.Set(1, Session{State: StateSearch})
	now = base.Add(15 * time.Minute)

	if _, ok := s.Get(1); !ok {
		t.Fatal("refreshed session expired too early")
	}
}

func TestSessionSweep(t *testing.T) {
	t.Parallel()
	s := NewSessionStore(10 * time.Minute)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	for i := int64(1); i <= 5; i++ {
		s.Set(i, Session{State: StateEnterCode})
	}
	now = base.Add(20 * time.Minute)
	s.Set(6, Session{State: StateSearch})

	if n := s.Sweep(); n != 5 {
		t.Fatalf("swept = %d, want 5", n)
	}
	if _, ok := s.Get(6); !ok {
		t.Fatal("fresh session swept")
	}
}

func TestSessionTTLHotReload(t *testing.T) {
	t.Parallel()
	s := NewSessionStore(time.Hour)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	s.Set(1, Session{State: StateEnterCode})
	s.SetTTL(time.Minute)
	now = base.Add(5 * time.Minute)

	if _, ok := s.Get(1); ok {
		t.Fatal("session survived shortened TTL")
	}
}

func TestSessionClear(t *testing.T) {
	t.Parallel()
	s := NewSessionStore(time.Hour)
	s.Set(1, Session{State: StateAdminAddCode, Draft: Draft{Code: "7"}})
	s.Clear(1)
	if _, ok := s.Get(1); ok {
		t.Fatal("cleared session still present")
	}
}
