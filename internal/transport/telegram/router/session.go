package router

import (
	"sync"
	"time"
)

type SessionState string

const (
	StateIdle SessionState = ""

	// User conversation states.
	StateEnterCode SessionState = "enter_code"
	StateSearch    SessionState = "search"

	// Admin conversation states.
	StateAdminAddCode   SessionState = "admin_add_code"
	StateAdminAddMedia  SessionState = "admin_add_media"
	StateAdminAddTitle  SessionState = "admin_add_title"
	StateAdminDelete    SessionState = "admin_delete"
	StateAdminBroadcast SessionState = "admin_broadcast"
	StateAdminTemplate  SessionState = "admin_template"
)

// Draft accumulates a content row across the admin add flow. Title, quality
// and expiry arrive with the final message and go straight into the row.
type Draft struct {
	Code             string
	FileID           string
	FileKind         string
	StorageChat      string
	StorageMessageID int
}

type Session struct {
	State SessionState
	Draft Draft
}

type sessionEntry struct {
	s       Session
	touched time.Time
}

// SessionStore holds per-user conversation state with a TTL. Expired entries
// are dropped lazily on access and swept periodically.
type SessionStore struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[int64]*sessionEntry
	ops uint64

	now func() time.Time
}

const sweepEvery = 256

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SessionStore{ttl: ttl, m: make(map[int64]*sessionEntry), now: time.Now}
}

// SetTTL applies a new TTL (hot reload). Existing entries age against it.
func (s *SessionStore) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

func (s *SessionStore) Get(userID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweepLocked()

	e, ok := s.m[userID]
	if !ok {
		return Session{}, false
	}
	if s.now().Sub(e.touched) > s.ttl {
		delete(s.m, userID)
		return Session{}, false
	}
	return e.s, true
}

// Set stores the session and refreshes its TTL.
func (s *SessionStore) Set(userID int64, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweepLocked()
	s.m[userID] = &sessionEntry{s: sess, touched: s.now()}
}

func (s *SessionStore) Clear(userID int64) {
	s.mu.Lock()
	delete(s.m, userID)
	s.mu.Unlock()
}

// Sweep removes all expired entries and reports how many were dropped.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *SessionStore) maybeSweepLocked() {
	s.ops++
	if s.ops%sweepEvery == 0 {
		s.sweepLocked()
	}
}

func (s *SessionStore) sweepLocked() int {
	cutoff := s.now().Add(-s.ttl)
	n := 0
	for id, e := range s.m {
		if e.touched.Before(cutoff) {
			delete(s.m, id)
			n++
		}
	}
	return n
}
