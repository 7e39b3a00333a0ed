// Package session owns per-user state: the keyed session store with its
// per-user serialization scope, and the broker session manager that keeps
// authentication state consistent with the shared broker handle.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/becomeliminal/brokerbot/core"
)

// Store is the keyed session record store. It exclusively owns Session
// records: callers get snapshots or mutate through Update, never hold a
// live pointer that the store also writes.
//
// Two messages from the same user are serialized through LockUser; different
// users proceed in parallel. Update itself is atomic — the mutation is
// applied to a clone and only swapped in once the invariants hold.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*core.Session
	locks    map[string]*sync.Mutex
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*core.Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// LockUser acquires the per-user serialization scope and returns the
// release function. Every code path that reads or writes a user's session
// during a turn runs inside this scope.
func (s *Store) LockUser(userID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// GetOrCreate returns the user's session, creating a fresh one if needed.
// The returned value is a snapshot; mutate through Update.
func (s *Store) GetOrCreate(userID, chatID string) *core.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = core.NewSession(userID, chatID)
		s.sessions[userID] = sess
		log.Printf("[SESSION %s] created", userID)
		return sess.Clone()
	}
	sess.Touch()
	return sess.Clone()
}

// Get returns a snapshot of an existing session, or nil.
func (s *Store) Get(userID string) *core.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil
	}
	return sess.Clone()
}

// Update applies mutate to the user's session atomically: the mutation runs
// on a clone, the invariants are re-checked, and only then is the clone
// swapped in. On any error the stored session is untouched.
func (s *Store) Update(userID string, mutate func(*core.Session) error) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, &core.InvariantViolation{UserID: userID, Reason: "no such session"}
	}

	next := sess.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.Touch()
	s.sessions[userID] = next
	return next.Clone(), nil
}

// Delete removes a session.
func (s *Store) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// ExpireInactive removes sessions untouched for longer than ttl and returns
// the expired user IDs so the broker manager can tear down their handles.
// It also drops pending trade intents that have passed their expiry.
func (s *Store) ExpireInactive(ttl time.Duration) []string {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for userID, sess := range s.sessions {
		if now.Sub(sess.UpdatedAt) > ttl {
			delete(s.sessions, userID)
			// Prune the serialization lock too, but only when nobody
			// holds it; a held lock means a turn is still draining.
			if lock, ok := s.locks[userID]; ok && lock.TryLock() {
				delete(s.locks, userID)
				lock.Unlock()
			}
			expired = append(expired, userID)
			continue
		}
		if sess.PendingTrade != nil && sess.PendingTrade.Expired(now) {
			next := sess.Clone()
			next.PendingTrade = nil
			s.sessions[userID] = next
		}
	}
	return expired
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartSweeper runs ExpireInactive on the given interval until ctx is done.
// Expired users are reported to onExpire (may be nil).
func (s *Store) StartSweeper(ctx context.Context, interval, ttl time.Duration, onExpire func(userID string)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				expired := s.ExpireInactive(ttl)
				for _, userID := range expired {
					log.Printf("[SESSION %s] expired after %s of inactivity", userID, ttl)
					if onExpire != nil {
						onExpire(userID)
					}
				}
			}
		}
	}()
}
