package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/becomeliminal/brokerbot/broker"
	"github.com/becomeliminal/brokerbot/core"
)

// BrokerManager owns the authentication lifecycle and the shared broker
// handle per user. The handle has the same lifetime as the session: it is
// created by SelectBroker, reused by every turn through GetBroker, and
// destroyed on Logout or session expiry. No other component mutates it.
//
// All methods that touch a user's session expect the caller to hold that
// user's serialization scope (Store.LockUser); DropHandle is the exception,
// used by the inactivity sweeper after the session is already gone.
type BrokerManager struct {
	store    *Store
	registry *broker.Registry

	mu      sync.Mutex
	handles map[string]broker.Broker
}

// NewBrokerManager creates a broker manager backed by the given store and
// broker factory registry.
func NewBrokerManager(store *Store, registry *broker.Registry) *BrokerManager {
	return &BrokerManager{
		store:    store,
		registry: registry,
		handles:  make(map[string]broker.Broker),
	}
}

// SelectBroker looks up the named broker factory, attempts a login with the
// supplied credentials, and commits the outcome atomically. On success the
// session moves to AUTHENTICATED with the new shared handle; on failure the
// session keeps BROKER_SELECTED with broker_authenticated=false and the
// returned error describes the cause. No partially-authenticated state is
// ever visible.
func (m *BrokerManager) SelectBroker(ctx context.Context, userID, brokerName string, creds broker.Credentials) error {
	handle, err := m.registry.Create(brokerName)
	if err != nil {
		return &core.AuthError{Broker: brokerName, Reason: "not a supported broker", Err: err}
	}

	// Replacing a broker tears down any previous handle first.
	m.dropHandle(ctx, userID)

	if _, err := m.store.Update(userID, func(sess *core.Session) error {
		sess.State = core.StateBrokerSelected
		sess.SelectedBroker = brokerName
		sess.BrokerAuthenticated = false
		return nil
	}); err != nil {
		return err
	}

	if err := handle.Login(ctx, creds); err != nil {
		if _, uerr := m.store.Update(userID, func(sess *core.Session) error {
			sess.BrokerAuthenticated = false
			sess.State = core.StateBrokerSelected
			return nil
		}); uerr != nil {
			log.Printf("[SESSION %s] failed to record login failure: %v", userID, uerr)
		}
		var authErr *core.AuthError
		if errors.As(err, &authErr) {
			return authErr
		}
		return &core.AuthError{Broker: brokerName, Reason: "login failed", Err: err}
	}

	m.mu.Lock()
	m.handles[userID] = handle
	m.mu.Unlock()

	if _, err := m.store.Update(userID, func(sess *core.Session) error {
		sess.State = core.StateAuthenticated
		sess.SelectedBroker = brokerName
		sess.BrokerAuthenticated = true
		return nil
	}); err != nil {
		// The commit failed; the handle must not outlive the state it mirrors.
		m.dropHandle(ctx, userID)
		return err
	}

	log.Printf("[SESSION %s] authenticated with %s", userID, brokerName)
	return nil
}

// GetBroker returns the user's existing shared handle, or nil. A handle
// that reports itself logged out is torn down and the session demoted to
// BROKER_SELECTED, forcing an explicit re-authentication.
func (m *BrokerManager) GetBroker(userID string) broker.Broker {
	m.mu.Lock()
	handle, ok := m.handles[userID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if handle.IsLoggedIn() {
		return handle
	}

	log.Printf("[SESSION %s] broker handle reports logged out, forcing re-authentication", userID)
	m.dropHandle(context.Background(), userID)
	if _, err := m.store.Update(userID, func(sess *core.Session) error {
		sess.State = core.StateBrokerSelected
		sess.BrokerAuthenticated = false
		return nil
	}); err != nil {
		log.Printf("[SESSION %s] failed to demote stale session: %v", userID, err)
	}
	return nil
}

// Logout tears down the handle and resets the session to UNAUTHENTICATED.
func (m *BrokerManager) Logout(ctx context.Context, userID string) error {
	m.dropHandle(ctx, userID)
	_, err := m.store.Update(userID, func(sess *core.Session) error {
		sess.State = core.StateUnauthenticated
		sess.SelectedBroker = ""
		sess.BrokerAuthenticated = false
		sess.PendingTrade = nil
		return nil
	})
	return err
}

// DropHandle removes a user's handle without touching the session. Used by
// the inactivity sweeper, which has already deleted the session record.
func (m *BrokerManager) DropHandle(userID string) {
	m.dropHandle(context.Background(), userID)
}

func (m *BrokerManager) dropHandle(ctx context.Context, userID string) {
	m.mu.Lock()
	handle, ok := m.handles[userID]
	if ok {
		delete(m.handles, userID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := handle.Logout(ctx); err != nil {
		// Best effort: the handle is discarded either way.
		log.Printf("[SESSION %s] broker logout failed: %v", userID, err)
	}
}

// ValidateHandles probes every handle with a profile call and tears down
// the ones the brokerage no longer recognizes. Network errors are ignored;
// they may be transient and the handle is kept.
func (m *BrokerManager) ValidateHandles(ctx context.Context) {
	m.mu.Lock()
	users := make([]string, 0, len(m.handles))
	for userID := range m.handles {
		users = append(users, userID)
	}
	m.mu.Unlock()

	for _, userID := range users {
		m.mu.Lock()
		handle, ok := m.handles[userID]
		m.mu.Unlock()
		if !ok {
			continue
		}
		_, err := handle.GetProfile(ctx)
		var brokerErr *core.BrokerError
		if err == nil || !errors.As(err, &brokerErr) || brokerErr.Code != "NOT_AUTHENTICATED" {
			continue
		}

		log.Printf("[SESSION %s] broker rejected session, forcing re-authentication", userID)
		unlock := m.store.LockUser(userID)
		m.dropHandle(ctx, userID)
		if _, err := m.store.Update(userID, func(sess *core.Session) error {
			sess.State = core.StateBrokerSelected
			sess.BrokerAuthenticated = false
			return nil
		}); err != nil {
			log.Printf("[SESSION %s] failed to demote rejected session: %v", userID, err)
		}
		unlock()
	}
}

// StartValidator runs ValidateHandles on the given interval until ctx is
// done, so handles the brokerage invalidated out of band don't linger
// between turns.
func (m *BrokerManager) StartValidator(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ValidateHandles(ctx)
			}
		}
	}()
}

// HandleCount returns the number of live broker handles.
func (m *BrokerManager) HandleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}
