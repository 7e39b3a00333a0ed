package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/brokerbot/core"
)

func TestGetOrCreateReturnsSnapshot(t *testing.T) {
	store := NewStore()
	sess := store.GetOrCreate("user-1", "chat-1")
	require.NotNil(t, sess)

	// Mutating the snapshot must not leak into the store.
	sess.State = core.StateAuthenticated
	again := store.Get("user-1")
	assert.Equal(t, core.StateUnauthenticated, again.State)
}

func TestUpdateIsAtomic(t *testing.T) {
	store := NewStore()
	store.GetOrCreate("user-1", "chat-1")

	_, err := store.Update("user-1", func(s *core.Session) error {
		s.History = append(s.History, core.NewUserMessage("hello"))
		// Invalid: flag without state. The whole update must be discarded.
		s.BrokerAuthenticated = true
		return nil
	})
	require.Error(t, err)

	sess := store.Get("user-1")
	assert.False(t, sess.BrokerAuthenticated)
	assert.Empty(t, sess.History, "rejected update must not leave partial writes")
}

func TestUpdateUnknownUser(t *testing.T) {
	store := NewStore()
	_, err := store.Update("ghost", func(s *core.Session) error { return nil })
	assert.Error(t, err)
}

func TestExpireInactive(t *testing.T) {
	store := NewStore()
	store.GetOrCreate("stale", "chat-1")
	store.GetOrCreate("fresh", "chat-2")

	// Backdate one session past the ttl.
	store.mu.Lock()
	store.sessions["stale"].UpdatedAt = time.Now().Add(-2 * time.Hour)
	store.mu.Unlock()

	expired := store.ExpireInactive(time.Hour)
	assert.Equal(t, []string{"stale"}, expired)
	assert.Nil(t, store.Get("stale"))
	assert.NotNil(t, store.Get("fresh"))
}

func TestExpireInactivePrunesIdleLocks(t *testing.T) {
	store := NewStore()
	store.GetOrCreate("stale", "chat-1")
	store.LockUser("stale")()

	store.mu.Lock()
	store.sessions["stale"].UpdatedAt = time.Now().Add(-2 * time.Hour)
	store.mu.Unlock()

	store.ExpireInactive(time.Hour)
	store.mu.Lock()
	_, ok := store.locks["stale"]
	store.mu.Unlock()
	assert.False(t, ok, "expired user's lock entry should be pruned")
}

func TestExpireInactiveKeepsHeldLocks(t *testing.T) {
	store := NewStore()
	store.GetOrCreate("stale", "chat-1")
	unlock := store.LockUser("stale")
	defer unlock()

	store.mu.Lock()
	store.sessions["stale"].UpdatedAt = time.Now().Add(-2 * time.Hour)
	store.mu.Unlock()

	store.ExpireInactive(time.Hour)
	store.mu.Lock()
	_, ok := store.locks["stale"]
	store.mu.Unlock()
	assert.True(t, ok, "a lock held by an in-flight turn must survive the sweep")
}

func TestExpireInactiveDropsExpiredPendingTrades(t *testing.T) {
	store := NewStore()
	store.GetOrCreate("user-1", "chat-1")
	_, err := store.Update("user-1", func(s *core.Session) error {
		s.PendingTrade = &core.PendingTradeIntent{
			ID:        "intent-1",
			Action:    core.ActionBuy,
			Symbol:    "RELIANCE",
			Quantity:  1,
			CreatedAt: time.Now().Add(-10 * time.Minute),
			ExpiresAt: time.Now().Add(-7 * time.Minute),
		}
		return nil
	})
	require.NoError(t, err)

	store.ExpireInactive(time.Hour)
	sess := store.Get("user-1")
	require.NotNil(t, sess)
	assert.Nil(t, sess.PendingTrade, "expired intent should be swept")
}

func TestLockUserSerializesSameUser(t *testing.T) {
	store := NewStore()
	store.GetOrCreate("user-1", "chat-1")

	const turns = 50
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := store.LockUser("user-1")
			defer unlock()
			_, err := store.Update("user-1", func(s *core.Session) error {
				s.History = append(s.History, core.NewUserMessage(fmt.Sprintf("msg-%d", i)))
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sess := store.Get("user-1")
	assert.Len(t, sess.History, turns, "no appended turn may be lost")
}
