package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, Entry{
		UserID:   "user-1",
		Broker:   "paper",
		Action:   "BUY",
		Symbol:   "RELIANCE",
		Quantity: 10,
		Price:    "MARKET",
		OrderID:  "order-1",
		Status:   "PLACED",
	}))
	require.NoError(t, j.Record(ctx, Entry{
		UserID:   "user-1",
		Broker:   "paper",
		Action:   "SELL",
		Symbol:   "TCS",
		Quantity: 5,
		Price:    "3180",
		Status:   "FAILED",
		Note:     "exchange rejected",
	}))
	require.NoError(t, j.Record(ctx, Entry{
		UserID:   "user-2",
		Broker:   "paper",
		Action:   "BUY",
		Symbol:   "ITC",
		Quantity: 1,
		Price:    "MARKET",
		Status:   "PLACED",
	}))

	entries, err := j.Recent(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2, "entries are scoped per user")
	for _, e := range entries {
		assert.Equal(t, "user-1", e.UserID)
		assert.NotEmpty(t, e.ID, "missing IDs get generated")
	}
}

func TestRecentLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Record(ctx, Entry{
			UserID: "user-1", Broker: "paper", Action: "BUY",
			Symbol: "ITC", Quantity: 1, Price: "MARKET", Status: "PLACED",
		}))
	}

	entries, err := j.Recent(ctx, "user-1", 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
