package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/brokerbot/broker"
	"github.com/becomeliminal/brokerbot/conversation"
	"github.com/becomeliminal/brokerbot/core"
	"github.com/becomeliminal/brokerbot/intent"
	"github.com/becomeliminal/brokerbot/journal"
	"github.com/becomeliminal/brokerbot/llm"
	"github.com/becomeliminal/brokerbot/session"
)

// scriptedCompleter replays canned responses in order.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
}

func (s *scriptedCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(s.responses) == 0 {
		return &llm.Response{Text: "ok"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

// countingBroker wraps the paper broker and counts order placements.
type countingBroker struct {
	*broker.Paper
	mu          sync.Mutex
	placeErr    error
	placedCount int
	placed      []broker.OrderRequest
}

func (c *countingBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	c.mu.Lock()
	c.placedCount++
	c.placed = append(c.placed, req)
	err := c.placeErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.Paper.PlaceOrder(ctx, req)
}

func (c *countingBroker) orders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.placedCount
}

// mapBrokers hands out fixed handles.
type mapBrokers map[string]broker.Broker

func (m mapBrokers) GetBroker(userID string) broker.Broker { return m[userID] }

// memoryJournal records entries in memory.
type memoryJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memoryJournal) Record(ctx context.Context, entry journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	dispatcher *Dispatcher
	store      *session.Store
	completer  *scriptedCompleter
	broker     *countingBroker
	journal    *memoryJournal
	clock      *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	paper := broker.NewPaper()
	require.NoError(t, paper.Login(context.Background(), broker.Credentials{ClientID: "PAPER001", PIN: "0000"}))
	handle := &countingBroker{Paper: paper}

	classifier, err := intent.New(intent.DefaultConfig())
	require.NoError(t, err)
	quotes, err := broker.NewQuoteCache(time.Second)
	require.NoError(t, err)
	t.Cleanup(quotes.Close)

	store := session.NewStore()
	store.GetOrCreate("user-1", "chat-1")
	_, err = store.Update("user-1", func(s *core.Session) error {
		s.State = core.StateAuthenticated
		s.SelectedBroker = "paper"
		s.BrokerAuthenticated = true
		return nil
	})
	require.NoError(t, err)

	completer := &scriptedCompleter{}
	mem := &memoryJournal{}
	clock := &testClock{now: time.Now()}

	dispatcher := NewDispatcher(Config{
		Store:      store,
		Brokers:    mapBrokers{"user-1": handle},
		Window:     conversation.NewWindow(20),
		Classifier: classifier,
		Completer:  completer,
		Quotes:     quotes,
		Journal:    mem,
		ConfirmTTL: 3 * time.Minute,
		RetryDelay: time.Millisecond,
		Now:        clock.Now,
	})
	return &testEnv{
		dispatcher: dispatcher,
		store:      store,
		completer:  completer,
		broker:     handle,
		journal:    mem,
		clock:      clock,
	}
}

func (e *testEnv) turn(t *testing.T, text string) string {
	t.Helper()
	reply, err := e.dispatcher.HandleTurn(context.Background(), "user-1", "chat-1", text)
	require.NoError(t, err)
	return reply
}

func toolCall(name string, args map[string]interface{}) llm.ToolCall {
	raw, _ := json.Marshal(args)
	return llm.ToolCall{ID: "call-1", Name: name, Arguments: json.RawMessage(raw)}
}

func TestGreetingShortCircuits(t *testing.T) {
	env := newTestEnv(t)

	reply := env.turn(t, "hello")
	assert.Contains(t, reply, "trading assistant")
	assert.Contains(t, reply, "Connected to paper")
	assert.Empty(t, env.completer.requests, "greetings must not hit the completion service")

	sess := env.store.Get("user-1")
	require.Len(t, sess.History, 2)
	assert.Equal(t, core.RoleUser, sess.History[0].Role)
	assert.Equal(t, core.RoleAssistant, sess.History[1].Role)
}

func TestQuoteQueryRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("get_quote", map[string]interface{}{"symbol": "RELIANCE"})}},
		{Text: "RELIANCE is trading at 1425.50."},
	}

	reply := env.turn(t, "what's the RELIANCE price?")
	assert.Equal(t, "RELIANCE is trading at 1425.50.", reply)
	require.Len(t, env.completer.requests, 2)

	// Tool result went into history between user and assistant.
	sess := env.store.Get("user-1")
	require.Len(t, sess.History, 3)
	assert.Equal(t, core.RoleTool, sess.History[1].Role)
	assert.Contains(t, sess.History[1].Content, "1425.5")
}

func TestTradeProposalStagesPendingIntent(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("place_order", map[string]interface{}{
			"action": "BUY", "symbol": "RELIANCE", "quantity": 10,
		})}},
	}

	reply := env.turn(t, "buy 10 RELIANCE")
	assert.Contains(t, reply, "CONFIRM")
	assert.Contains(t, reply, "BUY 10 RELIANCE")
	assert.Equal(t, 0, env.broker.orders(), "nothing executes before confirmation")

	sess := env.store.Get("user-1")
	require.NotNil(t, sess.PendingTrade)
	assert.Equal(t, core.ActionBuy, sess.PendingTrade.Action)
	assert.Equal(t, 10, sess.PendingTrade.Quantity)
	assert.True(t, sess.PendingTrade.Market())
}

func TestConfirmExecutesExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("place_order", map[string]interface{}{
			"action": "BUY", "symbol": "RELIANCE", "quantity": 10,
		})}},
	}
	env.turn(t, "buy 10 RELIANCE")

	reply := env.turn(t, "CONFIRM")
	assert.Contains(t, reply, "Order placed")
	assert.Equal(t, 1, env.broker.orders())
	assert.Nil(t, env.store.Get("user-1").PendingTrade)

	// A second CONFIRM finds nothing to execute.
	reply = env.turn(t, "CONFIRM")
	assert.Contains(t, reply, "nothing to confirm")
	assert.Equal(t, 1, env.broker.orders())

	require.Len(t, env.journal.entries, 1)
	assert.Equal(t, "PLACED", env.journal.entries[0].Status)
}

func TestConfirmAfterExpiryDoesNotExecute(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("place_order", map[string]interface{}{
			"action": "SELL", "symbol": "TCS", "quantity": 5,
		})}},
	}
	env.turn(t, "sell 5 TCS")

	env.clock.Advance(3*time.Minute + time.Second)

	reply := env.turn(t, "CONFIRM")
	assert.Contains(t, reply, "expired")
	assert.Equal(t, 0, env.broker.orders())
	assert.Nil(t, env.store.Get("user-1").PendingTrade)

	require.Len(t, env.journal.entries, 1)
	assert.Equal(t, "EXPIRED", env.journal.entries[0].Status)
}

func TestFailedExecutionIsNotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("place_order", map[string]interface{}{
			"action": "BUY", "symbol": "RELIANCE", "quantity": 10,
		})}},
	}
	env.turn(t, "buy 10 RELIANCE")
	env.broker.placeErr = &core.BrokerError{Op: "place_order", Code: "AB1004", Err: errors.New("exchange rejected")}

	reply := env.turn(t, "CONFIRM")
	assert.Contains(t, reply, "not retried")
	assert.Equal(t, 1, env.broker.orders())
	assert.Nil(t, env.store.Get("user-1").PendingTrade)

	// Confirming again after the failure must not replay the trade.
	reply = env.turn(t, "CONFIRM")
	assert.Contains(t, reply, "nothing to confirm")
	assert.Equal(t, 1, env.broker.orders())

	require.Len(t, env.journal.entries, 1)
	assert.Equal(t, "FAILED", env.journal.entries[0].Status)
}

func TestCancellationDiscardsPendingTrade(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("place_order", map[string]interface{}{
			"action": "BUY", "symbol": "ITC", "quantity": 100,
		})}},
	}
	env.turn(t, "buy 100 ITC")

	reply := env.turn(t, "CANCEL")
	assert.Contains(t, reply, "cancelled")
	assert.Nil(t, env.store.Get("user-1").PendingTrade)
	assert.Equal(t, 0, env.broker.orders())

	reply = env.turn(t, "CANCEL")
	assert.Contains(t, reply, "no pending trade")
}

func TestOnlyFirstTradeProposalIsStaged(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{
			toolCall("place_order", map[string]interface{}{"action": "BUY", "symbol": "RELIANCE", "quantity": 10}),
			toolCall("place_order", map[string]interface{}{"action": "BUY", "symbol": "TCS", "quantity": 5}),
		}},
	}

	reply := env.turn(t, "buy 10 RELIANCE and 5 TCS")
	assert.Contains(t, reply, "RELIANCE")
	assert.Contains(t, reply, "1 additional proposal(s) were discarded")

	sess := env.store.Get("user-1")
	require.NotNil(t, sess.PendingTrade)
	assert.Equal(t, "RELIANCE", sess.PendingTrade.Symbol)
}

func TestNewProposalReplacesPendingTrade(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("place_order", map[string]interface{}{"action": "BUY", "symbol": "RELIANCE", "quantity": 10})}},
		{ToolCalls: []llm.ToolCall{toolCall("place_order", map[string]interface{}{"action": "SELL", "symbol": "TCS", "quantity": 5})}},
	}

	env.turn(t, "buy 10 RELIANCE")
	reply := env.turn(t, "actually sell 5 TCS instead")
	assert.Contains(t, reply, "replaces your earlier pending trade")

	sess := env.store.Get("user-1")
	require.NotNil(t, sess.PendingTrade)
	assert.Equal(t, "TCS", sess.PendingTrade.Symbol)
	assert.Equal(t, core.ActionSell, sess.PendingTrade.Action)
}

func TestInvalidProposalIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("place_order", map[string]interface{}{
			"action": "BUY", "symbol": "RELIANCE", "quantity": 0,
		})}},
	}

	reply := env.turn(t, "buy zero RELIANCE")
	assert.Contains(t, reply, "quantity")
	assert.Nil(t, env.store.Get("user-1").PendingTrade)
	assert.Equal(t, 0, env.broker.orders())
}

func TestRiskNotesOnStagedTrade(t *testing.T) {
	env := newTestEnv(t)
	// LTP for RELIANCE is 1425.50; a limit of 2000 deviates far more than 5%,
	// and 100 shares at 2000 outruns the default 100000 cash.
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("place_order", map[string]interface{}{
			"action": "BUY", "symbol": "RELIANCE", "quantity": 100, "price": 2000,
		})}},
	}

	reply := env.turn(t, "buy 100 RELIANCE at 2000")
	assert.Contains(t, reply, "away from the last traded price")
	assert.Contains(t, reply, "exceeds your available cash")

	sess := env.store.Get("user-1")
	require.NotNil(t, sess.PendingTrade)
	assert.Len(t, sess.PendingTrade.RiskNotes, 2)
}

func TestCompletionFailureDegradesAfterRetry(t *testing.T) {
	env := newTestEnv(t)
	env.completer.errs = []error{
		&core.CompletionError{Err: errors.New("overloaded")},
		&core.CompletionError{Err: errors.New("overloaded")},
	}

	reply := env.turn(t, "what's the RELIANCE price?")
	assert.Contains(t, reply, "try again")
	assert.Len(t, env.completer.requests, 2, "one retry, then degrade")

	// The user message is still recorded for the next turn's context.
	sess := env.store.Get("user-1")
	require.Len(t, sess.History, 1)
	assert.Equal(t, core.RoleUser, sess.History[0].Role)
}

func TestCompletionRetrySucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.completer.errs = []error{&core.CompletionError{Err: errors.New("overloaded")}, nil}
	env.completer.responses = []*llm.Response{{Text: "All good."}}

	reply := env.turn(t, "how are my holdings doing")
	assert.Equal(t, "All good.", reply)
	assert.Len(t, env.completer.requests, 2)
}

func TestToolCallsWithoutBrokerAskToConnect(t *testing.T) {
	env := newTestEnv(t)
	// Drop the handle: the completion still proposes a tool call.
	env.dispatcher.brokers = mapBrokers{}
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("get_quote", map[string]interface{}{"symbol": "RELIANCE"})}},
	}

	reply := env.turn(t, "what's the RELIANCE price?")
	assert.Contains(t, reply, "connect to a broker")
}

func TestBrokerToolFailureContinuesTurn(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("get_quote", map[string]interface{}{"symbol": "UNLISTED"})}},
		{Text: "I couldn't find that symbol."},
	}

	reply := env.turn(t, "price of UNLISTED?")
	assert.Equal(t, "I couldn't find that symbol.", reply)

	sess := env.store.Get("user-1")
	require.Len(t, sess.History, 3)
	assert.Contains(t, sess.History[1].Content, "failed")
}

func TestContextualQuerySendsHistory(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{Text: "RELIANCE is at 1425.50."},
		{Text: "TCS is at 3180.00."},
	}

	env.turn(t, "RELIANCE price")
	env.turn(t, "what about TCS?")

	require.Len(t, env.completer.requests, 2)
	// The follow-up carries the prior exchange; the first turn went fresh.
	assert.Len(t, env.completer.requests[0].Messages, 2)
	assert.Greater(t, len(env.completer.requests[1].Messages), 2)
}

func TestLimitOrderCarriesPriceToBroker(t *testing.T) {
	env := newTestEnv(t)
	env.completer.responses = []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("place_order", map[string]interface{}{
			"action": "BUY", "symbol": "RELIANCE", "quantity": 2, "price": 1400.50,
		})}},
	}
	env.turn(t, "buy 2 RELIANCE at 1400.50")

	env.turn(t, "yes")
	require.Equal(t, 1, env.broker.orders())
	placed := env.broker.placed[0]
	assert.Equal(t, broker.OrderTypeLimit, placed.OrderType)
	assert.True(t, placed.Price.Equal(decimal.NewFromFloat(1400.50)))
}
