package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/becomeliminal/brokerbot/broker"
	"github.com/becomeliminal/brokerbot/conversation"
	"github.com/becomeliminal/brokerbot/core"
	"github.com/becomeliminal/brokerbot/intent"
	"github.com/becomeliminal/brokerbot/journal"
	"github.com/becomeliminal/brokerbot/llm"
	"github.com/becomeliminal/brokerbot/prompt"
	"github.com/becomeliminal/brokerbot/session"
)

// DefaultConfirmTTL is how long a staged trade stays confirmable.
const DefaultConfirmTTL = 3 * time.Minute

// priceDeviationLimit flags limit prices more than 5% away from the last
// traded price.
var priceDeviationLimit = decimal.NewFromFloat(0.05)

// BrokerSource hands out the shared broker handle for a user, or nil.
type BrokerSource interface {
	GetBroker(userID string) broker.Broker
}

// TradeRecorder persists trade outcomes. May be nil-backed in tests.
type TradeRecorder interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// Config wires a Dispatcher.
type Config struct {
	Store      *session.Store
	Brokers    BrokerSource
	Window     *conversation.Window
	Classifier *intent.Classifier
	Completer  llm.Completer
	Quotes     *broker.QuoteCache
	Journal    TradeRecorder
	ConfirmTTL time.Duration
	RetryDelay time.Duration
	Now        func() time.Time
}

// Dispatcher runs one conversational turn: it classifies the message,
// routes it through the confirmation protocol or the completion service,
// executes tool calls against the user's broker, and stages trades for
// explicit confirmation. Callers must hold the user's serialization scope
// for the duration of the turn.
type Dispatcher struct {
	store      *session.Store
	brokers    BrokerSource
	window     *conversation.Window
	classifier *intent.Classifier
	completer  llm.Completer
	quotes     *broker.QuoteCache
	journal    TradeRecorder
	confirmTTL time.Duration
	retryDelay time.Duration
	now        func() time.Time
}

// NewDispatcher creates a dispatcher from the given wiring.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.ConfirmTTL <= 0 {
		cfg.ConfirmTTL = DefaultConfirmTTL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		store:      cfg.Store,
		brokers:    cfg.Brokers,
		window:     cfg.Window,
		classifier: cfg.Classifier,
		completer:  cfg.Completer,
		quotes:     cfg.Quotes,
		journal:    cfg.Journal,
		confirmTTL: cfg.ConfirmTTL,
		retryDelay: cfg.RetryDelay,
		now:        cfg.Now,
	}
}

// HandleTurn processes one inbound message and returns the reply text.
func (d *Dispatcher) HandleTurn(ctx context.Context, userID, chatID, text string) (string, error) {
	sess := d.store.GetOrCreate(userID, chatID)

	in, needsHistory := d.classifier.Classify(text)
	log.Printf("[DISPATCH %s] intent=%s needs_history=%v", userID, in, needsHistory)

	switch in {
	case intent.Greeting:
		return d.handleGreeting(sess, text), nil
	case intent.Confirmation:
		return d.handleConfirmation(ctx, sess, text), nil
	case intent.Cancellation:
		return d.handleCancellation(sess, text), nil
	default:
		return d.handleQuery(ctx, sess, text, needsHistory)
	}
}

// handleGreeting answers greetings locally. No completion call, no history
// assembly: the capability summary is canned and fast.
func (d *Dispatcher) handleGreeting(sess *core.Session, text string) string {
	reply := prompt.Capabilities(sess.BrokerAuthenticated, sess.SelectedBroker)
	d.record(sess.UserID, core.NewUserMessage(text), core.NewAssistantMessage(reply))
	return reply
}

// handleConfirmation executes a staged trade at most once. The pending
// intent is consumed before the order is placed, so a broker failure is
// reported but never re-attempted from the same confirmation.
func (d *Dispatcher) handleConfirmation(ctx context.Context, sess *core.Session, text string) string {
	pending := sess.PendingTrade
	if pending == nil {
		log.Printf("[DISPATCH %s] %v", sess.UserID, core.ErrNothingToConfirm)
		reply := prompt.NothingToConfirm
		d.record(sess.UserID, core.NewUserMessage(text), core.NewAssistantMessage(reply))
		return reply
	}

	if pending.Expired(d.now()) {
		d.clearPending(sess.UserID)
		d.journalTrade(ctx, sess, pending, "", "EXPIRED", core.ErrExpiredConfirmation.Error())
		reply := prompt.ConfirmExpired
		d.record(sess.UserID, core.NewUserMessage(text), core.NewAssistantMessage(reply))
		return reply
	}

	// Consume the intent first. Whatever happens next, this confirmation
	// can execute at most one order.
	d.clearPending(sess.UserID)

	handle := d.brokers.GetBroker(sess.UserID)
	if handle == nil {
		d.journalTrade(ctx, sess, pending, "", "FAILED", "broker session gone at confirmation")
		reply := "Your broker session is no longer active, so the trade was not executed. Please reconnect and place the order again."
		d.record(sess.UserID, core.NewUserMessage(text), core.NewAssistantMessage(reply))
		return reply
	}

	req := broker.OrderRequest{
		Symbol:      pending.Symbol,
		Exchange:    broker.Exchange(pending.Exchange),
		Action:      pending.Action,
		OrderType:   broker.OrderTypeLimit,
		ProductType: broker.ProductDelivery,
		Quantity:    pending.Quantity,
		Price:       pending.Price,
	}
	if pending.Market() {
		req.OrderType = broker.OrderTypeMarket
	}

	result, err := handle.PlaceOrder(ctx, req)
	if err != nil {
		log.Printf("[DISPATCH %s] order execution failed: %v", sess.UserID, err)
		d.journalTrade(ctx, sess, pending, "", "FAILED", err.Error())
		return d.reply(sess.UserID, text, fmt.Sprintf(
			"The order could not be placed: %v. It was not retried; send the order again if you still want it.", err))
	}

	d.journalTrade(ctx, sess, pending, result.OrderID, "PLACED", "")
	log.Printf("[DISPATCH %s] order placed: %s %d %s (order %s)",
		sess.UserID, pending.Action, pending.Quantity, pending.Symbol, result.OrderID)
	return d.reply(sess.UserID, text, fmt.Sprintf(
		"Order placed: %s %d %s %s. Order ID %s, status %s.",
		pending.Action, pending.Quantity, pending.Symbol, describePrice(pending), result.OrderID, result.Status))
}

// handleCancellation discards the staged trade, if any.
func (d *Dispatcher) handleCancellation(sess *core.Session, text string) string {
	if sess.PendingTrade == nil {
		return d.reply(sess.UserID, text, prompt.NothingToCancel)
	}
	d.clearPending(sess.UserID)
	log.Printf("[DISPATCH %s] pending trade cancelled", sess.UserID)
	return d.reply(sess.UserID, text, prompt.Cancelled)
}

// handleQuery runs the completion round trip: assemble context, complete,
// execute read tools, stage at most one trade, and summarize.
func (d *Dispatcher) handleQuery(ctx context.Context, sess *core.Session, text string, needsHistory bool) (string, error) {
	current := core.NewUserMessage(text)
	messages := d.window.Assemble(sess, prompt.System, current, needsHistory)

	resp, err := d.complete(ctx, llm.Request{Messages: messages, Tools: Schemas()})
	if err != nil {
		log.Printf("[DISPATCH %s] completion failed after retry: %v", sess.UserID, err)
		d.record(sess.UserID, current)
		return prompt.TryAgain, nil
	}

	if len(resp.ToolCalls) == 0 {
		reply := resp.Text
		if strings.TrimSpace(reply) == "" {
			reply = "I didn't get a usable answer. Could you rephrase that?"
		}
		d.record(sess.UserID, current, core.NewAssistantMessage(reply))
		return reply, nil
	}

	handle := d.brokers.GetBroker(sess.UserID)
	if handle == nil {
		d.record(sess.UserID, current, core.NewAssistantMessage(prompt.ConnectFirst))
		return prompt.ConnectFirst, nil
	}

	exec := &executor{broker: handle, quotes: d.quotes}
	var toolMsgs []core.Message
	var tradeCalls []llm.ToolCall
	for _, call := range resp.ToolCalls {
		tool, ok := ParseTool(call.Name)
		if !ok {
			log.Printf("[DISPATCH %s] unknown tool %q proposed, skipping", sess.UserID, call.Name)
			toolMsgs = append(toolMsgs, core.NewToolMessage(fmt.Sprintf("%s: unknown tool", call.Name)))
			continue
		}
		if tool.IsTrade() {
			tradeCalls = append(tradeCalls, call)
			continue
		}
		result, err := exec.execute(ctx, tool, call.Arguments)
		if err != nil {
			log.Printf("[DISPATCH %s] tool %s failed: %v", sess.UserID, call.Name, err)
			result = fmt.Sprintf("failed: %v", err)
		}
		toolMsgs = append(toolMsgs, core.NewToolMessage(call.Name+": "+result))
	}

	if len(tradeCalls) > 0 {
		reply := d.stageTrade(ctx, sess, handle, tradeCalls)
		recorded := append([]core.Message{current}, toolMsgs...)
		recorded = append(recorded, core.NewAssistantMessage(reply))
		d.record(sess.UserID, recorded...)
		return reply, nil
	}

	reply := d.summarize(ctx, messages, resp.Text, toolMsgs)
	recorded := append([]core.Message{current}, toolMsgs...)
	recorded = append(recorded, core.NewAssistantMessage(reply))
	d.record(sess.UserID, recorded...)
	return reply, nil
}

// stageTrade validates the first proposed trade, attaches risk notes, and
// stages it as the session's pending intent. Additional trade proposals in
// the same turn are discarded.
func (d *Dispatcher) stageTrade(ctx context.Context, sess *core.Session, handle broker.Broker, calls []llm.ToolCall) string {
	var args PlaceOrderArgs
	if err := json.Unmarshal(calls[0].Arguments, &args); err != nil {
		return fmt.Sprintf("I couldn't read that order proposal (%v). Nothing was staged.", err)
	}
	if err := args.Validate(); err != nil {
		return fmt.Sprintf("That order can't be staged: %v. Nothing was executed.", err)
	}

	symbol := strings.ToUpper(strings.TrimSpace(args.Symbol))
	exchange := normalizeExchange(args.Exchange)
	price := decimal.NewFromFloat(args.Price)
	now := d.now()

	staged := &core.PendingTradeIntent{
		ID:        uuid.New().String(),
		Action:    core.TradeAction(strings.ToUpper(args.Action)),
		Symbol:    symbol,
		Quantity:  args.Quantity,
		Price:     price,
		Exchange:  string(exchange),
		RiskNotes: d.riskNotes(ctx, handle, symbol, exchange, args.Quantity, price),
		CreatedAt: now,
		ExpiresAt: now.Add(d.confirmTTL),
	}

	replaced := sess.PendingTrade != nil
	if _, err := d.store.Update(sess.UserID, func(s *core.Session) error {
		s.PendingTrade = staged
		return nil
	}); err != nil {
		log.Printf("[DISPATCH %s] failed to stage trade: %v", sess.UserID, err)
		return "Something went wrong staging that order. Nothing was executed."
	}
	log.Printf("[DISPATCH %s] trade staged: %s %d %s, expires %s",
		sess.UserID, staged.Action, staged.Quantity, staged.Symbol, staged.ExpiresAt.Format(time.Kitchen))

	var b strings.Builder
	fmt.Fprintf(&b, "Please confirm this order:\n%s %d %s on %s %s.",
		staged.Action, staged.Quantity, staged.Symbol, staged.Exchange, describePrice(staged))
	for _, note := range staged.RiskNotes {
		fmt.Fprintf(&b, "\n⚠️ %s", note)
	}
	if replaced {
		b.WriteString("\nThis replaces your earlier pending trade.")
	}
	if extra := len(calls) - 1; extra > 0 {
		fmt.Fprintf(&b, "\nOnly one trade can be staged at a time; %d additional proposal(s) were discarded.", extra)
	}
	fmt.Fprintf(&b, "\n\nReply CONFIRM within %d minutes to execute, or CANCEL to discard.",
		int(d.confirmTTL.Minutes()))
	return b.String()
}

// riskNotes checks the proposed trade against live funds and the last
// traded price. Failures to fetch either are logged and skipped; risk notes
// are advisory and never block staging.
func (d *Dispatcher) riskNotes(ctx context.Context, handle broker.Broker, symbol string, exchange broker.Exchange, quantity int, price decimal.Decimal) []string {
	var notes []string

	quote, err := d.quotes.Get(ctx, handle, symbol, exchange)
	if err != nil {
		log.Printf("[DISPATCH] risk check: quote for %s unavailable: %v", symbol, err)
		quote = nil
	}

	effective := price
	if price.IsZero() && quote != nil {
		effective = quote.LTP
	}
	if !price.IsZero() && quote != nil && quote.LTP.IsPositive() {
		deviation := price.Sub(quote.LTP).Abs().Div(quote.LTP)
		if deviation.GreaterThan(priceDeviationLimit) {
			notes = append(notes, fmt.Sprintf(
				"Limit price %s is %s%% away from the last traded price %s.",
				price, deviation.Mul(decimal.NewFromInt(100)).Round(1), quote.LTP))
		}
	}

	if effective.IsPositive() {
		cost := effective.Mul(decimal.NewFromInt(int64(quantity)))
		funds, err := handle.GetFunds(ctx)
		if err != nil {
			log.Printf("[DISPATCH] risk check: funds unavailable: %v", err)
		} else if cost.GreaterThan(funds.AvailableCash) {
			notes = append(notes, fmt.Sprintf(
				"Estimated cost %s exceeds your available cash %s.", cost, funds.AvailableCash))
		}
	}
	return notes
}

// summarize runs the follow-up completion over the tool results. If the
// follow-up fails the raw tool results are returned instead of nothing.
func (d *Dispatcher) summarize(ctx context.Context, messages []core.Message, assistantText string, toolMsgs []core.Message) string {
	if len(toolMsgs) == 0 {
		if strings.TrimSpace(assistantText) != "" {
			return assistantText
		}
		return "I didn't get a usable answer. Could you rephrase that?"
	}

	followUp := make([]core.Message, 0, len(messages)+len(toolMsgs)+2)
	followUp = append(followUp, messages...)
	if strings.TrimSpace(assistantText) != "" {
		followUp = append(followUp, core.NewAssistantMessage(assistantText))
	}
	followUp = append(followUp, toolMsgs...)
	followUp = append(followUp, core.NewUserMessage("Answer my question using the tool results above."))

	resp, err := d.complete(ctx, llm.Request{Messages: followUp})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		if err != nil {
			log.Printf("[DISPATCH] follow-up summary failed, returning raw results: %v", err)
		}
		var parts []string
		for _, msg := range toolMsgs {
			parts = append(parts, msg.Content)
		}
		return strings.Join(parts, "\n")
	}
	return resp.Text
}

// complete calls the completion service, retrying a service failure once
// after a short backoff.
func (d *Dispatcher) complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := d.completer.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	var cerr *core.CompletionError
	if !errors.As(err, &cerr) {
		return nil, err
	}
	log.Printf("[DISPATCH] completion failed, retrying once: %v", err)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d.retryDelay):
	}
	return d.completer.Complete(ctx, req)
}

// reply records the user message and assistant reply, then returns the reply.
func (d *Dispatcher) reply(userID, userText, replyText string) string {
	d.record(userID, core.NewUserMessage(userText), core.NewAssistantMessage(replyText))
	return replyText
}

// record appends messages to the user's history inside the bounded window.
func (d *Dispatcher) record(userID string, msgs ...core.Message) {
	if _, err := d.store.Update(userID, func(s *core.Session) error {
		for _, msg := range msgs {
			d.window.Append(s, msg)
		}
		return nil
	}); err != nil {
		log.Printf("[DISPATCH %s] failed to record history: %v", userID, err)
	}
}

// clearPending drops the session's pending trade intent.
func (d *Dispatcher) clearPending(userID string) {
	if _, err := d.store.Update(userID, func(s *core.Session) error {
		s.PendingTrade = nil
		return nil
	}); err != nil {
		log.Printf("[DISPATCH %s] failed to clear pending trade: %v", userID, err)
	}
}

// journalTrade records a trade outcome; a nil journal is a no-op.
func (d *Dispatcher) journalTrade(ctx context.Context, sess *core.Session, p *core.PendingTradeIntent, orderID, status, note string) {
	if d.journal == nil {
		return
	}
	price := "MARKET"
	if !p.Market() {
		price = p.Price.String()
	}
	entry := journal.Entry{
		ID:       p.ID,
		UserID:   sess.UserID,
		Broker:   sess.SelectedBroker,
		Action:   string(p.Action),
		Symbol:   p.Symbol,
		Quantity: p.Quantity,
		Price:    price,
		OrderID:  orderID,
		Status:   status,
		Note:     note,
	}
	if err := d.journal.Record(ctx, entry); err != nil {
		log.Printf("[DISPATCH %s] journal write failed: %v", sess.UserID, err)
	}
}

func describePrice(p *core.PendingTradeIntent) string {
	if p.Market() {
		return "at market"
	}
	return "at limit " + p.Price.String()
}
