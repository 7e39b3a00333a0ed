// Package dispatch turns completion-service tool calls into broker calls.
// The tool set is a closed enum: an unknown tool name is a protocol error,
// not a lookup miss.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/becomeliminal/brokerbot/broker"
	"github.com/becomeliminal/brokerbot/core"
	"github.com/becomeliminal/brokerbot/llm"
)

// Tool identifies one callable tool.
type Tool int

const (
	ToolGetQuote Tool = iota
	ToolGetMarketDepth
	ToolGetFunds
	ToolGetHoldings
	ToolGetPositions
	ToolGetOrders
	ToolGetProfile
	ToolGetTopMovers
	ToolCancelAllOrders
	ToolPlaceOrder
)

var toolNames = map[Tool]string{
	ToolGetQuote:        "get_quote",
	ToolGetMarketDepth:  "get_market_depth",
	ToolGetFunds:        "get_funds",
	ToolGetHoldings:     "get_holdings",
	ToolGetPositions:    "get_positions",
	ToolGetOrders:       "get_orders",
	ToolGetProfile:      "get_profile",
	ToolGetTopMovers:    "get_top_movers",
	ToolCancelAllOrders: "cancel_all_orders",
	ToolPlaceOrder:      "place_order",
}

// Name returns the wire name of the tool.
func (t Tool) Name() string { return toolNames[t] }

// IsTrade reports whether the tool places an order. Trade tools are never
// executed directly; they stage a pending intent for explicit confirmation.
func (t Tool) IsTrade() bool { return t == ToolPlaceOrder }

// ParseTool maps a wire name back to the enum.
func ParseTool(name string) (Tool, bool) {
	for tool, n := range toolNames {
		if n == name {
			return tool, true
		}
	}
	return 0, false
}

// Schemas returns the tool declarations sent to the completion service.
func Schemas() []llm.ToolSchema {
	symbolProp := map[string]interface{}{
		"type":        "string",
		"description": "Stock symbol, e.g. RELIANCE or TCS",
	}
	exchangeProp := map[string]interface{}{
		"type":        "string",
		"description": "Exchange: NSE or BSE. Defaults to NSE.",
	}
	return []llm.ToolSchema{
		{
			Name:        ToolGetQuote.Name(),
			Description: "Get the live price quote for a stock",
			Properties: map[string]interface{}{
				"symbol":   symbolProp,
				"exchange": exchangeProp,
			},
		},
		{
			Name:        ToolGetMarketDepth.Name(),
			Description: "Get the order book (market depth) for a stock",
			Properties: map[string]interface{}{
				"symbol":   symbolProp,
				"exchange": exchangeProp,
			},
		},
		{
			Name:        ToolGetFunds.Name(),
			Description: "Get the user's available cash and margin",
			Properties:  map[string]interface{}{},
		},
		{
			Name:        ToolGetHoldings.Name(),
			Description: "Get the user's portfolio holdings with P&L",
			Properties:  map[string]interface{}{},
		},
		{
			Name:        ToolGetPositions.Name(),
			Description: "Get the user's open intraday positions",
			Properties:  map[string]interface{}{},
		},
		{
			Name:        ToolGetOrders.Name(),
			Description: "Get the user's orders for the day with status",
			Properties:  map[string]interface{}{},
		},
		{
			Name:        ToolGetProfile.Name(),
			Description: "Get the user's account profile",
			Properties:  map[string]interface{}{},
		},
		{
			Name:        ToolGetTopMovers.Name(),
			Description: "Get today's top gaining or losing stocks",
			Properties: map[string]interface{}{
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Either gainers or losers",
				},
			},
		},
		{
			Name:        ToolCancelAllOrders.Name(),
			Description: "Cancel all of the user's pending orders",
			Properties:  map[string]interface{}{},
		},
		{
			Name:        ToolPlaceOrder.Name(),
			Description: "Propose a buy or sell order. The order is NOT executed until the user explicitly confirms it.",
			Properties: map[string]interface{}{
				"action": map[string]interface{}{
					"type":        "string",
					"description": "BUY or SELL",
				},
				"symbol": symbolProp,
				"quantity": map[string]interface{}{
					"type":        "integer",
					"description": "Number of shares",
				},
				"price": map[string]interface{}{
					"type":        "number",
					"description": "Limit price. Omit or 0 for a market order.",
				},
				"exchange": exchangeProp,
			},
		},
	}
}

// quoteArgs are the arguments for get_quote.
type quoteArgs struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// moversArgs are the arguments for get_top_movers.
type moversArgs struct {
	Kind string `json:"kind"`
}

// PlaceOrderArgs are the arguments for place_order.
type PlaceOrderArgs struct {
	Action   string  `json:"action"`
	Symbol   string  `json:"symbol"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Exchange string  `json:"exchange"`
}

// Validate rejects malformed trade arguments before anything is staged.
func (a *PlaceOrderArgs) Validate() error {
	action := core.TradeAction(strings.ToUpper(strings.TrimSpace(a.Action)))
	if action != core.ActionBuy && action != core.ActionSell {
		return &core.ValidationError{Field: "action", Reason: "must be BUY or SELL"}
	}
	if strings.TrimSpace(a.Symbol) == "" {
		return &core.ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if a.Quantity <= 0 {
		return &core.ValidationError{Field: "quantity", Reason: "must be a positive whole number"}
	}
	if a.Price < 0 {
		return &core.ValidationError{Field: "price", Reason: "must not be negative"}
	}
	return nil
}

func normalizeExchange(s string) broker.Exchange {
	if strings.EqualFold(strings.TrimSpace(s), string(broker.ExchangeBSE)) {
		return broker.ExchangeBSE
	}
	return broker.ExchangeNSE
}

// executor runs read tools against a logged-in broker handle and formats the
// results as text for the completion follow-up.
type executor struct {
	broker broker.Broker
	quotes *broker.QuoteCache
}

// execute runs one non-trade tool call. Broker failures come back as an
// error; the caller reports them as failed tool results and the turn
// continues.
func (e *executor) execute(ctx context.Context, tool Tool, args json.RawMessage) (string, error) {
	switch tool {
	case ToolGetQuote:
		var a quoteArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", fmt.Errorf("parse get_quote arguments: %w", err)
		}
		quote, err := e.quotes.Get(ctx, e.broker, strings.ToUpper(a.Symbol), normalizeExchange(a.Exchange))
		if err != nil {
			return "", err
		}
		return formatQuote(quote), nil

	case ToolGetMarketDepth:
		var a quoteArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", fmt.Errorf("parse get_market_depth arguments: %w", err)
		}
		depth, err := e.broker.GetMarketDepth(ctx, strings.ToUpper(a.Symbol), normalizeExchange(a.Exchange))
		if err != nil {
			return "", err
		}
		return formatDepth(depth), nil

	case ToolGetFunds:
		funds, err := e.broker.GetFunds(ctx)
		if err != nil {
			return "", err
		}
		return formatFunds(funds), nil

	case ToolGetHoldings:
		holdings, err := e.broker.GetHoldings(ctx)
		if err != nil {
			return "", err
		}
		return formatHoldings(holdings), nil

	case ToolGetPositions:
		positions, err := e.broker.GetPositions(ctx)
		if err != nil {
			return "", err
		}
		return formatPositions(positions), nil

	case ToolGetOrders:
		orders, err := e.broker.GetOrders(ctx)
		if err != nil {
			return "", err
		}
		return formatOrders(orders), nil

	case ToolGetProfile:
		profile, err := e.broker.GetProfile(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Name: %s, Client ID: %s, Email: %s", profile.Name, profile.ClientID, profile.Email), nil

	case ToolGetTopMovers:
		var a moversArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", fmt.Errorf("parse get_top_movers arguments: %w", err)
		}
		kind := broker.MoversGainers
		if strings.EqualFold(a.Kind, string(broker.MoversLosers)) {
			kind = broker.MoversLosers
		}
		movers, err := e.broker.GetTopMovers(ctx, kind)
		if err != nil {
			return "", err
		}
		return formatMovers(kind, movers), nil

	case ToolCancelAllOrders:
		n, err := e.broker.CancelAllOrders(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Cancelled %d pending order(s).", n), nil

	case ToolPlaceOrder:
		// Trade tools never reach the executor; they stage a pending intent.
		return "", fmt.Errorf("place_order cannot be executed directly")
	}
	return "", fmt.Errorf("unknown tool %d", tool)
}

func formatQuote(q *broker.Quote) string {
	return fmt.Sprintf("%s (%s): LTP %s, open %s, high %s, low %s, close %s, change %s (%s%%), volume %d",
		q.Symbol, q.Exchange, q.LTP, q.Open, q.High, q.Low, q.Close, q.Change, q.ChangePercent, q.Volume)
}

func formatDepth(d *broker.MarketDepth) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): LTP %s, total buy qty %d, total sell qty %d, circuit %s-%s",
		d.Symbol, d.Exchange, d.LTP, d.TotalBuyQuantity, d.TotalSellQuantity, d.LowerCircuit, d.UpperCircuit)
	for i := 0; i < len(d.Buy) || i < len(d.Sell); i++ {
		b.WriteString("\n")
		if i < len(d.Buy) {
			fmt.Fprintf(&b, "bid %s x %d", d.Buy[i].Price, d.Buy[i].Quantity)
		}
		if i < len(d.Sell) {
			if i < len(d.Buy) {
				b.WriteString(" | ")
			}
			fmt.Fprintf(&b, "ask %s x %d", d.Sell[i].Price, d.Sell[i].Quantity)
		}
	}
	return b.String()
}

func formatFunds(f *broker.Funds) string {
	return fmt.Sprintf("Available cash: %s, available margin: %s, utilised margin: %s",
		f.AvailableCash, f.AvailableMargin, f.UtilisedMargin)
}

func formatHoldings(holdings []broker.Holding) string {
	if len(holdings) == 0 {
		return "No holdings."
	}
	var b strings.Builder
	total := decimal.Zero
	for _, h := range holdings {
		fmt.Fprintf(&b, "%s (%s): %d @ avg %s, now %s, P&L %s\n",
			h.Symbol, h.Exchange, h.Quantity, h.AveragePrice, h.CurrentPrice, h.PnL)
		total = total.Add(h.PnL)
	}
	fmt.Fprintf(&b, "Total P&L: %s", total)
	return b.String()
}

func formatPositions(positions []broker.Position) string {
	if len(positions) == 0 {
		return "No open positions."
	}
	var b strings.Builder
	for i, p := range positions {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s (%s, %s): %d @ avg %s, now %s, P&L %s",
			p.Symbol, p.Exchange, p.ProductType, p.Quantity, p.AveragePrice, p.CurrentPrice, p.PnL)
	}
	return b.String()
}

func formatOrders(orders []broker.Order) string {
	if len(orders) == 0 {
		return "No orders today."
	}
	var b strings.Builder
	for i, o := range orders {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s %s %d %s @ %s [%s] (order %s)",
			o.Action, o.Symbol, o.Quantity, o.OrderType, o.Price, o.Status, o.OrderID)
	}
	return b.String()
}

func formatMovers(kind broker.MoverKind, movers []broker.Mover) string {
	if len(movers) == 0 {
		return fmt.Sprintf("No %s data available.", kind)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Top %s:", kind)
	for _, m := range movers {
		fmt.Fprintf(&b, "\n%s: %s (%s%%)", m.Symbol, m.LTP, m.ChangePercent)
	}
	return b.String()
}
