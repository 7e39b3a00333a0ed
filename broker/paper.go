package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/becomeliminal/brokerbot/core"
)

// Paper is an in-memory simulated broker. It gives every login a funded
// account with deterministic prices so the bot can run end to end without
// real brokerage credentials. Tests use it as the reference implementation.
type Paper struct {
	mu       sync.Mutex
	loggedIn bool
	cash     decimal.Decimal
	prices   map[string]decimal.Decimal
	holdings []Holding
	orders   []Order
}

// NewPaper creates a paper broker with a default account.
func NewPaper() *Paper {
	return &Paper{
		cash: decimal.NewFromInt(100000),
		prices: map[string]decimal.Decimal{
			"RELIANCE": decimal.NewFromFloat(1425.50),
			"TCS":      decimal.NewFromFloat(3180.00),
			"INFY":     decimal.NewFromFloat(1502.25),
			"ITC":      decimal.NewFromFloat(418.70),
			"HDFCBANK": decimal.NewFromFloat(1689.40),
		},
	}
}

func (p *Paper) Name() string { return "paper" }

// Login accepts any credentials with a non-empty client ID and PIN.
func (p *Paper) Login(ctx context.Context, creds Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if creds.ClientID == "" || creds.PIN == "" {
		return &core.AuthError{Broker: p.Name(), Reason: "client id and pin are required"}
	}
	p.loggedIn = true
	return nil
}

func (p *Paper) Logout(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggedIn = false
	return nil
}

func (p *Paper) IsLoggedIn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loggedIn
}

func (p *Paper) requireLogin(op string) error {
	if !p.loggedIn {
		return &core.BrokerError{Op: op, Code: "NOT_AUTHENTICATED", Err: core.ErrNoBroker}
	}
	return nil
}

func (p *Paper) GetProfile(ctx context.Context) (*Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLogin("get_profile"); err != nil {
		return nil, err
	}
	return &Profile{Name: "Paper Trader", ClientID: "PAPER001", Email: "paper@example.com"}, nil
}

func (p *Paper) GetFunds(ctx context.Context) (*Funds, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLogin("get_funds"); err != nil {
		return nil, err
	}
	return &Funds{AvailableCash: p.cash, AvailableMargin: p.cash}, nil
}

func (p *Paper) GetQuote(ctx context.Context, symbol string, exchange Exchange) (*Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLogin("get_quote"); err != nil {
		return nil, err
	}
	ltp, ok := p.prices[symbol]
	if !ok {
		return nil, &core.BrokerError{Op: "get_quote", Code: "UNKNOWN_SYMBOL", Err: fmt.Errorf("no such symbol: %s", symbol)}
	}
	prevClose := ltp.Mul(decimal.NewFromFloat(0.995)).Round(2)
	change := ltp.Sub(prevClose)
	return &Quote{
		Symbol:        symbol,
		Exchange:      exchange,
		LTP:           ltp,
		Open:          prevClose,
		High:          ltp.Mul(decimal.NewFromFloat(1.01)).Round(2),
		Low:           prevClose.Mul(decimal.NewFromFloat(0.99)).Round(2),
		Close:         prevClose,
		Change:        change,
		ChangePercent: change.Div(prevClose).Mul(decimal.NewFromInt(100)).Round(2),
		Volume:        250000,
		Timestamp:     time.Now(),
	}, nil
}

// GetMarketDepth synthesizes an order book around the simulated price:
// five bid levels just below it and five ask levels just above.
func (p *Paper) GetMarketDepth(ctx context.Context, symbol string, exchange Exchange) (*MarketDepth, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLogin("get_market_depth"); err != nil {
		return nil, err
	}
	ltp, ok := p.prices[symbol]
	if !ok {
		return nil, &core.BrokerError{Op: "get_market_depth", Code: "UNKNOWN_SYMBOL", Err: fmt.Errorf("no such symbol: %s", symbol)}
	}

	tick := decimal.NewFromFloat(0.05)
	depth := &MarketDepth{
		Symbol:       symbol,
		Exchange:     exchange,
		LTP:          ltp,
		UpperCircuit: ltp.Mul(decimal.NewFromFloat(1.1)).Round(2),
		LowerCircuit: ltp.Mul(decimal.NewFromFloat(0.9)).Round(2),
	}
	for i := int64(1); i <= 5; i++ {
		step := tick.Mul(decimal.NewFromInt(i))
		qty := int64(600) - i*100
		depth.Buy = append(depth.Buy, DepthLevel{Price: ltp.Sub(step), Quantity: qty, Orders: 3})
		depth.Sell = append(depth.Sell, DepthLevel{Price: ltp.Add(step), Quantity: qty, Orders: 3})
		depth.TotalBuyQuantity += qty
		depth.TotalSellQuantity += qty
	}
	return depth, nil
}

func (p *Paper) GetHoldings(ctx context.Context) ([]Holding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLogin("get_holdings"); err != nil {
		return nil, err
	}
	return append([]Holding(nil), p.holdings...), nil
}

func (p *Paper) GetPositions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLogin("get_positions"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *Paper) GetOrders(ctx context.Context) ([]Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLogin("get_orders"); err != nil {
		return nil, err
	}
	return append([]Order(nil), p.orders...), nil
}

// PlaceOrder fills the order immediately at the limit price, or at the
// current simulated price for market orders.
func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLogin("place_order"); err != nil {
		return nil, err
	}
	price := req.Price
	if req.OrderType == OrderTypeMarket || price.IsZero() {
		ltp, ok := p.prices[req.Symbol]
		if !ok {
			return nil, &core.BrokerError{Op: "place_order", Code: "UNKNOWN_SYMBOL", Err: fmt.Errorf("no such symbol: %s", req.Symbol)}
		}
		price = ltp
	}
	cost := price.Mul(decimal.NewFromInt(int64(req.Quantity)))
	if req.Action == core.ActionBuy {
		if cost.GreaterThan(p.cash) {
			return nil, &core.BrokerError{Op: "place_order", Code: "INSUFFICIENT_FUNDS", Err: fmt.Errorf("need %s, have %s", cost, p.cash)}
		}
		p.cash = p.cash.Sub(cost)
		p.addHolding(req.Symbol, req.Exchange, req.Quantity, price)
	} else {
		p.cash = p.cash.Add(cost)
	}

	order := Order{
		OrderID:   uuid.New().String(),
		Symbol:    req.Symbol,
		Exchange:  req.Exchange,
		Action:    req.Action,
		OrderType: req.OrderType,
		Quantity:  req.Quantity,
		Price:     price,
		Status:    "complete",
		PlacedAt:  time.Now(),
	}
	p.orders = append(p.orders, order)
	return &OrderResult{OrderID: order.OrderID, Status: order.Status}, nil
}

func (p *Paper) addHolding(symbol string, exchange Exchange, qty int, price decimal.Decimal) {
	for i := range p.holdings {
		if p.holdings[i].Symbol == symbol {
			p.holdings[i].Quantity += qty
			return
		}
	}
	p.holdings = append(p.holdings, Holding{
		Symbol:       symbol,
		Exchange:     exchange,
		Quantity:     qty,
		AveragePrice: price,
		CurrentPrice: price,
	})
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLogin("cancel_order"); err != nil {
		return err
	}
	for i := range p.orders {
		if p.orders[i].OrderID == orderID {
			p.orders[i].Status = "cancelled"
			return nil
		}
	}
	return &core.BrokerError{Op: "cancel_order", Code: "NOT_FOUND", Err: fmt.Errorf("order %s not found", orderID)}
}

func (p *Paper) CancelAllOrders(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLogin("cancel_all_orders"); err != nil {
		return 0, err
	}
	cancelled := 0
	for i := range p.orders {
		if PendingOrderStatuses[p.orders[i].Status] {
			p.orders[i].Status = "cancelled"
			cancelled++
		}
	}
	return cancelled, nil
}

func (p *Paper) GetTopMovers(ctx context.Context, kind MoverKind) ([]Mover, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireLogin("get_top_movers"); err != nil {
		return nil, err
	}
	movers := []Mover{
		{Symbol: "RELIANCE", LTP: p.prices["RELIANCE"], ChangePercent: decimal.NewFromFloat(2.4)},
		{Symbol: "TCS", LTP: p.prices["TCS"], ChangePercent: decimal.NewFromFloat(1.8)},
		{Symbol: "ITC", LTP: p.prices["ITC"], ChangePercent: decimal.NewFromFloat(1.1)},
	}
	if kind == MoversLosers {
		for i := range movers {
			movers[i].ChangePercent = movers[i].ChangePercent.Neg()
		}
	}
	return movers, nil
}

// SetPrice overrides a simulated price. Intended for tests.
func (p *Paper) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}
