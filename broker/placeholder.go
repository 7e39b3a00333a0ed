package broker

import (
	"context"
	"fmt"

	"github.com/becomeliminal/brokerbot/core"
)

// Placeholder is a stub for brokers that are not yet integrated. Every call
// fails with a "coming soon" message so the selection flow can list them
// without promising functionality.
type Placeholder struct {
	name string
}

// NewPlaceholder creates a stub broker with the given name.
func NewPlaceholder(name string) *Placeholder {
	return &Placeholder{name: name}
}

func (p *Placeholder) Name() string { return p.name }

func (p *Placeholder) Login(ctx context.Context, creds Credentials) error {
	return &core.AuthError{Broker: p.name, Reason: "integration coming soon"}
}

func (p *Placeholder) Logout(ctx context.Context) error { return nil }

func (p *Placeholder) IsLoggedIn() bool { return false }

func (p *Placeholder) notImplemented(op string) error {
	return &core.BrokerError{Op: op, Code: "NOT_IMPLEMENTED", Err: fmt.Errorf("%s integration coming soon", p.name)}
}

func (p *Placeholder) GetProfile(ctx context.Context) (*Profile, error) {
	return nil, p.notImplemented("get_profile")
}

func (p *Placeholder) GetFunds(ctx context.Context) (*Funds, error) {
	return nil, p.notImplemented("get_funds")
}

func (p *Placeholder) GetQuote(ctx context.Context, symbol string, exchange Exchange) (*Quote, error) {
	return nil, p.notImplemented("get_quote")
}

func (p *Placeholder) GetMarketDepth(ctx context.Context, symbol string, exchange Exchange) (*MarketDepth, error) {
	return nil, p.notImplemented("get_market_depth")
}

func (p *Placeholder) GetHoldings(ctx context.Context) ([]Holding, error) {
	return nil, p.notImplemented("get_holdings")
}

func (p *Placeholder) GetPositions(ctx context.Context) ([]Position, error) {
	return nil, p.notImplemented("get_positions")
}

func (p *Placeholder) GetOrders(ctx context.Context) ([]Order, error) {
	return nil, p.notImplemented("get_orders")
}

func (p *Placeholder) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return nil, p.notImplemented("place_order")
}

func (p *Placeholder) CancelOrder(ctx context.Context, orderID string) error {
	return p.notImplemented("cancel_order")
}

func (p *Placeholder) CancelAllOrders(ctx context.Context) (int, error) {
	return 0, p.notImplemented("cancel_all_orders")
}

func (p *Placeholder) GetTopMovers(ctx context.Context, kind MoverKind) ([]Mover, error) {
	return nil, p.notImplemented("get_top_movers")
}
