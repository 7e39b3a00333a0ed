// Package broker defines the brokerage backend boundary: a typed capability
// set every broker implementation satisfies, a factory registry keyed by
// broker name, and the concrete AngelOne, paper, and placeholder brokers.
package broker

import "context"

// Broker is a logged-in connection to a brokerage backend. A handle is
// created by Login and shared across a user's turns; it must not be used
// after Logout. Implementations return *core.BrokerError for failed calls
// and *core.AuthError for login failures.
type Broker interface {
	// Name returns the broker identifier, e.g. "angelone".
	Name() string

	// Login authenticates with externally supplied credentials.
	Login(ctx context.Context, creds Credentials) error

	// Logout tears down the broker session. The handle is unusable after.
	Logout(ctx context.Context) error

	// IsLoggedIn reports whether the handle considers itself authenticated.
	// This is a local check; it does not hit the network.
	IsLoggedIn() bool

	GetProfile(ctx context.Context) (*Profile, error)
	GetFunds(ctx context.Context) (*Funds, error)
	GetQuote(ctx context.Context, symbol string, exchange Exchange) (*Quote, error)
	GetMarketDepth(ctx context.Context, symbol string, exchange Exchange) (*MarketDepth, error)
	GetHoldings(ctx context.Context) ([]Holding, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOrders(ctx context.Context) ([]Order, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAllOrders(ctx context.Context) (int, error)
	GetTopMovers(ctx context.Context, kind MoverKind) ([]Mover, error)
}
