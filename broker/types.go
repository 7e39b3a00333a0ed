package broker

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/becomeliminal/brokerbot/core"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ProductType distinguishes delivery from intraday orders.
type ProductType string

const (
	ProductDelivery ProductType = "CNC"
	ProductIntraday ProductType = "MIS"
)

// Exchange is a trading venue identifier.
type Exchange string

const (
	ExchangeNSE Exchange = "NSE"
	ExchangeBSE Exchange = "BSE"
)

// Credentials are externally supplied login credentials. The TOTP code is a
// one-time value generated outside this process.
type Credentials struct {
	APIKey   string
	ClientID string
	PIN      string
	TOTPCode string
}

// Quote is a live market quote.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Exchange      Exchange        `json:"exchange"`
	LTP           decimal.Decimal `json:"ltp"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Funds summarizes the account's available cash and margin.
type Funds struct {
	AvailableCash   decimal.Decimal `json:"available_cash"`
	AvailableMargin decimal.Decimal `json:"available_margin"`
	UtilisedMargin  decimal.Decimal `json:"utilised_margin"`
}

// Holding is one delivery holding in the portfolio.
type Holding struct {
	Symbol       string          `json:"symbol"`
	Exchange     Exchange        `json:"exchange"`
	Quantity     int             `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PnL          decimal.Decimal `json:"pnl"`
}

// Position is one open intraday or derivative position.
type Position struct {
	Symbol       string          `json:"symbol"`
	Exchange     Exchange        `json:"exchange"`
	Quantity     int             `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PnL          decimal.Decimal `json:"pnl"`
	ProductType  ProductType     `json:"product_type"`
}

// Order is a broker-side order record.
type Order struct {
	OrderID   string           `json:"order_id"`
	Symbol    string           `json:"symbol"`
	Exchange  Exchange         `json:"exchange"`
	Action    core.TradeAction `json:"action"`
	OrderType OrderType        `json:"order_type"`
	Quantity  int              `json:"quantity"`
	Price     decimal.Decimal  `json:"price"`
	Status    string           `json:"status"`
	PlacedAt  time.Time        `json:"placed_at"`
}

// OrderRequest describes an order to place.
type OrderRequest struct {
	Symbol      string           `json:"symbol"`
	Exchange    Exchange         `json:"exchange"`
	Action      core.TradeAction `json:"action"`
	OrderType   OrderType        `json:"order_type"`
	ProductType ProductType      `json:"product_type"`
	Quantity    int              `json:"quantity"`
	Price       decimal.Decimal  `json:"price"` // ignored for market orders
}

// OrderResult is the outcome of placing an order.
type OrderResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// Profile is the account holder's profile.
type Profile struct {
	Name     string `json:"name"`
	ClientID string `json:"client_id"`
	Email    string `json:"email"`
}

// Mover is one entry from a top gainers/losers listing.
type Mover struct {
	Symbol        string          `json:"symbol"`
	LTP           decimal.Decimal `json:"ltp"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// DepthLevel is one price level in the order book.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

// MarketDepth is the order book snapshot for a symbol: the best buy and
// sell levels plus the aggregate quantities and circuit limits.
type MarketDepth struct {
	Symbol            string          `json:"symbol"`
	Exchange          Exchange        `json:"exchange"`
	LTP               decimal.Decimal `json:"ltp"`
	TotalBuyQuantity  int64           `json:"total_buy_quantity"`
	TotalSellQuantity int64           `json:"total_sell_quantity"`
	UpperCircuit      decimal.Decimal `json:"upper_circuit"`
	LowerCircuit      decimal.Decimal `json:"lower_circuit"`
	Buy               []DepthLevel    `json:"buy"`
	Sell              []DepthLevel    `json:"sell"`
}

// MoverKind selects gainers or losers.
type MoverKind string

const (
	MoversGainers MoverKind = "gainers"
	MoversLosers  MoverKind = "losers"
)

// PendingOrderStatuses are the broker statuses considered cancellable.
var PendingOrderStatuses = map[string]bool{
	"pending":         true,
	"open":            true,
	"trigger pending": true,
}
