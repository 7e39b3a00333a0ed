package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/brokerbot/core"
)

func loggedInPaper(t *testing.T) *Paper {
	t.Helper()
	p := NewPaper()
	require.NoError(t, p.Login(context.Background(), Credentials{ClientID: "PAPER001", PIN: "0000"}))
	return p
}

func TestPaperLoginRequiresCredentials(t *testing.T) {
	p := NewPaper()
	err := p.Login(context.Background(), Credentials{})
	var authErr *core.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.False(t, p.IsLoggedIn())
}

func TestPaperRequiresLoginForCalls(t *testing.T) {
	p := NewPaper()
	_, err := p.GetFunds(context.Background())
	var brokerErr *core.BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, "NOT_AUTHENTICATED", brokerErr.Code)
}

func TestPaperBuyUpdatesCashAndHoldings(t *testing.T) {
	p := loggedInPaper(t)
	ctx := context.Background()

	result, err := p.PlaceOrder(ctx, OrderRequest{
		Symbol:    "ITC",
		Exchange:  ExchangeNSE,
		Action:    core.ActionBuy,
		OrderType: OrderTypeMarket,
		Quantity:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, "complete", result.Status)

	funds, err := p.GetFunds(ctx)
	require.NoError(t, err)
	want := decimal.NewFromInt(100000).Sub(decimal.NewFromFloat(418.70).Mul(decimal.NewFromInt(10)))
	assert.True(t, funds.AvailableCash.Equal(want), "cash %s, want %s", funds.AvailableCash, want)

	holdings, err := p.GetHoldings(ctx)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "ITC", holdings[0].Symbol)
	assert.Equal(t, 10, holdings[0].Quantity)
}

func TestPaperRejectsOverspend(t *testing.T) {
	p := loggedInPaper(t)
	_, err := p.PlaceOrder(context.Background(), OrderRequest{
		Symbol:    "TCS",
		Action:    core.ActionBuy,
		OrderType: OrderTypeMarket,
		Quantity:  1000,
	})
	var brokerErr *core.BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, "INSUFFICIENT_FUNDS", brokerErr.Code)
}

func TestPaperUnknownSymbol(t *testing.T) {
	p := loggedInPaper(t)
	_, err := p.GetQuote(context.Background(), "UNLISTED", ExchangeNSE)
	var brokerErr *core.BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, "UNKNOWN_SYMBOL", brokerErr.Code)
}

func TestPaperMarketDepthStraddlesPrice(t *testing.T) {
	p := loggedInPaper(t)
	depth, err := p.GetMarketDepth(context.Background(), "RELIANCE", ExchangeNSE)
	require.NoError(t, err)

	require.NotEmpty(t, depth.Buy)
	require.NotEmpty(t, depth.Sell)
	for _, l := range depth.Buy {
		assert.True(t, l.Price.LessThan(depth.LTP), "bid %s below LTP %s", l.Price, depth.LTP)
	}
	for _, l := range depth.Sell {
		assert.True(t, l.Price.GreaterThan(depth.LTP), "ask %s above LTP %s", l.Price, depth.LTP)
	}
	assert.True(t, depth.LowerCircuit.LessThan(depth.LTP))
	assert.True(t, depth.UpperCircuit.GreaterThan(depth.LTP))

	_, err = p.GetMarketDepth(context.Background(), "UNLISTED", ExchangeNSE)
	var brokerErr *core.BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, "UNKNOWN_SYMBOL", brokerErr.Code)
}

func TestRegistryCreatesFreshInstances(t *testing.T) {
	r := NewRegistry()
	r.Register("paper", func() Broker { return NewPaper() })

	a, err := r.Create("paper")
	require.NoError(t, err)
	b, err := r.Create("paper")
	require.NoError(t, err)
	assert.NotSame(t, a, b, "each user gets their own handle")

	_, err = r.Create("nope")
	assert.Error(t, err)
}

func TestQuoteCacheServesRepeatReads(t *testing.T) {
	p := loggedInPaper(t)
	quotes, err := NewQuoteCache(0)
	require.NoError(t, err)
	t.Cleanup(quotes.Close)

	ctx := context.Background()
	first, err := quotes.Get(ctx, p, "RELIANCE", ExchangeNSE)
	require.NoError(t, err)

	// A price change inside the freshness window is not observed.
	p.SetPrice("RELIANCE", decimal.NewFromInt(9999))
	quotes.cache.Wait()
	second, err := quotes.Get(ctx, p, "RELIANCE", ExchangeNSE)
	require.NoError(t, err)
	assert.True(t, first.LTP.Equal(second.LTP))
}

func TestPlaceholderBrokerRefusesEverything(t *testing.T) {
	p := NewPlaceholder("zerodha")
	assert.Equal(t, "zerodha", p.Name())

	err := p.Login(context.Background(), Credentials{ClientID: "x", PIN: "y"})
	var authErr *core.AuthError
	require.ErrorAs(t, err, &authErr)

	_, err = p.GetFunds(context.Background())
	var brokerErr *core.BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, "NOT_IMPLEMENTED", brokerErr.Code)
}
