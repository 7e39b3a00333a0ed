package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/becomeliminal/brokerbot/core"
)

const defaultAngelOneBaseURL = "https://apiconnect.angelone.in"

// AngelOne is a SmartAPI client for the AngelOne brokerage. One instance
// holds one authenticated session (JWT) and is shared across a user's turns
// by the broker session manager.
type AngelOne struct {
	client *resty.Client

	mu       sync.RWMutex
	apiKey   string
	clientID string
	jwt      string
	refresh  string

	// symbol -> token cache, populated lazily via searchScrip
	tokens map[string]string
}

// AngelOneConfig configures the AngelOne client.
type AngelOneConfig struct {
	BaseURL string
	Timeout time.Duration

	// APIKey is the server-side default SmartAPI key, used when the login
	// credentials don't carry their own.
	APIKey string
}

// NewAngelOne creates an AngelOne broker client.
func NewAngelOne(cfg AngelOneConfig) *AngelOne {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAngelOneBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &AngelOne{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetHeader("X-UserType", "USER").
			SetHeader("X-SourceID", "WEB").
			SetHeader("X-ClientLocalIP", "127.0.0.1").
			SetHeader("X-ClientPublicIP", "127.0.0.1").
			SetHeader("X-MACAddress", "00:00:00:00:00:00"),
		apiKey: cfg.APIKey,
		tokens: make(map[string]string),
	}
}

func (a *AngelOne) Name() string { return "angelone" }

// envelope is the SmartAPI response wrapper.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

func (a *AngelOne) request(ctx context.Context, method, path string, body, out interface{}) error {
	var env envelope
	req := a.client.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&env)

	a.mu.RLock()
	if a.apiKey != "" {
		req.SetHeader("X-PrivateKey", a.apiKey)
	}
	if a.jwt != "" {
		req.SetHeader("Authorization", "Bearer "+a.jwt)
	}
	a.mu.RUnlock()

	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("angelone %s %s: %w", method, path, err)
	}
	if resp.IsError() || !env.Status {
		return &core.BrokerError{
			Op:   path,
			Code: env.ErrorCode,
			Err:  fmt.Errorf("HTTP %d: %s", resp.StatusCode(), env.Message),
		}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("angelone %s: decode response: %w", path, err)
		}
	}
	return nil
}

// Login authenticates via loginByPassword with the externally supplied
// TOTP code and stores the session JWT on success.
func (a *AngelOne) Login(ctx context.Context, creds Credentials) error {
	a.mu.Lock()
	if creds.APIKey != "" {
		a.apiKey = creds.APIKey
	}
	apiKey := a.apiKey
	a.clientID = creds.ClientID
	a.mu.Unlock()

	if apiKey == "" || creds.ClientID == "" || creds.PIN == "" || creds.TOTPCode == "" {
		return &core.AuthError{Broker: a.Name(), Reason: "api key, client id, pin, and totp code are required"}
	}

	var data struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
	}
	err := a.request(ctx, resty.MethodPost, "/rest/auth/angelbroking/user/v1/loginByPassword", map[string]string{
		"clientcode": creds.ClientID,
		"password":   creds.PIN,
		"totp":       creds.TOTPCode,
	}, &data)
	if err != nil {
		return &core.AuthError{Broker: a.Name(), Reason: "login rejected", Err: err}
	}
	if data.JWTToken == "" {
		return &core.AuthError{Broker: a.Name(), Reason: "login response missing session token"}
	}

	a.mu.Lock()
	a.jwt = data.JWTToken
	a.refresh = data.RefreshToken
	a.mu.Unlock()
	return nil
}

func (a *AngelOne) Logout(ctx context.Context) error {
	a.mu.RLock()
	clientID := a.clientID
	a.mu.RUnlock()

	err := a.request(ctx, resty.MethodPost, "/rest/secure/angelbroking/user/v1/logout", map[string]string{
		"clientcode": clientID,
	}, nil)

	a.mu.Lock()
	a.jwt = ""
	a.refresh = ""
	a.mu.Unlock()
	return err
}

func (a *AngelOne) IsLoggedIn() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.jwt != ""
}

func (a *AngelOne) GetProfile(ctx context.Context) (*Profile, error) {
	var data struct {
		Name       string `json:"name"`
		ClientCode string `json:"clientcode"`
		Email      string `json:"email"`
	}
	if err := a.request(ctx, resty.MethodGet, "/rest/secure/angelbroking/user/v1/getProfile", nil, &data); err != nil {
		return nil, err
	}
	return &Profile{Name: data.Name, ClientID: data.ClientCode, Email: data.Email}, nil
}

func (a *AngelOne) GetFunds(ctx context.Context) (*Funds, error) {
	var data struct {
		AvailableCash   string `json:"availablecash"`
		Net             string `json:"net"`
		UtilisedPayout  string `json:"utilisedpayout"`
		UtilisedDebits  string `json:"utiliseddebits"`
		AvailableMargin string `json:"availablelimitmargin"`
	}
	if err := a.request(ctx, resty.MethodGet, "/rest/secure/angelbroking/user/v1/getRMS", nil, &data); err != nil {
		return nil, err
	}
	return &Funds{
		AvailableCash:   parseDecimal(data.AvailableCash),
		AvailableMargin: parseDecimal(data.AvailableMargin),
		UtilisedMargin:  parseDecimal(data.UtilisedDebits),
	}, nil
}

// symbolToken resolves a trading symbol to its instrument token, caching
// results for the lifetime of the handle.
func (a *AngelOne) symbolToken(ctx context.Context, symbol string, exchange Exchange) (string, error) {
	key := string(exchange) + ":" + symbol
	a.mu.RLock()
	token, ok := a.tokens[key]
	a.mu.RUnlock()
	if ok {
		return token, nil
	}

	var data []struct {
		TradingSymbol string `json:"tradingsymbol"`
		SymbolToken   string `json:"symboltoken"`
	}
	err := a.request(ctx, resty.MethodPost, "/rest/secure/angelbroking/order/v1/searchScrip", map[string]string{
		"exchange":    string(exchange),
		"searchscrip": symbol,
	}, &data)
	if err != nil {
		return "", err
	}
	// Equity symbols come back suffixed with -EQ; prefer the exact equity match.
	for _, scrip := range data {
		if scrip.TradingSymbol == symbol || scrip.TradingSymbol == symbol+"-EQ" {
			token = scrip.SymbolToken
			break
		}
	}
	if token == "" && len(data) > 0 {
		token = data[0].SymbolToken
	}
	if token == "" {
		return "", &core.BrokerError{Op: "search_scrip", Code: "UNKNOWN_SYMBOL", Err: fmt.Errorf("no instrument found for %s on %s", symbol, exchange)}
	}

	a.mu.Lock()
	a.tokens[key] = token
	a.mu.Unlock()
	return token, nil
}

func (a *AngelOne) GetQuote(ctx context.Context, symbol string, exchange Exchange) (*Quote, error) {
	token, err := a.symbolToken(ctx, symbol, exchange)
	if err != nil {
		return nil, err
	}
	var data struct {
		LTP   json.Number `json:"ltp"`
		Open  json.Number `json:"open"`
		High  json.Number `json:"high"`
		Low   json.Number `json:"low"`
		Close json.Number `json:"close"`
	}
	err = a.request(ctx, resty.MethodPost, "/rest/secure/angelbroking/order/v1/getLtpData", map[string]string{
		"exchange":      string(exchange),
		"tradingsymbol": symbol,
		"symboltoken":   token,
	}, &data)
	if err != nil {
		return nil, err
	}

	ltp := parseDecimal(data.LTP.String())
	prevClose := parseDecimal(data.Close.String())
	change := ltp.Sub(prevClose)
	changePct := decimal.Zero
	if !prevClose.IsZero() {
		changePct = change.Div(prevClose).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return &Quote{
		Symbol:        symbol,
		Exchange:      exchange,
		LTP:           ltp,
		Open:          parseDecimal(data.Open.String()),
		High:          parseDecimal(data.High.String()),
		Low:           parseDecimal(data.Low.String()),
		Close:         prevClose,
		Change:        change,
		ChangePercent: changePct,
		Timestamp:     time.Now(),
	}, nil
}

// GetMarketDepth fetches the order book via the full-mode quote endpoint.
func (a *AngelOne) GetMarketDepth(ctx context.Context, symbol string, exchange Exchange) (*MarketDepth, error) {
	token, err := a.symbolToken(ctx, symbol, exchange)
	if err != nil {
		return nil, err
	}

	type level struct {
		Price    json.Number `json:"price"`
		Quantity int64       `json:"quantity"`
		Orders   int         `json:"orders"`
	}
	var data struct {
		Fetched []struct {
			TradingSymbol string      `json:"tradingSymbol"`
			Exchange      string      `json:"exchange"`
			LTP           json.Number `json:"ltp"`
			TotBuyQuan    int64       `json:"totBuyQuan"`
			TotSellQuan   int64       `json:"totSellQuan"`
			UpperCircuit  json.Number `json:"upperCircuit"`
			LowerCircuit  json.Number `json:"lowerCircuit"`
			Depth         struct {
				Buy  []level `json:"buy"`
				Sell []level `json:"sell"`
			} `json:"depth"`
		} `json:"fetched"`
	}
	err = a.request(ctx, resty.MethodPost, "/rest/secure/angelbroking/market/v1/quote/", map[string]interface{}{
		"mode": "FULL",
		"exchangeTokens": map[string][]string{
			string(exchange): {token},
		},
	}, &data)
	if err != nil {
		return nil, err
	}
	if len(data.Fetched) == 0 {
		return nil, &core.BrokerError{Op: "get_market_depth", Code: "NO_DATA", Err: fmt.Errorf("no market depth for %s on %s", symbol, exchange)}
	}

	book := data.Fetched[0]
	depth := &MarketDepth{
		Symbol:            symbol,
		Exchange:          exchange,
		LTP:               parseDecimal(book.LTP.String()),
		TotalBuyQuantity:  book.TotBuyQuan,
		TotalSellQuantity: book.TotSellQuan,
		UpperCircuit:      parseDecimal(book.UpperCircuit.String()),
		LowerCircuit:      parseDecimal(book.LowerCircuit.String()),
	}
	for _, l := range book.Depth.Buy {
		depth.Buy = append(depth.Buy, DepthLevel{Price: parseDecimal(l.Price.String()), Quantity: l.Quantity, Orders: l.Orders})
	}
	for _, l := range book.Depth.Sell {
		depth.Sell = append(depth.Sell, DepthLevel{Price: parseDecimal(l.Price.String()), Quantity: l.Quantity, Orders: l.Orders})
	}
	return depth, nil
}

func (a *AngelOne) GetHoldings(ctx context.Context) ([]Holding, error) {
	var data struct {
		Holdings []struct {
			TradingSymbol string      `json:"tradingsymbol"`
			Exchange      string      `json:"exchange"`
			Quantity      int         `json:"quantity"`
			AveragePrice  json.Number `json:"averageprice"`
			LTP           json.Number `json:"ltp"`
			ProfitAndLoss json.Number `json:"profitandloss"`
		} `json:"holdings"`
	}
	if err := a.request(ctx, resty.MethodGet, "/rest/secure/angelbroking/portfolio/v1/getAllHolding", nil, &data); err != nil {
		return nil, err
	}
	holdings := make([]Holding, 0, len(data.Holdings))
	for _, h := range data.Holdings {
		holdings = append(holdings, Holding{
			Symbol:       h.TradingSymbol,
			Exchange:     Exchange(h.Exchange),
			Quantity:     h.Quantity,
			AveragePrice: parseDecimal(h.AveragePrice.String()),
			CurrentPrice: parseDecimal(h.LTP.String()),
			PnL:          parseDecimal(h.ProfitAndLoss.String()),
		})
	}
	return holdings, nil
}

func (a *AngelOne) GetPositions(ctx context.Context) ([]Position, error) {
	var data []struct {
		TradingSymbol string      `json:"tradingsymbol"`
		Exchange      string      `json:"exchange"`
		NetQty        json.Number `json:"netqty"`
		AvgNetPrice   json.Number `json:"avgnetprice"`
		LTP           json.Number `json:"ltp"`
		PnL           json.Number `json:"pnl"`
		ProductType   string      `json:"producttype"`
	}
	if err := a.request(ctx, resty.MethodGet, "/rest/secure/angelbroking/order/v1/getPosition", nil, &data); err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(data))
	for _, p := range data {
		qty, _ := strconv.Atoi(p.NetQty.String())
		if qty == 0 {
			continue
		}
		positions = append(positions, Position{
			Symbol:       p.TradingSymbol,
			Exchange:     Exchange(p.Exchange),
			Quantity:     qty,
			AveragePrice: parseDecimal(p.AvgNetPrice.String()),
			CurrentPrice: parseDecimal(p.LTP.String()),
			PnL:          parseDecimal(p.PnL.String()),
			ProductType:  ProductType(p.ProductType),
		})
	}
	return positions, nil
}

func (a *AngelOne) GetOrders(ctx context.Context) ([]Order, error) {
	var data []struct {
		OrderID         string      `json:"orderid"`
		TradingSymbol   string      `json:"tradingsymbol"`
		Exchange        string      `json:"exchange"`
		TransactionType string      `json:"transactiontype"`
		OrderType       string      `json:"ordertype"`
		Quantity        json.Number `json:"quantity"`
		Price           json.Number `json:"price"`
		Status          string      `json:"status"`
	}
	if err := a.request(ctx, resty.MethodGet, "/rest/secure/angelbroking/order/v1/getOrderBook", nil, &data); err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(data))
	for _, o := range data {
		qty, _ := strconv.Atoi(o.Quantity.String())
		orders = append(orders, Order{
			OrderID:   o.OrderID,
			Symbol:    o.TradingSymbol,
			Exchange:  Exchange(o.Exchange),
			Action:    core.TradeAction(o.TransactionType),
			OrderType: OrderType(o.OrderType),
			Quantity:  qty,
			Price:     parseDecimal(o.Price.String()),
			Status:    o.Status,
		})
	}
	return orders, nil
}

func (a *AngelOne) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	token, err := a.symbolToken(ctx, req.Symbol, req.Exchange)
	if err != nil {
		return nil, err
	}
	body := map[string]string{
		"variety":         "NORMAL",
		"tradingsymbol":   req.Symbol + "-EQ",
		"symboltoken":     token,
		"transactiontype": string(req.Action),
		"exchange":        string(req.Exchange),
		"ordertype":       string(req.OrderType),
		"producttype":     string(req.ProductType),
		"duration":        "DAY",
		"quantity":        strconv.Itoa(req.Quantity),
	}
	if req.OrderType == OrderTypeLimit {
		body["price"] = req.Price.String()
	} else {
		body["price"] = "0"
	}

	var data struct {
		OrderID string `json:"orderid"`
	}
	if err := a.request(ctx, resty.MethodPost, "/rest/secure/angelbroking/order/v1/placeOrder", body, &data); err != nil {
		return nil, err
	}
	return &OrderResult{OrderID: data.OrderID, Status: "placed"}, nil
}

func (a *AngelOne) CancelOrder(ctx context.Context, orderID string) error {
	return a.request(ctx, resty.MethodPost, "/rest/secure/angelbroking/order/v1/cancelOrder", map[string]string{
		"variety": "NORMAL",
		"orderid": orderID,
	}, nil)
}

// CancelAllOrders cancels every order the book reports as pending and
// returns the number cancelled. Individual failures do not stop the sweep.
func (a *AngelOne) CancelAllOrders(ctx context.Context) (int, error) {
	orders, err := a.GetOrders(ctx)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, order := range orders {
		if !PendingOrderStatuses[order.Status] {
			continue
		}
		if err := a.CancelOrder(ctx, order.OrderID); err == nil {
			cancelled++
		}
	}
	return cancelled, nil
}

func (a *AngelOne) GetTopMovers(ctx context.Context, kind MoverKind) ([]Mover, error) {
	dataType := "PercPriceGainers"
	if kind == MoversLosers {
		dataType = "PercPriceLosers"
	}
	var data []struct {
		TradingSymbol string      `json:"tradingSymbol"`
		LTP           json.Number `json:"ltp"`
		PercentChange json.Number `json:"percentChange"`
	}
	err := a.request(ctx, resty.MethodPost, "/rest/secure/angelbroking/marketData/v1/gainersLosers", map[string]string{
		"datatype":   dataType,
		"expirytype": "NEAR",
	}, &data)
	if err != nil {
		return nil, err
	}
	movers := make([]Mover, 0, len(data))
	for _, m := range data {
		movers = append(movers, Mover{
			Symbol:        m.TradingSymbol,
			LTP:           parseDecimal(m.LTP.String()),
			ChangePercent: parseDecimal(m.PercentChange.String()),
		})
	}
	return movers, nil
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
