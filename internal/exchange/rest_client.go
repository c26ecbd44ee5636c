package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"scalping-bot-go/internal/config"
	"scalping-bot-go/internal/money"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	recvWindow     = "5000" // How long a signed request is valid in milliseconds
	maxReadRetries = 3
)

// RestClient talks to the Binance spot REST API. It implements Client.
//
// Reads are retried on transient failures. Writes are never blindly resent:
// a failed PlaceOrder/CancelOrder is first confirmed against the exchange,
// and an unconfirmable outcome surfaces as AmbiguousWriteError.
type RestClient struct {
	client     *resty.Client
	apiKey     string
	secretKey  string
	logger     *zap.Logger
	limiter    *rate.Limiter
	classifier Classifier

	// marketLocks serializes order writes against open-order reads for each
	// market, so a caller never sees a stale open-orders view racing a
	// just-submitted order.
	mu          sync.Mutex
	marketLocks map[string]*sync.Mutex
}

// ensure RestClient implements the interface
var _ Client = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Exchange, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().
		SetBaseURL(url).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:      client,
		apiKey:      cfg.ApiKey,
		secretKey:   cfg.SecretKey,
		logger:      logger,
		limiter:     limiter,
		classifier:  NewClassifier(cfg.NonFatalStatusCodes, cfg.NonFatalMessages),
		marketLocks: make(map[string]*sync.Mutex),
	}
}

func (c *RestClient) marketLock(marketID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.marketLocks[marketID]
	if !ok {
		l = &sync.Mutex{}
		c.marketLocks[marketID] = l
	}
	return l
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedRequest builds a request carrying timestamp, recvWindow and the
// signature over the canonical query string, plus the API key header.
func (c *RestClient) signedRequest(ctx context.Context, method string, params url.Values, result any) *resty.Request {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	query := params.Encode()
	query = query + "&signature=" + c.sign(query)

	req := c.client.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetResult(result)

	if method == http.MethodPost {
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded").SetBody(query)
	} else {
		req.SetQueryString(query)
	}
	return req
}

func (c *RestClient) publicRequest(ctx context.Context, result any) *resty.Request {
	return c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetResult(result)
}

// doRequest executes a request with rate limiting and, for idempotent calls,
// a bounded retry with exponential backoff on transient classification.
// Non-idempotent calls get exactly one network attempt; ambiguity handling
// is the caller's job.
func (c *RestClient) doRequest(ctx context.Context, op, method, path string, req *resty.Request, idempotent bool) (*resty.Response, error) {
	attempts := 1
	if idempotent {
		attempts = maxReadRetries
	}

	var lastErr *Error
	for i := 0; i < attempts; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindTransient, Op: op, Message: "rate limiter wait failed", Err: err}
		}

		c.logger.Debug("Executing request", zap.String("op", op), zap.String("method", method), zap.String("path", path))
		resp, err := req.Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		if err != nil {
			lastErr = c.classifyTransport(op, err)
		} else {
			lastErr = &Error{
				Kind:       c.classifier.Classify(resp.StatusCode(), resp.String()),
				Op:         op,
				StatusCode: resp.StatusCode(),
				Message:    resp.String(),
			}
		}

		if lastErr.Kind != KindTransient || i == attempts-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s. The exchange's Retry-After wins
		// when present.
		retryAfter := time.Duration(math.Pow(2, float64(i))) * time.Second
		if resp != nil {
			if seconds, aerr := strconv.Atoi(resp.Header().Get("Retry-After")); aerr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}

		c.logger.Warn("Transient request failure, retrying...",
			zap.String("op", op),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, &Error{Kind: KindTransient, Op: op, Message: "request cancelled", Err: ctx.Err()}
		}
	}

	return nil, lastErr
}

func (c *RestClient) classifyTransport(op string, err error) *Error {
	kind := c.classifier.Classify(0, err.Error())
	// Timeouts are retry-eligible regardless of the configured allow-lists.
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

// tickerPrice represents the response for a single ticker price.
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetLatestPrice fetches the last traded price for a market.
func (c *RestClient) GetLatestPrice(ctx context.Context, marketID string) (money.Money, error) {
	var ticker tickerPrice
	req := c.publicRequest(ctx, &ticker).SetQueryParam("symbol", marketID)

	if _, err := c.doRequest(ctx, "GetLatestPrice", http.MethodGet, "/ticker/price", req, true); err != nil {
		return money.Money{}, err
	}

	price, err := money.FromString(ticker.Price)
	if err != nil {
		return money.Money{}, &Error{Kind: KindFatal, Op: "GetLatestPrice", Message: fmt.Sprintf("unparseable price %q", ticker.Price), Err: err}
	}
	return price, nil
}

// depthResponse represents the /depth endpoint payload. Levels arrive as
// [price, quantity] string pairs, best price first on both sides.
type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// GetOrderBook fetches the order book for a market, best price first. An
// empty side yields ErrInsufficientMarketData.
func (c *RestClient) GetOrderBook(ctx context.Context, marketID string) (*OrderBook, error) {
	var depth depthResponse
	req := c.publicRequest(ctx, &depth).SetQueryParams(map[string]string{
		"symbol": marketID,
		"limit":  "100",
	})

	if _, err := c.doRequest(ctx, "GetOrderBook", http.MethodGet, "/depth", req, true); err != nil {
		return nil, err
	}

	bids, err := parseBookLevels(depth.Bids)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Op: "GetOrderBook", Message: "malformed bid levels", Err: err}
	}
	asks, err := parseBookLevels(depth.Asks)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Op: "GetOrderBook", Message: "malformed ask levels", Err: err}
	}

	if len(bids) == 0 || len(asks) == 0 {
		return nil, fmt.Errorf("GetOrderBook %s: %w", marketID, ErrInsufficientMarketData)
	}

	return &OrderBook{MarketID: marketID, Bids: bids, Asks: asks}, nil
}

func parseBookLevels(raw [][]string) ([]BookLevel, error) {
	levels := make([]BookLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("book level %v has fewer than two fields", entry)
		}
		price, err := money.FromString(entry[0])
		if err != nil {
			return nil, err
		}
		quantity, err := money.FromString(entry[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, BookLevel{Price: price, Quantity: quantity})
	}
	return levels, nil
}

// openOrderResponse represents one resting order from /openOrders.
type openOrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	Side          string `json:"side"`
}

// GetOpenOrders fetches the caller's resting orders for a market.
func (c *RestClient) GetOpenOrders(ctx context.Context, marketID string) ([]OpenOrder, error) {
	lock := c.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()
	return c.openOrdersLocked(ctx, marketID)
}

func (c *RestClient) openOrdersLocked(ctx context.Context, marketID string) ([]OpenOrder, error) {
	var raw []openOrderResponse
	params := url.Values{}
	params.Set("symbol", marketID)
	req := c.signedRequest(ctx, http.MethodGet, params, &raw)

	if _, err := c.doRequest(ctx, "GetOpenOrders", http.MethodGet, "/openOrders", req, true); err != nil {
		return nil, err
	}

	orders := make([]OpenOrder, 0, len(raw))
	for _, o := range raw {
		price, err := money.FromString(o.Price)
		if err != nil {
			return nil, &Error{Kind: KindFatal, Op: "GetOpenOrders", Message: fmt.Sprintf("unparseable price %q", o.Price), Err: err}
		}
		quantity, err := money.FromString(o.OrigQty)
		if err != nil {
			return nil, &Error{Kind: KindFatal, Op: "GetOpenOrders", Message: fmt.Sprintf("unparseable quantity %q", o.OrigQty), Err: err}
		}
		orders = append(orders, OpenOrder{
			ID:       OrderID(strconv.FormatInt(o.OrderID, 10)),
			MarketID: o.Symbol,
			Side:     Side(o.Side),
			Price:    price,
			Quantity: quantity,
		})
	}
	return orders, nil
}

// orderAck represents the response from placing or querying an order.
type orderAck struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
}

// PlaceOrder submits a limit order and returns the exchange's order ID.
//
// Each order carries a generated client order ID. When the transport fails
// in a way that may still have reached the exchange, the order is looked up
// by that ID first: found means the original attempt took effect, confirmed
// absent permits one resend, and a failed lookup surfaces as
// AmbiguousWriteError rather than risking a duplicate order.
func (c *RestClient) PlaceOrder(ctx context.Context, marketID string, side Side, quantity, price money.Money) (OrderID, error) {
	lock := c.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	clientOrderID := newClientOrderID()
	l := c.logger.With(
		zap.String("market", marketID),
		zap.String("side", string(side)),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()),
		zap.String("client_order_id", clientOrderID),
	)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		var ack orderAck
		params := url.Values{}
		params.Set("symbol", marketID)
		params.Set("side", string(side))
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("quantity", quantity.String())
		params.Set("price", price.String())
		params.Set("newClientOrderId", clientOrderID)

		req := c.signedRequest(ctx, http.MethodPost, params, &ack)
		_, err := c.doRequest(ctx, "PlaceOrder", http.MethodPost, "/order", req, false)
		if err == nil {
			l.Info("Order placed successfully", zap.Int64("order_id", ack.OrderID))
			return OrderID(strconv.FormatInt(ack.OrderID, 10)), nil
		}
		lastErr = err

		// A definite rejection carries no ambiguity: the exchange saw the
		// request and refused it.
		var xerr *Error
		if errors.As(err, &xerr) && xerr.StatusCode != 0 && xerr.Kind == KindFatal {
			return "", err
		}

		// The request may have been transmitted. Confirm whether the order
		// landed before considering a resend.
		id, found, lookupErr := c.findOrderByClientID(ctx, marketID, clientOrderID)
		if lookupErr != nil {
			return "", &AmbiguousWriteError{Op: "PlaceOrder", MarketID: marketID, Err: err}
		}
		if found {
			l.Warn("Order reached the exchange despite a failed response", zap.String("order_id", string(id)))
			return id, nil
		}
		if !IsTransient(err) {
			return "", err
		}
		l.Warn("Order confirmed absent after transient failure, resending", zap.Error(err))
	}
	return "", lastErr
}

// findOrderByClientID looks an order up by its client order ID, covering
// orders that filled immediately and no longer rest on the book.
func (c *RestClient) findOrderByClientID(ctx context.Context, marketID, clientOrderID string) (OrderID, bool, error) {
	var ack orderAck
	params := url.Values{}
	params.Set("symbol", marketID)
	params.Set("origClientOrderId", clientOrderID)
	req := c.signedRequest(ctx, http.MethodGet, params, &ack)

	if _, err := c.doRequest(ctx, "QueryOrder", http.MethodGet, "/order", req, true); err != nil {
		var xerr *Error
		if errors.As(err, &xerr) && strings.Contains(xerr.Message, "Order does not exist") {
			return "", false, nil
		}
		return "", false, err
	}
	return OrderID(strconv.FormatInt(ack.OrderID, 10)), true, nil
}

// CancelOrder revokes a resting order. It returns true when the cancel took
// effect, and false with a nil error when the order was verifiably already
// gone.
func (c *RestClient) CancelOrder(ctx context.Context, orderID OrderID, marketID string) (bool, error) {
	lock := c.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	var ack orderAck
	params := url.Values{}
	params.Set("symbol", marketID)
	params.Set("orderId", string(orderID))
	req := c.signedRequest(ctx, http.MethodDelete, params, &ack)

	_, err := c.doRequest(ctx, "CancelOrder", http.MethodDelete, "/order", req, false)
	if err == nil {
		c.logger.Info("Order cancelled", zap.String("market", marketID), zap.String("order_id", string(orderID)))
		return true, nil
	}

	var xerr *Error
	if errors.As(err, &xerr) && strings.Contains(xerr.Message, "Unknown order") {
		// Already gone: filled or previously cancelled. Nothing was revoked.
		return false, nil
	}
	if errors.As(err, &xerr) && xerr.StatusCode != 0 && xerr.Kind == KindFatal {
		return false, err
	}

	// Transport failed mid-flight: check whether the order still rests.
	open, lookupErr := c.openOrdersLocked(ctx, marketID)
	if lookupErr != nil {
		return false, &AmbiguousWriteError{Op: "CancelOrder", MarketID: marketID, Err: err}
	}
	for _, o := range open {
		if o.ID == orderID {
			// Still on the book, so the cancel definitely did not apply.
			return false, err
		}
	}
	// Gone from the book, but we cannot tell a cancel from a fill.
	return false, &AmbiguousWriteError{Op: "CancelOrder", MarketID: marketID, Err: err}
}

// accountResponse represents the /account endpoint payload.
type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetBalances fetches the available and on-hold balance of every currency.
func (c *RestClient) GetBalances(ctx context.Context) (map[string]Balance, error) {
	var account accountResponse
	req := c.signedRequest(ctx, http.MethodGet, url.Values{}, &account)

	if _, err := c.doRequest(ctx, "GetBalances", http.MethodGet, "/account", req, true); err != nil {
		return nil, err
	}

	balances := make(map[string]Balance, len(account.Balances))
	for _, b := range account.Balances {
		available, err := money.FromString(b.Free)
		if err != nil {
			return nil, &Error{Kind: KindFatal, Op: "GetBalances", Message: fmt.Sprintf("unparseable balance %q for %s", b.Free, b.Asset), Err: err}
		}
		onHold, err := money.FromString(b.Locked)
		if err != nil {
			return nil, &Error{Kind: KindFatal, Op: "GetBalances", Message: fmt.Sprintf("unparseable hold %q for %s", b.Locked, b.Asset), Err: err}
		}
		balances[b.Asset] = Balance{Available: available, OnHold: onHold}
	}
	return balances, nil
}

func newClientOrderID() string {
	return fmt.Sprintf("sb-%d", time.Now().UnixNano())
}
