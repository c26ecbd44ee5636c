package exchange

import (
	"context"
	"time"

	"scalping-bot-go/internal/money"
)

// Side of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderID is the exchange-assigned identifier of an accepted order. Opaque
// to the trading core.
type OrderID string

// BookLevel is one (price, quantity) entry of an order book side.
type BookLevel struct {
	Price    money.Money
	Quantity money.Money
}

// OrderBook holds both sides of a market's book, best price first.
type OrderBook struct {
	MarketID string
	Bids     []BookLevel
	Asks     []BookLevel
}

// Snapshot reduces the book to its best bid and ask. An empty side yields
// ErrInsufficientMarketData: no decision can be made this cycle.
func (b *OrderBook) Snapshot(observedAt time.Time) (PriceSnapshot, error) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return PriceSnapshot{}, ErrInsufficientMarketData
	}
	return PriceSnapshot{
		MarketID:   b.MarketID,
		Bid:        b.Bids[0].Price,
		Ask:        b.Asks[0].Price,
		ObservedAt: observedAt,
	}, nil
}

// PriceSnapshot is the best bid/ask of a market at one instant. Produced
// fresh each cycle, never mutated.
type PriceSnapshot struct {
	MarketID   string
	Bid        money.Money
	Ask        money.Money
	ObservedAt time.Time
}

// OpenOrder is a live resting order as reported by the exchange.
type OpenOrder struct {
	ID       OrderID
	MarketID string
	Side     Side
	Price    money.Money
	Quantity money.Money
}

// Balance is the available and on-hold amount of one currency.
type Balance struct {
	Available money.Money
	OnHold    money.Money
}

// Client is the capability set the trading core needs from an exchange,
// implemented once per venue. Every method returns either a value or a
// classified error (see Error, AmbiguousWriteError). Implementations own
// retries and backoff; from the caller's point of view at most one network
// attempt is in flight per logical call, and for any single market order
// writes are serialized relative to open-order reads.
type Client interface {
	GetLatestPrice(ctx context.Context, marketID string) (money.Money, error)
	GetOrderBook(ctx context.Context, marketID string) (*OrderBook, error)
	GetOpenOrders(ctx context.Context, marketID string) ([]OpenOrder, error)
	PlaceOrder(ctx context.Context, marketID string, side Side, quantity, price money.Money) (OrderID, error)
	CancelOrder(ctx context.Context, orderID OrderID, marketID string) (bool, error)
	GetBalances(ctx context.Context) (map[string]Balance, error)
}
