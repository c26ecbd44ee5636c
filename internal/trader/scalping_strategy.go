package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"scalping-bot-go/internal/config"
	"scalping-bot-go/internal/exchange"
	"scalping-bot-go/internal/metrics"
	"scalping-bot-go/internal/models"
	"scalping-bot-go/internal/money"
)

// writeFailure marks an order write whose failure must stop all further
// trading on the market. The engine escalates it to a fatal abort instead of
// continuing after possible duplicate capital exposure.
type writeFailure struct {
	op  string
	err error
}

func (e *writeFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *writeFailure) Unwrap() error {
	return e.err
}

// ScalpingStrategy runs the entry / stop-loss / trailing-stop lifecycle for
// a single market. Each Evaluate call consumes a fresh price snapshot and
// performs at most one order action.
type ScalpingStrategy struct {
	logger  *zap.Logger
	client  exchange.Client
	db      *gorm.DB
	cfg     config.Strategy
	market  string
	dryRun  bool
	metrics *metrics.Metrics

	mu  sync.Mutex
	pos Position
}

// NewScalpingStrategy creates a strategy instance starting Flat.
func NewScalpingStrategy(logger *zap.Logger, client exchange.Client, db *gorm.DB, cfg config.Strategy, market string, dryRun bool, m *metrics.Metrics) *ScalpingStrategy {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &ScalpingStrategy{
		logger:  logger.With(zap.String("market", market)),
		client:  client,
		db:      db,
		cfg:     cfg,
		market:  market,
		dryRun:  dryRun,
		metrics: m,
	}
}

// Position returns a copy of the current position state.
func (s *ScalpingStrategy) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Evaluate runs one transition of the position state machine.
//
// Read failures and insufficient market data cost only the current cycle;
// the position is left untouched and the error propagates for the engine to
// log and skip. A failed or unconfirmable order write comes back as a
// writeFailure, which the engine must treat as fatal for the market.
func (s *ScalpingStrategy) Evaluate(ctx context.Context, snap exchange.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.pos.Status {
	case StatusFlat:
		return s.enter(ctx, snap)
	case StatusPendingEntry:
		return s.confirmEntry(ctx)
	case StatusHolding:
		return s.holdOrExit(ctx, snap)
	case StatusPendingExit:
		return s.confirmExit(ctx)
	}
	return fmt.Errorf("position in unknown status %d", s.pos.Status)
}

// enter buys the configured counter-currency budget's worth at the current
// bid and moves to PendingEntry.
func (s *ScalpingStrategy) enter(ctx context.Context, snap exchange.PriceSnapshot) error {
	quantity := s.cfg.EntryBudget.Div(snap.Bid)
	if !quantity.IsPositive() {
		s.logger.Warn("Entry budget rounds to zero quantity at current bid, skipping entry",
			zap.String("bid", snap.Bid.String()),
			zap.String("entry_budget", s.cfg.EntryBudget.String()))
		return nil
	}

	s.logger.Info("Flat - placing entry BUY order",
		zap.String("bid", snap.Bid.String()),
		zap.String("quantity", quantity.String()))

	id, err := s.placeOrder(ctx, exchange.Buy, quantity, snap.Bid)
	if err != nil {
		return err
	}

	s.pos = Position{
		Status:       StatusPendingEntry,
		EntryOrderID: id,
		EntryPrice:   snap.Bid,
		Quantity:     quantity,
	}
	s.logger.Info("Entry order submitted", zap.String("order_id", string(id)))
	return nil
}

// confirmEntry probes the open orders: the entry order still resting means
// unfilled, absent means filled.
func (s *ScalpingStrategy) confirmEntry(ctx context.Context) error {
	resting, err := s.orderStillOpen(ctx, s.pos.EntryOrderID)
	if err != nil {
		return fmt.Errorf("checking entry order status: %w", err)
	}
	if resting {
		s.logger.Info("Entry order still open, waiting", zap.String("order_id", string(s.pos.EntryOrderID)))
		return nil
	}

	s.pos.Status = StatusHolding
	s.pos.HighWaterMark = s.pos.EntryPrice
	s.journal(exchange.Buy, s.pos.EntryPrice, s.pos.Quantity)
	s.logger.Info("Entry order filled, now holding",
		zap.String("entry_price", s.pos.EntryPrice.String()),
		zap.String("quantity", s.pos.Quantity.String()))
	return nil
}

// holdOrExit applies the exit policy against the current ask:
// stop-loss strictly below entry*(1-maxLoss), then the profit gate, then the
// trailing stop under the high-water mark.
func (s *ScalpingStrategy) holdOrExit(ctx context.Context, snap exchange.PriceSnapshot) error {
	one := money.One()

	stopLoss := s.pos.EntryPrice.Mul(one.Sub(s.cfg.MaxLossPct))
	if snap.Ask.LessThan(stopLoss) {
		s.logger.Warn("Stop-loss breached, selling",
			zap.String("ask", snap.Ask.String()),
			zap.String("stop_loss", stopLoss.String()))
		return s.exit(ctx, snap.Ask, "stop-loss")
	}

	// The trailing stop arms the first time the ask clears the profit
	// target; once armed it stays armed even if the ask dips back under.
	profitTarget := s.pos.EntryPrice.Mul(one.Add(s.cfg.MinProfitPct))
	if !s.pos.HighWaterMark.GreaterThan(profitTarget) && !snap.Ask.GreaterThan(profitTarget) {
		s.logger.Info("Profit target not reached, holding",
			zap.String("ask", snap.Ask.String()),
			zap.String("profit_target", profitTarget.String()))
		return nil
	}

	s.pos.HighWaterMark = money.Max(s.pos.HighWaterMark, snap.Ask)

	trailingFloor := s.pos.HighWaterMark.Mul(one.Sub(s.cfg.TrailingPct))
	if snap.Ask.LessThan(trailingFloor) {
		s.logger.Info("Trailing stop hit, selling",
			zap.String("ask", snap.Ask.String()),
			zap.String("high_water_mark", s.pos.HighWaterMark.String()),
			zap.String("trailing_floor", trailingFloor.String()))
		return s.exit(ctx, snap.Ask, "trailing-stop")
	}

	s.logger.Info("Above profit target, riding the trend",
		zap.String("ask", snap.Ask.String()),
		zap.String("high_water_mark", s.pos.HighWaterMark.String()))
	return nil
}

// exit sells the full position quantity at the given price and moves to
// PendingExit.
func (s *ScalpingStrategy) exit(ctx context.Context, price money.Money, reason string) error {
	id, err := s.placeOrder(ctx, exchange.Sell, s.pos.Quantity, price)
	if err != nil {
		return err
	}

	s.pos.Status = StatusPendingExit
	s.pos.ExitOrderID = id
	s.pos.ExitPrice = price
	s.logger.Info("Exit order submitted",
		zap.String("order_id", string(id)),
		zap.String("price", price.String()),
		zap.String("reason", reason))
	return nil
}

// confirmExit probes the open orders: absent means the exit filled and the
// position cycles back to Flat, ready to re-enter on the next evaluation.
func (s *ScalpingStrategy) confirmExit(ctx context.Context) error {
	resting, err := s.orderStillOpen(ctx, s.pos.ExitOrderID)
	if err != nil {
		return fmt.Errorf("checking exit order status: %w", err)
	}
	if resting {
		s.logger.Info("Exit order still open, waiting", zap.String("order_id", string(s.pos.ExitOrderID)))
		return nil
	}

	s.journal(exchange.Sell, s.pos.ExitPrice, s.pos.Quantity)
	s.logger.Info("Exit order filled, position closed",
		zap.String("exit_price", s.pos.ExitPrice.String()),
		zap.String("quantity", s.pos.Quantity.String()))
	s.pos = Position{Status: StatusFlat}
	return nil
}

func (s *ScalpingStrategy) orderStillOpen(ctx context.Context, id exchange.OrderID) (bool, error) {
	if s.dryRun {
		// Simulated orders fill instantly.
		return false, nil
	}
	open, err := s.client.GetOpenOrders(ctx, s.market)
	if err != nil {
		return false, err
	}
	for _, o := range open {
		if o.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *ScalpingStrategy) placeOrder(ctx context.Context, side exchange.Side, quantity, price money.Money) (exchange.OrderID, error) {
	if s.dryRun {
		s.logger.Warn("Dry run enabled. No real order will be placed.",
			zap.String("side", string(side)),
			zap.String("quantity", quantity.String()),
			zap.String("price", price.String()))
		return exchange.OrderID(fmt.Sprintf("dry-%d", time.Now().UnixNano())), nil
	}

	id, err := s.client.PlaceOrder(ctx, s.market, side, quantity, price)
	if err != nil {
		s.metrics.OrdersFailed.Inc()
		if exchange.IsTransient(err) && !exchange.IsAmbiguousWrite(err) {
			// The client confirmed the order never applied; safe to retry
			// on a later cycle.
			return "", fmt.Errorf("placing %s order: %w", side, err)
		}
		return "", &writeFailure{op: fmt.Sprintf("placing %s order on %s", side, s.market), err: err}
	}
	s.metrics.OrdersPlaced.Inc()
	return id, nil
}

// journal records a fill in the trade database. Journal failures are logged
// and never allowed to disturb trading.
func (s *ScalpingStrategy) journal(side exchange.Side, price, quantity money.Money) {
	if s.db == nil {
		return
	}
	trade := models.Trade{
		MarketID:      s.market,
		Side:          string(side),
		Price:         price.String(),
		Quantity:      quantity.String(),
		QuoteQuantity: price.Mul(quantity).String(),
		Timestamp:     time.Now().Unix(),
		IsSimulation:  s.dryRun,
	}
	if err := s.db.Create(&trade).Error; err != nil {
		s.logger.Error("Failed to save trade record to database", zap.Error(err))
	}
}
