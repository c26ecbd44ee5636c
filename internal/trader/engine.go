package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"scalping-bot-go/internal/config"
	"scalping-bot-go/internal/exchange"
	"scalping-bot-go/internal/metrics"
)

// CycleStatus is the outcome reported after each cycle invocation.
type CycleStatus int

const (
	// CycleCompleted means the transition ran, with or without an order.
	CycleCompleted CycleStatus = iota
	// CycleSkipped means the cycle was abandoned with state unchanged:
	// insufficient market data or a read failure.
	CycleSkipped
	// FatalAbort means an order write failed or could not be confirmed. No
	// further cycles may run for the market until an operator restarts it.
	FatalAbort
)

func (s CycleStatus) String() string {
	switch s {
	case CycleCompleted:
		return "completed"
	case CycleSkipped:
		return "skipped"
	case FatalAbort:
		return "fatal-abort"
	}
	return "unknown"
}

// CycleResult is the supervisor-facing outcome of one cycle.
type CycleResult struct {
	Status CycleStatus
	Reason string
	Err    error
}

// Engine drives the trading loop: one goroutine per configured market, each
// owning an independent position and ticker. No state crosses market
// boundaries, so the loops need no shared locking.
type Engine struct {
	logger     *zap.Logger
	cfg        *config.Config
	client     exchange.Client
	db         *gorm.DB
	metrics    *metrics.Metrics
	strategies map[string]*ScalpingStrategy

	StartTime time.Time
}

// NewEngine creates the engine and one strategy instance per market.
func NewEngine(logger *zap.Logger, cfg *config.Config, strategyCfg config.Strategy, client exchange.Client, db *gorm.DB, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.NewNoop()
	}
	strategies := make(map[string]*ScalpingStrategy, len(cfg.Trading.Markets))
	for _, market := range cfg.Trading.Markets {
		strategies[market] = NewScalpingStrategy(logger, client, db, strategyCfg, market, cfg.Trading.DryRun, m)
	}
	return &Engine{
		logger:     logger,
		cfg:        cfg,
		client:     client,
		db:         db,
		metrics:    m,
		strategies: strategies,
		StartTime:  time.Now(),
	}
}

// Positions returns a snapshot of every market's position state.
func (e *Engine) Positions() map[string]Position {
	positions := make(map[string]Position, len(e.strategies))
	for market, strat := range e.strategies {
		positions[market] = strat.Position()
	}
	return positions
}

// Run blocks until the context is cancelled or every market loop has
// stopped. A market loop stops early only on a fatal abort.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.Trading.TickInterval) * time.Second
	e.logger.Info("Starting trade cycle loops",
		zap.Duration("interval", interval),
		zap.Int("markets", len(e.strategies)))

	var wg sync.WaitGroup
	for market := range e.strategies {
		wg.Add(1)
		go func(market string) {
			defer wg.Done()
			e.runMarket(ctx, market, interval)
		}(market)
	}
	wg.Wait()
	e.logger.Info("All market loops stopped")
}

func (e *Engine) runMarket(ctx context.Context, market string, interval time.Duration) {
	l := e.logger.With(zap.String("market", market))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info("Stopping market loop")
			return
		case <-ticker.C:
			result := e.RunOneCycle(ctx, market)
			switch result.Status {
			case CycleCompleted:
				e.metrics.CyclesCompleted.Inc()
				l.Debug("Cycle completed")
			case CycleSkipped:
				e.metrics.CyclesSkipped.Inc()
				l.Warn("Cycle skipped, waiting for next trade cycle",
					zap.String("reason", result.Reason),
					zap.Error(result.Err))
			case FatalAbort:
				e.metrics.FatalAborts.Inc()
				l.Error("Fatal abort: no further orders will be issued for this market until operator restart",
					zap.String("reason", result.Reason),
					zap.Error(result.Err))
				return
			}
		}
	}
}

// RunOneCycle performs one blocking, strictly sequential evaluation of a
// market: fetch the order book, reduce it to a snapshot, run the position
// transition, and map the outcome to exactly one supervisor signal.
func (e *Engine) RunOneCycle(ctx context.Context, market string) CycleResult {
	strat, ok := e.strategies[market]
	if !ok {
		return CycleResult{Status: FatalAbort, Reason: "unknown market", Err: fmt.Errorf("no strategy configured for market %s", market)}
	}

	book, err := e.client.GetOrderBook(ctx, market)
	if err != nil {
		if errors.Is(err, exchange.ErrInsufficientMarketData) {
			return CycleResult{Status: CycleSkipped, Reason: "insufficient market data", Err: err}
		}
		// Read failures, transient or fatal, cost only this cycle.
		return CycleResult{Status: CycleSkipped, Reason: "order book fetch failed", Err: err}
	}

	snap, err := book.Snapshot(time.Now())
	if err != nil {
		return CycleResult{Status: CycleSkipped, Reason: "insufficient market data", Err: err}
	}

	if err := strat.Evaluate(ctx, snap); err != nil {
		var wf *writeFailure
		if errors.As(err, &wf) {
			return CycleResult{Status: FatalAbort, Reason: "order write failed", Err: err}
		}
		return CycleResult{Status: CycleSkipped, Reason: "evaluation failed", Err: err}
	}

	return CycleResult{Status: CycleCompleted}
}
