package trader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"scalping-bot-go/internal/config"
	"scalping-bot-go/internal/exchange"
	"scalping-bot-go/internal/models"
	"scalping-bot-go/internal/money"
)

// MockExchangeClient is a mock implementation of exchange.Client. Decimal
// arguments are matched by their canonical string form.
type MockExchangeClient struct {
	mock.Mock
}

func (m *MockExchangeClient) GetLatestPrice(ctx context.Context, marketID string) (money.Money, error) {
	args := m.Called(marketID)
	return args.Get(0).(money.Money), args.Error(1)
}

func (m *MockExchangeClient) GetOrderBook(ctx context.Context, marketID string) (*exchange.OrderBook, error) {
	args := m.Called(marketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.OrderBook), args.Error(1)
}

func (m *MockExchangeClient) GetOpenOrders(ctx context.Context, marketID string) ([]exchange.OpenOrder, error) {
	args := m.Called(marketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.OpenOrder), args.Error(1)
}

func (m *MockExchangeClient) PlaceOrder(ctx context.Context, marketID string, side exchange.Side, quantity, price money.Money) (exchange.OrderID, error) {
	args := m.Called(marketID, side, quantity.String(), price.String())
	return args.Get(0).(exchange.OrderID), args.Error(1)
}

func (m *MockExchangeClient) CancelOrder(ctx context.Context, orderID exchange.OrderID, marketID string) (bool, error) {
	args := m.Called(orderID, marketID)
	return args.Bool(0), args.Error(1)
}

func (m *MockExchangeClient) GetBalances(ctx context.Context) (map[string]exchange.Balance, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]exchange.Balance), args.Error(1)
}

var _ exchange.Client = (*MockExchangeClient)(nil)

func testStrategyConfig() config.Strategy {
	return config.Strategy{
		EntryBudget:  money.MustFromString("100"),
		MinProfitPct: money.MustFromString("0.02"),
		MaxLossPct:   money.MustFromString("0.05"),
		TrailingPct:  money.MustFromString("0.01"),
	}
}

// setupStrategy creates a strategy over a mock client and an in-memory
// journal database.
func setupStrategy(t *testing.T) (*ScalpingStrategy, *MockExchangeClient, *gorm.DB) {
	t.Helper()

	// A named shared-cache memory database keeps every pooled connection on
	// the same data; the test name keeps tests isolated from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Trade{}))

	client := new(MockExchangeClient)
	strategy := NewScalpingStrategy(zap.NewNop(), client, db, testStrategyConfig(), "BTCUSDT", false, nil)

	return strategy, client, db
}

func snapshot(bid, ask string) exchange.PriceSnapshot {
	return exchange.PriceSnapshot{
		MarketID:   "BTCUSDT",
		Bid:        money.MustFromString(bid),
		Ask:        money.MustFromString(ask),
		ObservedAt: time.Unix(1700000000, 0),
	}
}

func TestEvaluate_FlatPlacesEntryBuy(t *testing.T) {
	strategy, client, _ := setupStrategy(t)

	// 100 budget / 50 bid = 2 units.
	client.On("PlaceOrder", "BTCUSDT", exchange.Buy, "2.00000000", "50.00000000").
		Return(exchange.OrderID("order-1"), nil)

	err := strategy.Evaluate(context.Background(), snapshot("50", "50.5"))

	require.NoError(t, err)
	pos := strategy.Position()
	assert.Equal(t, StatusPendingEntry, pos.Status)
	assert.Equal(t, exchange.OrderID("order-1"), pos.EntryOrderID)
	assert.Equal(t, "50.00000000", pos.EntryPrice.String())
	assert.Equal(t, "2.00000000", pos.Quantity.String())
	client.AssertExpectations(t)
}

func TestEvaluate_PendingEntryStillOpen_NoDuplicateOrder(t *testing.T) {
	strategy, client, _ := setupStrategy(t)

	client.On("PlaceOrder", "BTCUSDT", exchange.Buy, "2.00000000", "50.00000000").
		Return(exchange.OrderID("order-1"), nil).Once()
	require.NoError(t, strategy.Evaluate(context.Background(), snapshot("50", "50.5")))

	resting := []exchange.OpenOrder{{
		ID:       "order-1",
		MarketID: "BTCUSDT",
		Side:     exchange.Buy,
		Price:    money.MustFromString("50"),
		Quantity: money.MustFromString("2"),
	}}
	client.On("GetOpenOrders", "BTCUSDT").Return(resting, nil).Twice()

	// Re-evaluating the same unchanged input twice produces the same
	// decision and submits nothing.
	require.NoError(t, strategy.Evaluate(context.Background(), snapshot("50", "50.5")))
	require.NoError(t, strategy.Evaluate(context.Background(), snapshot("50", "50.5")))

	assert.Equal(t, StatusPendingEntry, strategy.Position().Status)
	client.AssertExpectations(t)
	client.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestEvaluate_PendingEntryFilled_MovesToHolding(t *testing.T) {
	strategy, client, db := setupStrategy(t)

	client.On("PlaceOrder", "BTCUSDT", exchange.Buy, "2.00000000", "50.00000000").
		Return(exchange.OrderID("order-1"), nil).Once()
	require.NoError(t, strategy.Evaluate(context.Background(), snapshot("50", "50.5")))

	// The entry order is no longer resting: it must have filled.
	client.On("GetOpenOrders", "BTCUSDT").Return([]exchange.OpenOrder{}, nil).Once()
	require.NoError(t, strategy.Evaluate(context.Background(), snapshot("50", "50.5")))

	pos := strategy.Position()
	assert.Equal(t, StatusHolding, pos.Status)
	assert.Equal(t, "50.00000000", pos.HighWaterMark.String())

	var trades []models.Trade
	require.NoError(t, db.Find(&trades).Error)
	require.Len(t, trades, 1)
	assert.Equal(t, "BUY", trades[0].Side)
	assert.Equal(t, "50.00000000", trades[0].Price)
	client.AssertExpectations(t)
}

// holdingStrategy fast-forwards a strategy into Holding at entry price 100
// with quantity 1.5.
func holdingStrategy(t *testing.T) (*ScalpingStrategy, *MockExchangeClient, *gorm.DB) {
	t.Helper()
	strategy, client, db := setupStrategy(t)
	strategy.pos = Position{
		Status:        StatusHolding,
		EntryOrderID:  "order-1",
		EntryPrice:    money.MustFromString("100"),
		Quantity:      money.MustFromString("1.5"),
		HighWaterMark: money.MustFromString("100"),
	}
	return strategy, client, db
}

func TestEvaluate_StopLossTriggers(t *testing.T) {
	strategy, client, _ := holdingStrategy(t)

	// entry 100, maxLoss 5% => stop at 95; ask 90 is strictly below.
	client.On("PlaceOrder", "BTCUSDT", exchange.Sell, "1.50000000", "90.00000000").
		Return(exchange.OrderID("exit-1"), nil)

	err := strategy.Evaluate(context.Background(), snapshot("89.9", "90"))

	require.NoError(t, err)
	pos := strategy.Position()
	assert.Equal(t, StatusPendingExit, pos.Status)
	assert.Equal(t, exchange.OrderID("exit-1"), pos.ExitOrderID)
	assert.Equal(t, "90.00000000", pos.ExitPrice.String())
	client.AssertExpectations(t)
}

func TestEvaluate_StopLossEqualityDoesNotTrigger(t *testing.T) {
	strategy, client, _ := holdingStrategy(t)

	// ask exactly at the stop price of 95: strictly-below means no sell.
	err := strategy.Evaluate(context.Background(), snapshot("94.9", "95"))

	require.NoError(t, err)
	assert.Equal(t, StatusHolding, strategy.Position().Status)
	client.AssertExpectations(t)
}

func TestEvaluate_BelowProfitTarget_Holds(t *testing.T) {
	strategy, client, _ := holdingStrategy(t)

	// target is 102; both below and exactly at it mean no action and no
	// high-water-mark movement.
	for _, ask := range []string{"101", "102"} {
		err := strategy.Evaluate(context.Background(), snapshot("100", ask))
		require.NoError(t, err)
		pos := strategy.Position()
		assert.Equal(t, StatusHolding, pos.Status)
		assert.Equal(t, "100.00000000", pos.HighWaterMark.String())
	}
	client.AssertExpectations(t)
}

func TestEvaluate_TrailingStopTriggers(t *testing.T) {
	strategy, client, _ := holdingStrategy(t)

	// ask 103 clears the 102 target and raises the high-water mark.
	require.NoError(t, strategy.Evaluate(context.Background(), snapshot("102.9", "103")))
	assert.Equal(t, "103.00000000", strategy.Position().HighWaterMark.String())
	assert.Equal(t, StatusHolding, strategy.Position().Status)

	// Trailing floor is 103 * 0.99 = 101.97; ask 101.5 is below it.
	client.On("PlaceOrder", "BTCUSDT", exchange.Sell, "1.50000000", "101.50000000").
		Return(exchange.OrderID("exit-1"), nil)
	require.NoError(t, strategy.Evaluate(context.Background(), snapshot("101.4", "101.5")))

	pos := strategy.Position()
	assert.Equal(t, StatusPendingExit, pos.Status)
	assert.Equal(t, "103.00000000", pos.HighWaterMark.String(), "the mark never falls")
	client.AssertExpectations(t)
}

func TestEvaluate_HighWaterMarkIsMonotonic(t *testing.T) {
	strategy, client, _ := holdingStrategy(t)

	for _, step := range []struct{ ask, wantMark string }{
		{"103", "103.00000000"},
		{"104", "104.00000000"},
		{"103.5", "104.00000000"},
	} {
		require.NoError(t, strategy.Evaluate(context.Background(), snapshot("100", step.ask)))
		assert.Equal(t, step.wantMark, strategy.Position().HighWaterMark.String())
		assert.Equal(t, StatusHolding, strategy.Position().Status)
	}
	client.AssertExpectations(t)
}

func TestEvaluate_FullRoundTripPreservesQuantity(t *testing.T) {
	strategy, client, db := setupStrategy(t)
	ctx := context.Background()

	// Flat -> PendingEntry
	client.On("PlaceOrder", "BTCUSDT", exchange.Buy, "2.00000000", "50.00000000").
		Return(exchange.OrderID("order-1"), nil).Once()
	require.NoError(t, strategy.Evaluate(ctx, snapshot("50", "50.5")))

	// PendingEntry -> Holding
	client.On("GetOpenOrders", "BTCUSDT").Return([]exchange.OpenOrder{}, nil).Once()
	require.NoError(t, strategy.Evaluate(ctx, snapshot("50", "50.5")))

	// Holding -> PendingExit via the trailing stop, full quantity.
	require.NoError(t, strategy.Evaluate(ctx, snapshot("52.9", "53")))
	client.On("PlaceOrder", "BTCUSDT", exchange.Sell, "2.00000000", "52.00000000").
		Return(exchange.OrderID("exit-1"), nil).Once()
	require.NoError(t, strategy.Evaluate(ctx, snapshot("51.9", "52")))

	// PendingExit -> Flat
	client.On("GetOpenOrders", "BTCUSDT").Return([]exchange.OpenOrder{}, nil).Once()
	require.NoError(t, strategy.Evaluate(ctx, snapshot("51.9", "52")))

	pos := strategy.Position()
	assert.Equal(t, StatusFlat, pos.Status)
	assert.Empty(t, pos.EntryOrderID)
	assert.Empty(t, pos.ExitOrderID)
	assert.True(t, pos.HighWaterMark.IsZero())

	// Both fills were journaled with the same, unchanged quantity.
	var trades []models.Trade
	require.NoError(t, db.Order("id").Find(&trades).Error)
	require.Len(t, trades, 2)
	assert.Equal(t, "BUY", trades[0].Side)
	assert.Equal(t, "SELL", trades[1].Side)
	assert.Equal(t, trades[0].Quantity, trades[1].Quantity)
	client.AssertExpectations(t)
}

func TestEvaluate_PendingExitStillOpen_Waits(t *testing.T) {
	strategy, client, _ := setupStrategy(t)
	strategy.pos = Position{
		Status:      StatusPendingExit,
		ExitOrderID: "exit-1",
		EntryPrice:  money.MustFromString("100"),
		ExitPrice:   money.MustFromString("101.5"),
		Quantity:    money.MustFromString("1.5"),
	}

	resting := []exchange.OpenOrder{{ID: "exit-1", MarketID: "BTCUSDT", Side: exchange.Sell,
		Price: money.MustFromString("101.5"), Quantity: money.MustFromString("1.5")}}
	client.On("GetOpenOrders", "BTCUSDT").Return(resting, nil).Once()

	require.NoError(t, strategy.Evaluate(context.Background(), snapshot("101", "101.5")))
	assert.Equal(t, StatusPendingExit, strategy.Position().Status)
	client.AssertExpectations(t)
}

func TestEvaluate_WriteFatalSurfacesAsWriteFailure(t *testing.T) {
	strategy, client, _ := setupStrategy(t)

	fatal := &exchange.Error{Kind: exchange.KindFatal, Op: "PlaceOrder", StatusCode: 400,
		Message: "Account has insufficient balance for requested action."}
	client.On("PlaceOrder", "BTCUSDT", exchange.Buy, "2.00000000", "50.00000000").
		Return(exchange.OrderID(""), fatal)

	err := strategy.Evaluate(context.Background(), snapshot("50", "50.5"))

	require.Error(t, err)
	var wf *writeFailure
	assert.True(t, errors.As(err, &wf))
	assert.Equal(t, StatusFlat, strategy.Position().Status, "a failed entry leaves the position Flat")
	client.AssertExpectations(t)
}

func TestEvaluate_AmbiguousWriteSurfacesAsWriteFailure(t *testing.T) {
	strategy, client, _ := setupStrategy(t)

	ambiguous := &exchange.AmbiguousWriteError{Op: "PlaceOrder", MarketID: "BTCUSDT",
		Err: errors.New("confirmation lookup failed")}
	client.On("PlaceOrder", "BTCUSDT", exchange.Buy, "2.00000000", "50.00000000").
		Return(exchange.OrderID(""), ambiguous)

	err := strategy.Evaluate(context.Background(), snapshot("50", "50.5"))

	require.Error(t, err)
	var wf *writeFailure
	assert.True(t, errors.As(err, &wf))
	client.AssertExpectations(t)
}

func TestEvaluate_WriteTransientIsNotFatal(t *testing.T) {
	strategy, client, _ := setupStrategy(t)

	// The client confirmed the order never applied; retrying next cycle is safe.
	transient := &exchange.Error{Kind: exchange.KindTransient, Op: "PlaceOrder", StatusCode: 503,
		Message: "Service Unavailable"}
	client.On("PlaceOrder", "BTCUSDT", exchange.Buy, "2.00000000", "50.00000000").
		Return(exchange.OrderID(""), transient)

	err := strategy.Evaluate(context.Background(), snapshot("50", "50.5"))

	require.Error(t, err)
	var wf *writeFailure
	assert.False(t, errors.As(err, &wf))
	assert.Equal(t, StatusFlat, strategy.Position().Status)
	client.AssertExpectations(t)
}

func TestEvaluate_ReadErrorLeavesStateUnchanged(t *testing.T) {
	strategy, client, _ := setupStrategy(t)
	strategy.pos = Position{
		Status:       StatusPendingEntry,
		EntryOrderID: "order-1",
		EntryPrice:   money.MustFromString("50"),
		Quantity:     money.MustFromString("2"),
	}

	readErr := &exchange.Error{Kind: exchange.KindFatal, Op: "GetOpenOrders", StatusCode: 401,
		Message: "unauthorized"}
	client.On("GetOpenOrders", "BTCUSDT").Return(nil, readErr)

	err := strategy.Evaluate(context.Background(), snapshot("50", "50.5"))

	require.Error(t, err)
	var wf *writeFailure
	assert.False(t, errors.As(err, &wf), "read failures only cost the cycle")
	assert.Equal(t, StatusPendingEntry, strategy.Position().Status)
	client.AssertExpectations(t)
}

func TestEvaluate_DryRunPlacesNoRealOrders(t *testing.T) {
	strategy, client, db := setupStrategy(t)
	strategy.dryRun = true
	ctx := context.Background()

	// Simulated orders fill instantly, so two cycles reach Holding without
	// a single client call.
	require.NoError(t, strategy.Evaluate(ctx, snapshot("50", "50.5")))
	require.NoError(t, strategy.Evaluate(ctx, snapshot("50", "50.5")))

	assert.Equal(t, StatusHolding, strategy.Position().Status)

	var trades []models.Trade
	require.NoError(t, db.Find(&trades).Error)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].IsSimulation)
	client.AssertExpectations(t)
}
