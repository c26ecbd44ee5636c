package trader

import (
	"scalping-bot-go/internal/exchange"
	"scalping-bot-go/internal/money"
)

// Status of a market position within its lifecycle.
type Status int

const (
	// StatusFlat means no position and no resting order.
	StatusFlat Status = iota
	// StatusPendingEntry means the entry order was submitted but its fill
	// has not been confirmed yet.
	StatusPendingEntry
	// StatusHolding means the entry filled and the position is being
	// tracked for an exit.
	StatusHolding
	// StatusPendingExit means the exit order was submitted but its fill has
	// not been confirmed yet.
	StatusPendingExit
)

func (s Status) String() string {
	switch s {
	case StatusFlat:
		return "Flat"
	case StatusPendingEntry:
		return "PendingEntry"
	case StatusHolding:
		return "Holding"
	case StatusPendingExit:
		return "PendingExit"
	}
	return "Unknown"
}

// Position is the per-market state owned exclusively by one strategy
// instance. It is created Flat, mutated only by the transition function and
// never shared across markets. It is not persisted across restarts.
type Position struct {
	Status        Status
	EntryOrderID  exchange.OrderID
	ExitOrderID   exchange.OrderID
	EntryPrice    money.Money
	ExitPrice     money.Money
	Quantity      money.Money
	HighWaterMark money.Money
}
