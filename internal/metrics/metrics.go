package metrics

// Counter is the minimal counting capability the trading core emits to.
type Counter interface {
	Inc()
}

// Metrics groups the counters the engine and strategies increment.
type Metrics struct {
	CyclesCompleted Counter
	CyclesSkipped   Counter
	OrdersPlaced    Counter
	OrdersFailed    Counter
	FatalAborts     Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

// NewNoop returns metrics that count nothing, for tests and dry runs.
func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesCompleted: n,
		CyclesSkipped:   n,
		OrdersPlaced:    n,
		OrdersFailed:    n,
		FatalAborts:     n,
	}
}
