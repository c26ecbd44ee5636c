package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "scalping_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

// Prometheus holds the counter set backed by a private registry, served on
// the status server's /metrics endpoint.
type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	cyclesCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_completed_total",
		Help:      "Total number of trade cycles that ran to completion.",
	})
	cyclesSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_skipped_total",
		Help:      "Total number of trade cycles skipped due to transient failures or insufficient market data.",
	})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})
	fatalAborts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "fatal_aborts_total",
		Help:      "Total number of markets stopped by a fatal abort.",
	})

	registry.MustRegister(cyclesCompleted, cyclesSkipped, ordersPlaced, ordersFailed, fatalAborts)

	return &Prometheus{
		Metrics: &Metrics{
			CyclesCompleted: promCounter{cyclesCompleted},
			CyclesSkipped:   promCounter{cyclesSkipped},
			OrdersPlaced:    promCounter{ordersPlaced},
			OrdersFailed:    promCounter{ordersFailed},
			FatalAborts:     promCounter{fatalAborts},
		},
		registry: registry,
	}
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
