package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics covers both the engine's signal path and the order API. It
// satisfies engine.Metrics.
type Metrics struct {
	SignalsTotal       *prometheus.CounterVec
	SignalLatency      *prometheus.HistogramVec
	ExecutionsTotal    *prometheus.CounterVec
	BookDepth          *prometheus.GaugeVec
	SettlementFailures *prometheus.CounterVec
	OrdersSubmitted    *prometheus.CounterVec
	OrdersCancelled    prometheus.Counter
	ExpiredOrders      prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fill_signals_total",
				Help: "Fill signals processed, by instrument and outcome.",
			},
			[]string{"instrument", "status"},
		),
		SignalLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fill_signal_duration_seconds",
				Help:    "Time spent processing one fill signal.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "executions_total",
				Help: "Executions produced by the matching engine.",
			},
			[]string{"instrument"},
		),
		BookDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "order_book_depth",
				Help: "Resting orders per instrument and side.",
			},
			[]string{"instrument", "side"},
		),
		SettlementFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_integrity_failures_total",
				Help: "Fills rejected by settlement guards; indicates corrupted upstream validation.",
			},
			[]string{"reason"},
		),
		OrdersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_submitted_total",
				Help: "Order submissions, by outcome.",
			},
			[]string{"status"},
		),
		OrdersCancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orders_cancelled_total",
				Help: "Orders cancelled through the API or the expiry sweeper.",
			},
		),
		ExpiredOrders: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orders_expired_total",
				Help: "Open orders cancelled by the expiry sweeper.",
			},
		),
	}

	registry.MustRegister(
		m.SignalsTotal,
		m.SignalLatency,
		m.ExecutionsTotal,
		m.BookDepth,
		m.SettlementFailures,
		m.OrdersSubmitted,
		m.OrdersCancelled,
		m.ExpiredOrders,
	)
	return m
}

func (m *Metrics) ObserveSignal(instrument, status string, duration time.Duration) {
	m.SignalsTotal.WithLabelValues(instrument, status).Inc()
	m.SignalLatency.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) ObserveExecutions(instrument string, count int) {
	m.ExecutionsTotal.WithLabelValues(instrument).Add(float64(count))
}

func (m *Metrics) SetBookDepth(instrument, side string, depth float64) {
	m.BookDepth.WithLabelValues(instrument, side).Set(depth)
}

func (m *Metrics) IncSettlementFailure(reason string) {
	m.SettlementFailures.WithLabelValues(reason).Inc()
}
