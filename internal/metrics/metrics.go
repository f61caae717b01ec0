// Package metrics exposes trading, risk and backtest metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/newthinker/tradecore/internal/events"
)

const namespace = "tradecore"

// Registry holds all Prometheus metrics. It also consumes engine events.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics for the scrape endpoint
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Trading metrics
	signalsGenerated *prometheus.CounterVec
	tradesOpened     *prometheus.CounterVec
	tradesClosed     *prometheus.CounterVec
	tradesRejected   *prometheus.CounterVec
	checksFailed     *prometheus.CounterVec
	realizedPnL      *prometheus.GaugeVec
	orderFailures    *prometheus.CounterVec
	riskAlerts       *prometheus.CounterVec
	circuitBroken    prometheus.Gauge
	breakerTrips     prometheus.Counter
	emergencyStops   prometheus.Counter

	// Portfolio gauges
	equity        prometheus.Gauge
	drawdown      prometheus.Gauge
	openPositions prometheus.Gauge

	// Backtest metrics
	backtestsTotal   *prometheus.CounterVec
	backtestDuration prometheus.Histogram
	candlesProcessed prometheus.Counter
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),

		signalsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_generated_total",
				Help:      "Combined signals by symbol and type",
			},
			[]string{"symbol", "type"},
		),
		tradesOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_opened_total",
				Help:      "Positions opened",
			},
			[]string{"symbol", "side"},
		),
		tradesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_closed_total",
				Help:      "Positions closed by exit reason and outcome",
			},
			[]string{"symbol", "reason", "outcome"},
		),
		tradesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_rejected_total",
				Help:      "Entries rejected by risk validation",
			},
			[]string{"symbol"},
		),
		checksFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "risk_checks_failed_total",
				Help:      "Failed risk checks by check name",
			},
			[]string{"check"},
		),
		realizedPnL: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realized_pnl",
				Help:      "Cumulative realized P&L by symbol",
			},
			[]string{"symbol"},
		),
		orderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_failures_total",
				Help:      "Orders rejected by the executor",
			},
			[]string{"symbol"},
		),
		riskAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "risk_alerts_total",
				Help:      "Risk alerts by metric and severity",
			},
			[]string{"metric", "severity"},
		),
		circuitBroken: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_active",
				Help:      "1 while the circuit breaker halts trading",
			},
		),
		breakerTrips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Circuit breaker trips",
			},
		),
		emergencyStops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emergency_stops_total",
				Help:      "Emergency stops executed",
			},
		),

		equity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "portfolio_equity",
				Help:      "Cash plus position value",
			},
		),
		drawdown: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "portfolio_drawdown_percent",
				Help:      "Percent below peak equity",
			},
		),
		openPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "portfolio_open_positions",
				Help:      "Number of open positions",
			},
		),

		backtestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtests_total",
				Help:      "Total number of backtests",
			},
			[]string{"status"},
		),
		backtestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backtest_duration_seconds",
				Help:      "Backtest duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
		candlesProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtest_candles_total",
				Help:      "Candles simulated across all backtests",
			},
		),
	}

	reg.MustRegister(
		r.httpRequestsTotal,
		r.httpRequestDuration,
		r.httpRequestsInFlight,
		r.signalsGenerated,
		r.tradesOpened,
		r.tradesClosed,
		r.tradesRejected,
		r.checksFailed,
		r.realizedPnL,
		r.orderFailures,
		r.riskAlerts,
		r.circuitBroken,
		r.breakerTrips,
		r.emergencyStops,
		r.equity,
		r.drawdown,
		r.openPositions,
		r.backtestsTotal,
		r.backtestDuration,
		r.candlesProcessed,
	)

	return r
}

// Handler serves the registry in the Prometheus text format, instrumented
// with the HTTP metrics.
func (r *Registry) Handler() http.Handler {
	return HTTPMiddleware(r)(promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{Registry: r.Registry}))
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	r.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// Handle implements events.Handler.
func (r *Registry) Handle(e events.Event) {
	switch ev := e.(type) {
	case events.SignalGenerated:
		r.signalsGenerated.WithLabelValues(ev.Symbol, ev.Signal).Inc()
	case events.TradeOpened:
		r.tradesOpened.WithLabelValues(ev.Symbol, ev.Side).Inc()
	case events.TradeClosed:
		outcome := "loss"
		if ev.PnL > 0 {
			outcome = "win"
		}
		r.tradesClosed.WithLabelValues(ev.Symbol, ev.Reason, outcome).Inc()
		r.realizedPnL.WithLabelValues(ev.Symbol).Add(ev.PnL)
	case events.TradeRejected:
		r.tradesRejected.WithLabelValues(ev.Symbol).Inc()
		for _, check := range ev.FailedChecks {
			r.checksFailed.WithLabelValues(check).Inc()
		}
	case events.RiskAlert:
		r.riskAlerts.WithLabelValues(ev.Metric, ev.Severity).Inc()
	case events.CircuitBreakerTripped:
		r.breakerTrips.Inc()
		r.circuitBroken.Set(1)
	case events.CircuitBreakerReset:
		r.circuitBroken.Set(0)
	case events.EmergencyStop:
		r.emergencyStops.Inc()
	case events.OrderFailed:
		r.orderFailures.WithLabelValues(ev.Symbol).Inc()
	}
}

// SetPortfolio updates the portfolio gauges.
func (r *Registry) SetPortfolio(equity, drawdown float64, positions int) {
	r.equity.Set(equity)
	r.drawdown.Set(drawdown)
	r.openPositions.Set(float64(positions))
}

// RecordBacktest records a backtest completion.
func (r *Registry) RecordBacktest(status string, duration float64, candles int) {
	r.backtestsTotal.WithLabelValues(status).Inc()
	r.backtestDuration.Observe(duration)
	r.candlesProcessed.Add(float64(candles))
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
