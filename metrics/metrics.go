package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the trader's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	Orders        *prometheus.CounterVec
	QuoteFailures *prometheus.CounterVec
	Alerts        *prometheus.CounterVec
	DailyPnL      prometheus.Gauge
	RiskLevel     prometheus.Gauge
	OpenPositions prometheus.Gauge
	SessionActive prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trader_engine_cycles_total",
				Help: "Engine cycles by outcome",
			},
			[]string{"status"}, // status: success|error|skipped|idle
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trader_engine_cycle_duration_seconds",
				Help:    "Engine cycle duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trader_orders_total",
				Help: "Orders sent to the broker",
			},
			[]string{"side", "status"}, // status: success|error
		),
		QuoteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trader_quote_failures_total",
				Help: "Quote fetches that exhausted their retries",
			},
			[]string{"symbol"},
		),
		Alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trader_alerts_total",
				Help: "Monitor alerts raised",
			},
			[]string{"type"},
		),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_daily_pnl",
			Help: "Running pnl for the trading day",
		}),
		RiskLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_risk_level",
			Help: "Risk level: 0 normal, 1 warning, 2 critical",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Open positions",
		}),
		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_session_active",
			Help: "1 while a trading session is active",
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Cycles,
		m.CycleDuration,
		m.Orders,
		m.QuoteFailures,
		m.Alerts,
		m.DailyPnL,
		m.RiskLevel,
		m.OpenPositions,
		m.SessionActive,
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RecordCycle records one engine cycle.
func (m *Metrics) RecordCycle(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(status).Inc()
	if d > 0 {
		m.CycleDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) RecordOrder(side string, ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.Orders.WithLabelValues(side, status).Inc()
}

func (m *Metrics) RecordQuoteFailure(symbol string) {
	if m == nil {
		return
	}
	m.QuoteFailures.WithLabelValues(symbol).Inc()
}

func (m *Metrics) RecordAlert(kind string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(kind).Inc()
}

// SetRisk publishes the day's risk figures.
func (m *Metrics) SetRisk(dailyPnL float64, level int, open int) {
	if m == nil {
		return
	}
	m.DailyPnL.Set(dailyPnL)
	m.RiskLevel.Set(float64(level))
	m.OpenPositions.Set(float64(open))
}

func (m *Metrics) SetSessionActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.SessionActive.Set(1)
	} else {
		m.SessionActive.Set(0)
	}
}
