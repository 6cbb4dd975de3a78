// Package monitor watches the day's risk figures, raises threshold alerts
// and summarizes closed trades into reports.
package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/internal/logger"
	"github.com/rustyeddy/daytrader/metrics"
	"github.com/rustyeddy/daytrader/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AlertType string

const (
	AlertDrawdown AlertType = "High Drawdown"
	AlertLoss     AlertType = "Loss Alert"
	AlertProfit   AlertType = "Profit Target"
	AlertBreach   AlertType = "Risk Limit Breach"
)

type Alert struct {
	Time    time.Time `json:"timestamp"`
	Type    AlertType `json:"type"`
	Message string    `json:"message"`
}

// RiskSource supplies the day's risk figures.
type RiskSource interface {
	Metrics() risk.Metrics
}

// TradeSource supplies closed trades.
type TradeSource interface {
	History() []risk.ClosedPosition
}

// ReportWriter persists a named report.
type ReportWriter interface {
	SaveReport(name string, v any) (string, error)
}

// Monitor is a passive observer: it never changes trading state.
type Monitor struct {
	mu sync.Mutex

	risk    RiskSource
	trades  TradeSource
	reports ReportWriter
	limits  config.MonitorConfig

	alerts []Alert
	raised map[AlertType]string // alert type → day it last fired

	metrics *metrics.Metrics
	now     func() time.Time
	log     *zap.SugaredLogger
}

func New(cfg config.MonitorConfig, rs RiskSource, ts TradeSource, w ReportWriter, m *metrics.Metrics, log *zap.SugaredLogger) *Monitor {
	return &Monitor{
		risk:    rs,
		trades:  ts,
		reports: w,
		limits:  cfg,
		raised:  make(map[AlertType]string),
		metrics: m,
		now:     time.Now,
		log:     logger.OrNop(log),
	}
}

func (mon *Monitor) SetClock(now func() time.Time) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.now = now
}

// Update checks the alert thresholds and returns the alerts raised by
// this call. Each alert type fires at most once per day. A zero
// threshold disables its alert.
func (mon *Monitor) Update() []Alert {
	m := mon.risk.Metrics()

	mon.mu.Lock()
	defer mon.mu.Unlock()

	var out []Alert
	if t := mon.limits.DrawdownAlert; t > 0 && m.MaxDrawdown >= t {
		out = mon.raiseLocked(out, AlertDrawdown,
			fmt.Sprintf("drawdown of %.2f exceeded threshold %.2f", m.MaxDrawdown, t))
	}
	switch {
	case mon.limits.LossAlert > 0 && m.DailyPnL <= -mon.limits.LossAlert:
		out = mon.raiseLocked(out, AlertLoss,
			fmt.Sprintf("daily loss of %.2f exceeded threshold %.2f", -m.DailyPnL, mon.limits.LossAlert))
	case mon.limits.ProfitAlert > 0 && m.DailyPnL >= mon.limits.ProfitAlert:
		out = mon.raiseLocked(out, AlertProfit,
			fmt.Sprintf("daily profit of %.2f reached target %.2f", m.DailyPnL, mon.limits.ProfitAlert))
	}
	return out
}

// Breach records a risk limit breach reported by the engine.
func (mon *Monitor) Breach(err error) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.raiseLocked(nil, AlertBreach, err.Error())
}

func (mon *Monitor) raiseLocked(out []Alert, typ AlertType, msg string) []Alert {
	now := mon.now()
	day := now.Format("2006-01-02")
	if mon.raised[typ] == day {
		return out
	}
	mon.raised[typ] = day

	a := Alert{Time: now, Type: typ, Message: msg}
	mon.alerts = append(mon.alerts, a)
	mon.metrics.RecordAlert(string(typ))
	mon.log.Warnw("alert", "type", typ, "msg", msg)
	return append(out, a)
}

// Alerts returns every alert raised so far.
func (mon *Monitor) Alerts() []Alert {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return append([]Alert(nil), mon.alerts...)
}

// Reset forgets which alerts fired so a new day can raise them again.
func (mon *Monitor) Reset() {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.raised = make(map[AlertType]string)
}

// Summary aggregates a set of closed trades.
type Summary struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	TotalPnL      float64 `json:"total_pnl"`
	WinRate       float64 `json:"win_rate"`
	AvgProfit     float64 `json:"avg_profit"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	AvgDuration   float64 `json:"avg_duration_minutes"`
	MaxDrawdown   float64 `json:"max_drawdown"`
}

// Analysis is the trade analysis overall and per strategy.
type Analysis struct {
	Overall    Summary            `json:"overall"`
	ByStrategy map[string]Summary `json:"by_strategy"`
}

// Summarize computes trade statistics. Sums use decimal arithmetic and
// money fields are rounded to two places. The drawdown is the largest
// fall of cumulative P&L from its running peak, in exit order.
func Summarize(trades []risk.ClosedPosition) Summary {
	var s Summary
	if len(trades) == 0 {
		return s
	}
	sorted := append([]risk.ClosedPosition(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ExitTime.Before(sorted[j].ExitTime) })

	var (
		total, profit, loss decimal.Decimal
		cum, peak, dd       decimal.Decimal
		minutes             float64
	)
	for _, t := range sorted {
		pnl := decimal.NewFromFloat(t.PnL)
		total = total.Add(pnl)
		switch {
		case t.PnL > 0:
			s.WinningTrades++
			profit = profit.Add(pnl)
		case t.PnL < 0:
			s.LosingTrades++
			loss = loss.Add(pnl)
		}

		cum = cum.Add(pnl)
		if cum.GreaterThan(peak) {
			peak = cum
		}
		if d := peak.Sub(cum); d.GreaterThan(dd) {
			dd = d
		}
		if !t.EntryTime.IsZero() && !t.ExitTime.IsZero() {
			minutes += t.ExitTime.Sub(t.EntryTime).Minutes()
		}
	}

	s.TotalTrades = len(sorted)
	s.TotalPnL = money(total)
	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades)
	if s.WinningTrades > 0 {
		s.AvgProfit = money(profit.Div(decimal.NewFromInt(int64(s.WinningTrades))))
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = money(loss.Div(decimal.NewFromInt(int64(s.LosingTrades))))
	}
	if !loss.IsZero() {
		s.ProfitFactor = money(profit.Div(loss.Abs()))
	}
	s.AvgDuration = minutes / float64(s.TotalTrades)
	s.MaxDrawdown = money(dd)
	return s
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// Analyze summarizes trades overall and by strategy.
func Analyze(trades []risk.ClosedPosition) Analysis {
	by := make(map[string][]risk.ClosedPosition)
	for _, t := range trades {
		by[t.Strategy] = append(by[t.Strategy], t)
	}
	a := Analysis{Overall: Summarize(trades), ByStrategy: make(map[string]Summary, len(by))}
	for name, ts := range by {
		a.ByStrategy[name] = Summarize(ts)
	}
	return a
}

// TradeAnalysis analyzes every closed trade seen so far.
func (mon *Monitor) TradeAnalysis() Analysis {
	return Analyze(mon.trades.History())
}

// Report is the end-of-day summary.
type Report struct {
	// Summary covers trades closed on Date.
	Summary

	Date       string             `json:"date"`
	ByStrategy map[string]Summary `json:"by_strategy"`
	Risk       risk.Metrics       `json:"risk"`
	Alerts     []Alert            `json:"alerts"`
}

// DailyReport builds the report for trades closed today and writes it as
// daily_report_YYYY-MM-DD when a writer is configured.
func (mon *Monitor) DailyReport() (Report, error) {
	mon.mu.Lock()
	now := mon.now()
	alerts := append([]Alert(nil), mon.alerts...)
	mon.mu.Unlock()

	date := now.Format("2006-01-02")
	var today []risk.ClosedPosition
	for _, t := range mon.trades.History() {
		if t.ExitTime.Format("2006-01-02") == date {
			today = append(today, t)
		}
	}
	var todays []Alert
	for _, a := range alerts {
		if a.Time.Format("2006-01-02") == date {
			todays = append(todays, a)
		}
	}

	a := Analyze(today)
	r := Report{
		Date:       date,
		Summary:    a.Overall,
		ByStrategy: a.ByStrategy,
		Risk:       mon.risk.Metrics(),
		Alerts:     todays,
	}
	if mon.reports == nil {
		return r, nil
	}
	path, err := mon.reports.SaveReport("daily_report_"+date, r)
	if err != nil {
		return r, fmt.Errorf("save daily report: %w", err)
	}
	mon.log.Infow("daily report saved", "path", path, "trades", r.TotalTrades, "pnl", r.TotalPnL)
	return r, nil
}
