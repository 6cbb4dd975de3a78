package engine

import (
	"fmt"
	"time"

	"github.com/rustyeddy/daytrader/broker"
	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/internal/logger"
	"github.com/rustyeddy/daytrader/journal"
	"github.com/rustyeddy/daytrader/marketdata"
	"github.com/rustyeddy/daytrader/metrics"
	"github.com/rustyeddy/daytrader/monitor"
	"github.com/rustyeddy/daytrader/risk"
	"github.com/rustyeddy/daytrader/session"
	"github.com/rustyeddy/daytrader/strategies"
	"go.uber.org/zap"
)

// Build assembles an engine and every component it drives from cfg.
// Enabled strategies come from the default registry. The engine owns the
// journal: Close it once the engine has stopped.
func Build(cfg *config.Config, creds config.Credentials, m *metrics.Metrics, log *zap.SugaredLogger) (*Engine, error) {
	return build(cfg, creds, m, log, time.Now)
}

// ExchangeClock reads wall time from now in loc. Square-off and session
// checks compare wall-clock hours, so every component shares this clock.
func ExchangeClock(loc *time.Location, now func() time.Time) func() time.Time {
	return func() time.Time { return now().In(loc) }
}

func build(cfg *config.Config, creds config.Credentials, m *metrics.Metrics, log *zap.SugaredLogger, wall func() time.Time) (*Engine, error) {
	log = logger.OrNop(log)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	now := ExchangeClock(loc, wall)

	limits, err := risk.LimitsFromConfig(cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}

	j, err := journal.Open(cfg.Journal, cfg.Session.StatsDir)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Engine, error) {
		_ = j.Close()
		return nil, err
	}

	sm, err := session.New(cfg, j, m, log.Named("session"))
	if err != nil {
		return fail(err)
	}
	sm.SetClock(now)

	conn := Connection(cfg, creds, log)
	quotes := marketdata.New(conn, cfg.MarketData, cfg.Broker.Exchange, m, log.Named("marketdata"))

	rm := risk.NewRiskManager(limits, cfg.Instruments(), log.Named("risk"))
	cm := risk.NewCapitalManager(cfg.Capital, log.Named("capital"))
	pm := risk.NewPositionManager(rm, cm, log.Named("positions"))
	pm.SetTargetFirst(cfg.Risk.TargetFirst)
	rm.SetClock(now)
	pm.SetClock(now)

	modes := NewModeManager(cfg.Mode, Brokers(conn, cfg.Paper, log), log.Named("mode"))
	mgr := strategies.NewManager(strategies.ManagerConfig{
		Positions: pm,
		Risk:      rm,
		Capital:   cm,
		Orders:    modes,
		Prices:    quotes,
		Exchange:  cfg.Broker.Exchange,
		Product:   broker.Product(cfg.Broker.ProductType),
		Metrics:   m,
		Log:       log.Named("strategies"),
	})
	mgr.SetClock(now)

	reg := strategies.DefaultRegistry()
	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		s, err := reg.New(sc, strategies.Deps{Data: quotes, Sizer: rm, Now: now, Log: log.Named(sc.Name)})
		if err != nil {
			return fail(fmt.Errorf("strategy %s: %w", sc.Name, err))
		}
		if err := mgr.Add(s); err != nil {
			return fail(err)
		}
	}

	var reports monitor.ReportWriter
	if f := j.Files(); f != nil {
		reports = f
	}
	mon := monitor.New(cfg.Monitor, rm, pm, reports, m, log.Named("monitor"))
	mon.SetClock(now)

	e, err := New(Components{
		Session:    sm,
		Broker:     conn,
		Modes:      modes,
		Risk:       rm,
		Strategies: mgr,
		Quotes:     quotes,
		Monitor:    mon,
		Journal:    j,
		Metrics:    m,
		Log:        log.Named("engine"),
	}, OptionsFromConfig(cfg.Engine))
	if err != nil {
		return fail(err)
	}
	e.SetClock(now)
	return e, nil
}
