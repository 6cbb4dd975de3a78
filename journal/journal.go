// Package journal records closed trades and session results. It is a
// write-only sink: nothing in the trading loop reads it back.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/pkg/id"
	"github.com/rustyeddy/daytrader/risk"
	"github.com/rustyeddy/daytrader/session"
	"github.com/shopspring/decimal"
)

// TradeRecord is one closed trade as written to the journal.
type TradeRecord struct {
	ID         string
	Strategy   string
	Symbol     string
	Side       string
	Quantity   int
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        float64
	ExitReason string
}

// FromClosed converts a closed position. The record ID is a ULID minted
// at the exit time.
func FromClosed(c risk.ClosedPosition) TradeRecord {
	return TradeRecord{
		ID:         id.At(c.ExitTime),
		Strategy:   c.Strategy,
		Symbol:     c.Symbol,
		Side:       string(c.Side),
		Quantity:   c.Quantity,
		EntryPrice: c.EntryPrice,
		ExitPrice:  c.ExitPrice,
		EntryTime:  c.EntryTime,
		ExitTime:   c.ExitTime,
		PnL:        c.PnL,
		ExitReason: c.Reason,
	}
}

type Journal interface {
	RecordTrade(TradeRecord) error
	Close() error
}

// Money rounds x to paise/cents for persisted reports.
func Money(x float64) float64 {
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}

// Multi fans records out to several journals and session sinks.
type Multi struct {
	journals []Journal
	sinks    []session.Sink
	files    *Files
}

// Files returns the JSON writer, or nil when no directories are set.
func (m *Multi) Files() *Files {
	return m.files
}

func (m *Multi) RecordTrade(t TradeRecord) error {
	var errs []error
	for _, j := range m.journals {
		if err := j.RecordTrade(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveSession writes st to every session sink.
func (m *Multi) SaveSession(ctx context.Context, st session.Stats) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.SaveSession(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, j := range m.journals {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the journals named by cfg.Type plus the JSON session files
// under statsDir.
func Open(cfg config.JournalConfig, statsDir string) (*Multi, error) {
	m := &Multi{}
	fail := func(err error) (*Multi, error) {
		_ = m.Close()
		return nil, err
	}

	switch cfg.Type {
	case "", "csv", "sqlite", "both":
	default:
		return nil, fmt.Errorf("journal: unknown type %q", cfg.Type)
	}

	if cfg.Type == "" || cfg.Type == "csv" || cfg.Type == "both" {
		c, err := NewCSV(cfg.TradesFile)
		if err != nil {
			return fail(fmt.Errorf("journal csv: %w", err))
		}
		m.journals = append(m.journals, c)
	}
	if cfg.Type == "sqlite" || cfg.Type == "both" {
		s, err := NewSQLite(cfg.DBPath)
		if err != nil {
			return fail(fmt.Errorf("journal sqlite: %w", err))
		}
		m.journals = append(m.journals, s)
		m.sinks = append(m.sinks, s)
	}
	if statsDir != "" || cfg.ReportsDir != "" {
		m.files = NewFiles(statsDir, cfg.ReportsDir)
	}
	if statsDir != "" {
		m.sinks = append(m.sinks, m.files)
	}
	return m, nil
}
