package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// CSVHeader is the trade history column order.
var CSVHeader = []string{
	"strategy", "symbol", "entry_time", "exit_time",
	"entry_price", "exit_price", "quantity", "pnl", "exit_reason",
}

// CSVJournal appends trades to a CSV file, writing the header when the
// file is new.
type CSVJournal struct {
	mu     sync.Mutex
	trades *csv.Writer
	tf     *os.File
}

func NewCSV(path string) (*CSVJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("trades file not set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	tf, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	fi, err := tf.Stat()
	if err != nil {
		tf.Close()
		return nil, err
	}

	tw := csv.NewWriter(tf)
	if fi.Size() == 0 {
		if err := tw.Write(CSVHeader); err != nil {
			tf.Close()
			return nil, err
		}
		tw.Flush()
		if err := tw.Error(); err != nil {
			tf.Close()
			return nil, err
		}
	}
	return &CSVJournal{trades: tw, tf: tf}, nil
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.trades.Write([]string{
		t.Strategy,
		t.Symbol,
		t.EntryTime.Format(time.RFC3339),
		t.ExitTime.Format(time.RFC3339),
		f(t.EntryPrice),
		f(t.ExitPrice),
		strconv.Itoa(t.Quantity),
		f(t.PnL),
		t.ExitReason,
	})
	if err != nil {
		return err
	}
	j.trades.Flush()
	return j.trades.Error()
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	return j.tf.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 2, 64)
}
