package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/daytrader/session"
)

// SQLiteJournal stores trades and session stats in one database file.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("db path not set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(id, strategy, symbol, side, quantity, entry_price, exit_price, entry_time, exit_time, pnl, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Strategy, t.Symbol, t.Side, t.Quantity, t.EntryPrice,
		t.ExitPrice, t.EntryTime.UTC(), t.ExitTime.UTC(), t.PnL, t.ExitReason,
	)
	return err
}

// SaveSession upserts a session row keyed by session ID.
func (j *SQLiteJournal) SaveSession(ctx context.Context, st session.Stats) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
		(session_id, start_time, end_time, duration, trades, errors, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.SessionID, st.StartTime.UTC(), st.EndTime.UTC(), st.Duration, st.Trades, st.Errors, Money(st.PnL),
	)
	return err
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
