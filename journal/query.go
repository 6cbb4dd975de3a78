package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/daytrader/session"
)

const tradeColumns = `id, strategy, symbol, side, quantity, entry_price, exit_price, entry_time, exit_time, pnl, exit_reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var rec TradeRecord
	err := s.Scan(
		&rec.ID,
		&rec.Strategy,
		&rec.Symbol,
		&rec.Side,
		&rec.Quantity,
		&rec.EntryPrice,
		&rec.ExitPrice,
		&rec.EntryTime,
		&rec.ExitTime,
		&rec.PnL,
		&rec.ExitReason,
	)
	return rec, err
}

// GetTrade returns a single trade record by ID.
func (j *SQLiteJournal) GetTrade(ctx context.Context, tradeID string) (TradeRecord, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, tradeID)
	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeRecord{}, fmt.Errorf("trade %q not found", tradeID)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTradesClosedBetween returns trades whose exit_time is within [start, end).
func (j *SQLiteJournal) ListTradesClosedBetween(ctx context.Context, start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE exit_time >= ? AND exit_time < ?
		ORDER BY exit_time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSessions returns every stored session, oldest first.
func (j *SQLiteJournal) ListSessions(ctx context.Context) ([]session.Stats, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session_id, start_time, end_time, duration, trades, errors, pnl
		FROM sessions
		ORDER BY session_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Stats
	for rows.Next() {
		var (
			st  session.Stats
			end sql.NullTime
		)
		if err := rows.Scan(&st.SessionID, &st.StartTime, &end, &st.Duration, &st.Trades, &st.Errors, &st.PnL); err != nil {
			return nil, err
		}
		st.EndTime = end.Time
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
