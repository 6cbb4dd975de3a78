package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/daytrader/session"
)

func newTestSQLite(t *testing.T) (*SQLiteJournal, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('trades','sessions')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["sessions"])
}

func TestSQLiteRecordAndGetTrade(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })
	ctx := context.Background()

	want := sampleTrade()
	require.NoError(t, j.RecordTrade(want))

	got, err := j.GetTrade(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Strategy, got.Strategy)
	assert.Equal(t, want.Symbol, got.Symbol)
	assert.Equal(t, want.Side, got.Side)
	assert.Equal(t, want.Quantity, got.Quantity)
	assert.InDelta(t, want.EntryPrice, got.EntryPrice, 1e-9)
	assert.InDelta(t, want.ExitPrice, got.ExitPrice, 1e-9)
	assert.InDelta(t, want.PnL, got.PnL, 1e-9)
	assert.True(t, want.EntryTime.Equal(got.EntryTime))
	assert.True(t, want.ExitTime.Equal(got.ExitTime))
	assert.Equal(t, want.ExitReason, got.ExitReason)

	_, err = j.GetTrade(ctx, "missing")
	assert.ErrorContains(t, err, "not found")

	assert.Error(t, j.RecordTrade(want), "duplicate id")
}

func TestSQLiteListTradesClosedBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	base := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"C", "A", "B"} {
		rec := sampleTrade()
		rec.ID = id
		rec.ExitTime = base.Add(time.Duration(2-i) * time.Hour)
		require.NoError(t, j.RecordTrade(rec))
	}

	got, err := j.ListTradesClosedBetween(context.Background(), base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].ID)
	assert.Equal(t, "A", got[1].ID)
}

func TestSQLiteSessions(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })
	ctx := context.Background()

	start := time.Date(2026, 10, 19, 9, 15, 0, 0, time.UTC)
	st := session.Stats{SessionID: "20261019", StartTime: start, EndTime: start.Add(6 * time.Hour),
		Duration: 6, Trades: 3, Errors: 1, PnL: 120.456}
	require.NoError(t, j.SaveSession(ctx, st))

	st.Trades = 4
	require.NoError(t, j.SaveSession(ctx, st), "same session id replaces the row")

	got, err := j.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Trades)
	assert.InDelta(t, 120.46, got[0].PnL, 1e-9)
	assert.True(t, st.EndTime.Equal(got[0].EndTime))
}
