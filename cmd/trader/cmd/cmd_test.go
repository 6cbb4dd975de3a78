package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/daytrader/journal"
	"github.com/rustyeddy/daytrader/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns its output. Flag
// globals persist between runs, so callers pass every flag they rely on.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, envFile, journalDBPath = "", ".env", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDayBounds(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	start, end, err := dayBounds(loc, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, loc), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	_, _, err = dayBounds(loc, "19/10/2026")
	assert.Error(t, err)
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daytrader.yaml")

	out, err := execute(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Created default configuration")
	assert.FileExists(t, path)

	out, err = execute(t, "config", "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration valid")
	assert.Contains(t, out, "Mode: PAPER (Asia/Kolkata)")
	assert.Contains(t, out, "Strategy: levels (levels, enabled) [RELIANCE INFY]")
}

func TestConfigValidateMissingFile(t *testing.T) {
	_, err := execute(t, "config", "validate", "-f", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestJournalQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.sqlite")
	j, err := journal.NewSQLite(path)
	require.NoError(t, err)

	// 10:30 IST on the 19th
	exit := time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(journal.TradeRecord{
		ID:         "01JAAAAAAAAAAAAAAA7QZ4XY9K",
		Strategy:   "levels",
		Symbol:     "INFY",
		Side:       "LONG",
		Quantity:   10,
		EntryPrice: 100,
		ExitPrice:  110,
		EntryTime:  exit.Add(-time.Hour),
		ExitTime:   exit,
		PnL:        100,
		ExitReason: "TARGET",
	}))
	require.NoError(t, j.SaveSession(t.Context(), session.Stats{
		SessionID: "SESSION_20261019",
		StartTime: time.Date(2026, 10, 19, 3, 45, 0, 0, time.UTC),
		Trades:    1,
		PnL:       100,
	}))
	require.NoError(t, j.Close())

	out, err := execute(t, "journal", "day", "2026-10-19", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "** Trade: INFY LONG (7QZ4XY9K)")

	out, err = execute(t, "journal", "day", "2026-10-20", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "no trades closed on 2026-10-20")

	out, err = execute(t, "journal", "trade", "01JAAAAAAAAAAAAAAA7QZ4XY9K", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, ":EXIT_REASON: TARGET")

	out, err = execute(t, "journal", "sessions", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SESSION_20261019  start=2026-10-19 09:15:00 end=- trades=1 errors=0 pnl=100.00")

	_, err = execute(t, "journal", "trade", "missing", "--db", path)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "trader version "+version)
}
