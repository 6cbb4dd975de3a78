package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrade() TradeRecord {
	return TradeRecord{
		ID:         "01JTRADE",
		Strategy:   "levels",
		Symbol:     "INFY",
		Side:       "LONG",
		Quantity:   97,
		EntryPrice: 103,
		ExitPrice:  105.1,
		EntryTime:  time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC),
		ExitTime:   time.Date(2026, 10, 19, 11, 30, 0, 0, time.UTC),
		PnL:        203.7,
		ExitReason: "TARGET",
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournalHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "trades.csv")
	j, err := NewCSV(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{
		"strategy", "symbol", "entry_time", "exit_time",
		"entry_price", "exit_price", "quantity", "pnl", "exit_reason",
	}, rows[0])
}

func TestCSVJournalRecordTrade(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trades.csv")
	j, err := NewCSV(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordTrade(sampleTrade()))
	require.NoError(t, j.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		"levels", "INFY", "2026-10-19T10:00:00Z", "2026-10-19T11:30:00Z",
		"103.00", "105.10", "97", "203.70", "TARGET",
	}, rows[1])
}

func TestCSVJournalAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trades.csv")
	for i := 0; i < 2; i++ {
		j, err := NewCSV(path)
		require.NoError(t, err)
		require.NoError(t, j.RecordTrade(sampleTrade()))
		require.NoError(t, j.Close())
	}

	rows := readCSV(t, path)
	assert.Len(t, rows, 3, "one header and two trades")
}

func TestNewCSVNeedsPath(t *testing.T) {
	t.Parallel()

	_, err := NewCSV("")
	assert.Error(t, err)
}
