package journal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTradeOrg(t *testing.T) {
	t.Parallel()

	tr := sampleTrade()
	tr.ID = "01JAAAAAAAAAAAAAAA7QZ4XY9K"
	result := FormatTradeOrg(tr)

	assert.Contains(t, result, "** Trade: INFY LONG (7QZ4XY9K)")
	assert.Contains(t, result, ":ID: 01JAAAAAAAAAAAAAAA7QZ4XY9K")
	assert.Contains(t, result, ":STRATEGY: levels")
	assert.Contains(t, result, ":QUANTITY: 97")
	assert.Contains(t, result, ":ENTRY_PRICE: 103.00")
	assert.Contains(t, result, ":EXIT_PRICE: 105.10")
	assert.Contains(t, result, ":PNL: 203.70")
	assert.Contains(t, result, ":EXIT_REASON: TARGET")

	lines := strings.Split(result, "\n")
	require.Greater(t, len(lines), 10)
	assert.True(t, strings.HasPrefix(lines[0], "** Trade:"))
	assert.Equal(t, ":PROPERTIES:", lines[1])

	thesis := strings.Index(result, "*** Thesis")
	execution := strings.Index(result, "*** Execution")
	review := strings.Index(result, "*** Review")
	assert.Greater(t, thesis, strings.Index(result, ":END:"))
	assert.Greater(t, execution, thesis)
	assert.Greater(t, review, execution)
}

func TestFormatTradesOrg(t *testing.T) {
	t.Parallel()

	assert.Empty(t, FormatTradesOrg(nil))

	a, b := sampleTrade(), sampleTrade()
	b.Symbol = "TCS"
	result := FormatTradesOrg([]TradeRecord{a, b})
	assert.Len(t, strings.Split(result, "\n\n\n"), 2)
	assert.Contains(t, result, "TCS")

	assert.NotContains(t, FormatTradesOrg([]TradeRecord{a}), "\n\n\n")
}

func TestShortID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "short"},
		{"12345678", "12345678"},
		{"123456789", "23456789"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shortID(tt.in))
	}
}
