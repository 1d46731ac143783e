package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0.00"},
		{"150", "$150.00"},
		{"1500.5", "$1,500.50"},
		{"0.005", "$0.01"},
		{"-250", "-$250.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUSD(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestTransactionEntry_Description(t *testing.T) {
	qty := int64(5)
	price := decimal.RequireFromString("150")

	deposit := &TransactionEntry{Kind: TxDeposit, Amount: decimal.NewFromInt(500)}
	assert.Equal(t, "Deposited $500.00", deposit.Description())

	buy := &TransactionEntry{Kind: TxBuy, Ticker: "AAPL", Quantity: &qty, PricePerShare: &price, Amount: decimal.NewFromInt(-750)}
	assert.Equal(t, "Bought 5 shares of AAPL at $150.00", buy.Description())

	sell := &TransactionEntry{Kind: TxSell, Ticker: "AAPL", Quantity: &qty, PricePerShare: &price, Amount: decimal.NewFromInt(750)}
	assert.Equal(t, "Sold 5 shares of AAPL at $150.00", sell.Description())
}

func TestParseChartRange(t *testing.T) {
	r, ok := ParseChartRange("today")
	assert.True(t, ok)
	assert.Equal(t, Range1D, r)

	r, ok = ParseChartRange(" 5y ")
	assert.True(t, ok)
	assert.Equal(t, Range5Y, r)

	_, ok = ParseChartRange("10Y")
	assert.False(t, ok)
}

func TestChartRange_Spec(t *testing.T) {
	assert.Equal(t, RangeSpec{DaysBack: 0, Timespan: TimespanMinute, Multiplier: 5, Freshness: 5 * time.Minute}, Range1D.Spec())
	assert.Equal(t, TimespanHour, Range5D.Spec().Timespan)
	assert.Equal(t, 5, Range5Y.Spec().Multiplier)

	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	from, to := Range1M.Window(now)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), from)
	assert.Equal(t, now, to)
}

func TestPriceHistory_Stats(t *testing.T) {
	h := &PriceHistory{Bars: []PriceBar{
		{Close: decimal.NewFromInt(100)},
		{Close: decimal.NewFromInt(95)},
		{Close: decimal.NewFromInt(110)},
	}}
	stats := h.Stats()
	assert.True(t, stats.PriceChange.Equal(decimal.NewFromInt(10)))
	assert.True(t, stats.PercentChange.Equal(decimal.NewFromInt(10)))

	empty := &PriceHistory{}
	assert.True(t, empty.Stats().PriceChange.IsZero())
}

func TestQuoteBatch_Price(t *testing.T) {
	b := &QuoteBatch{Quotes: map[string]*Quote{"AAPL": {Ticker: "AAPL", Close: decimal.NewFromInt(150)}}}
	p, ok := b.Price("AAPL")
	assert.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(150)))

	_, ok = b.Price("TSLA")
	assert.False(t, ok)

	var nilBatch *QuoteBatch
	_, ok = nilBatch.Price("AAPL")
	assert.False(t, ok)
}

func TestApplyProfile_RoleNeverCrossesGuest(t *testing.T) {
	tenant := &Account{UserID: "u1", Role: RoleTenant}
	tenant.ApplyProfile(&Profile{UserID: "u1", Username: "alice", Role: RoleGuest})
	assert.Equal(t, RoleTenant, tenant.Role)
	assert.Equal(t, "alice", tenant.Username)

	tenant.ApplyProfile(&Profile{UserID: "u1", Role: RoleLandlord})
	assert.Equal(t, RoleLandlord, tenant.Role)

	guest := &Account{UserID: "g1", Role: RoleGuest}
	guest.ApplyProfile(&Profile{UserID: "g1", Role: RoleTenant})
	assert.Equal(t, RoleGuest, guest.Role)
	assert.True(t, guest.IsGuest())
}
