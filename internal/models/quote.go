package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a previous-close price observation for one ticker.
type Quote struct {
	Ticker    string          `json:"ticker"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceBar is one point of a historical close series.
type PriceBar struct {
	Timestamp time.Time       `json:"timestamp"`
	Close     decimal.Decimal `json:"close"`
}

// TickerInfo is a ticker search result.
type TickerInfo struct {
	Ticker          string `json:"ticker"`
	Name            string `json:"name"`
	Market          string `json:"market"`
	Locale          string `json:"locale"`
	PrimaryExchange string `json:"primary_exchange,omitempty"`
	Type            string `json:"type,omitempty"`
	Active          bool   `json:"active"`
	CurrencyName    string `json:"currency_name,omitempty"`
}

// Timespan is the aggregate bar granularity.
type Timespan string

const (
	TimespanMinute Timespan = "minute"
	TimespanHour   Timespan = "hour"
	TimespanDay    Timespan = "day"
)

// ChartRange selects a price-history window.
type ChartRange string

const (
	Range1D ChartRange = "1D"
	Range5D ChartRange = "5D"
	Range1M ChartRange = "1M"
	Range1Y ChartRange = "1Y"
	Range5Y ChartRange = "5Y"
)

// ChartRanges lists the supported ranges in display order.
var ChartRanges = []ChartRange{Range1D, Range5D, Range1M, Range1Y, Range5Y}

// RangeSpec describes how a chart range maps onto an aggregate query.
type RangeSpec struct {
	DaysBack   int
	Timespan   Timespan
	Multiplier int
	Freshness  time.Duration
}

var rangeSpecs = map[ChartRange]RangeSpec{
	Range1D: {DaysBack: 0, Timespan: TimespanMinute, Multiplier: 5, Freshness: 5 * time.Minute},
	Range5D: {DaysBack: 5, Timespan: TimespanHour, Multiplier: 1, Freshness: time.Hour},
	Range1M: {DaysBack: 30, Timespan: TimespanDay, Multiplier: 1, Freshness: 24 * time.Hour},
	Range1Y: {DaysBack: 365, Timespan: TimespanDay, Multiplier: 1, Freshness: 24 * time.Hour},
	Range5Y: {DaysBack: 1825, Timespan: TimespanDay, Multiplier: 5, Freshness: 24 * time.Hour},
}

// ParseChartRange normalizes s into a known range. "today" is accepted for 1D.
func ParseChartRange(s string) (ChartRange, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "TODAY" {
		return Range1D, true
	}
	r := ChartRange(s)
	_, ok := rangeSpecs[r]
	return r, ok
}

// Spec returns the aggregate query parameters for the range.
func (r ChartRange) Spec() RangeSpec {
	if spec, ok := rangeSpecs[r]; ok {
		return spec
	}
	return rangeSpecs[Range1M]
}

// Window returns the [from, to] dates for the range ending at now.
func (r ChartRange) Window(now time.Time) (time.Time, time.Time) {
	return now.AddDate(0, 0, -r.Spec().DaysBack), now
}

// PriceHistory is a cached close series for one (ticker, range).
type PriceHistory struct {
	Ticker    string     `json:"ticker"`
	Range     ChartRange `json:"range"`
	Bars      []PriceBar `json:"bars"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ChartStats summarises a price series.
type ChartStats struct {
	FirstClose    decimal.Decimal `json:"first_close"`
	LastClose     decimal.Decimal `json:"last_close"`
	PriceChange   decimal.Decimal `json:"price_change"`
	PercentChange decimal.Decimal `json:"percent_change"`
}

// Stats computes change figures from the first to the last bar.
func (h *PriceHistory) Stats() ChartStats {
	if len(h.Bars) == 0 {
		return ChartStats{}
	}
	first := h.Bars[0].Close
	last := h.Bars[len(h.Bars)-1].Close
	stats := ChartStats{
		FirstClose:  first,
		LastClose:   last,
		PriceChange: last.Sub(first),
	}
	if !first.IsZero() {
		stats.PercentChange = stats.PriceChange.Div(first).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return stats
}

// QuoteBatch is the result of a concurrent multi-ticker fetch. Tickers that
// failed are present in Failed and absent from Quotes.
type QuoteBatch struct {
	Quotes map[string]*Quote `json:"quotes"`
	Failed map[string]string `json:"failed,omitempty"`
}

// Price returns the close for ticker if it was quoted.
func (b *QuoteBatch) Price(ticker string) (decimal.Decimal, bool) {
	if b == nil {
		return decimal.Zero, false
	}
	q, ok := b.Quotes[ticker]
	if !ok || q == nil {
		return decimal.Zero, false
	}
	return q.Close, true
}
