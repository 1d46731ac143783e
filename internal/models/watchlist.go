package models

import (
	"strings"
	"time"
)

// DefaultWatchlist is the favorites list of a user who has never edited theirs.
var DefaultWatchlist = []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"}

// Watchlist is a user's favorite tickers in display order.
type Watchlist struct {
	UserID    string    `json:"user_id"`
	Tickers   []string  `json:"tickers"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contains reports whether ticker is on the list.
func (w *Watchlist) Contains(ticker string) bool {
	for _, t := range w.Tickers {
		if t == ticker {
			return true
		}
	}
	return false
}

// NormalizeTicker trims and upper-cases a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
