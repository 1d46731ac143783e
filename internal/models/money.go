package models

import (
	money "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatUSD renders a decimal amount as US dollars, rounded to cents.
func FormatUSD(d decimal.Decimal) string {
	cents := d.Shift(2).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}
