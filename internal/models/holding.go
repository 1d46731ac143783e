package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a non-zero quantity of one ticker owned by one account.
// A holding is deleted, never stored, when its quantity reaches zero.
type Holding struct {
	UserID      string          `json:"user_id"`
	Ticker      string          `json:"ticker"`
	Quantity    int64           `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CostBasis returns quantity x average cost.
func (h *Holding) CostBasis() decimal.Decimal {
	return h.AverageCost.Mul(decimal.NewFromInt(h.Quantity))
}

// HoldingValuation is one line of a portfolio valuation.
type HoldingValuation struct {
	Ticker      string           `json:"ticker"`
	Quantity    int64            `json:"quantity"`
	AverageCost decimal.Decimal  `json:"average_cost"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	MarketValue *decimal.Decimal `json:"market_value,omitempty"`
	Unavailable bool             `json:"unavailable,omitempty"`
}

// PortfolioValuation combines holdings with quotes. Holdings whose quote is
// unavailable are listed but excluded from HoldingsValue.
type PortfolioValuation struct {
	UserID        string             `json:"user_id"`
	CashBalance   decimal.Decimal    `json:"cash_balance"`
	HoldingsValue decimal.Decimal    `json:"holdings_value"`
	TotalValue    decimal.Decimal    `json:"total_value"`
	Holdings      []HoldingValuation `json:"holdings"`
	Unpriced      []string           `json:"unpriced,omitempty"`
	ValuedAt      time.Time          `json:"valued_at"`
}

// Complete reports whether every holding was priced.
func (p *PortfolioValuation) Complete() bool {
	return len(p.Unpriced) == 0
}
