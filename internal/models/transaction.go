package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is the type of a ledger entry.
type TransactionKind string

const (
	TxDeposit TransactionKind = "deposit"
	TxBuy     TransactionKind = "buy"
	TxSell    TransactionKind = "sell"
)

// ValidTransactionKind returns true if k is a known ledger entry kind.
func ValidTransactionKind(k TransactionKind) bool {
	switch k {
	case TxDeposit, TxBuy, TxSell:
		return true
	}
	return false
}

// TransactionEntry is an immutable ledger record. Amount is signed: positive
// for deposits and sells, negative for buys.
type TransactionEntry struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Sequence      int64            `json:"sequence"`
	Kind          TransactionKind  `json:"kind"`
	Amount        decimal.Decimal  `json:"amount"`
	Ticker        string           `json:"ticker,omitempty"`
	Quantity      *int64           `json:"quantity,omitempty"`
	PricePerShare *decimal.Decimal `json:"price_per_share,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Description renders the entry for display, e.g. "Bought 5 shares of AAPL at $150.00".
func (e *TransactionEntry) Description() string {
	switch e.Kind {
	case TxDeposit:
		return "Deposited " + FormatUSD(e.Amount)
	case TxBuy, TxSell:
		verb := "Bought"
		if e.Kind == TxSell {
			verb = "Sold"
		}
		var qty int64
		if e.Quantity != nil {
			qty = *e.Quantity
		}
		price := decimal.Zero
		if e.PricePerShare != nil {
			price = *e.PricePerShare
		}
		return fmt.Sprintf("%s %d shares of %s at %s", verb, qty, e.Ticker, FormatUSD(price))
	}
	return string(e.Kind)
}

// TransactionView is the JSON shape returned to API callers.
type TransactionView struct {
	TransactionEntry
	Description string `json:"description"`
}

// NewTransactionView attaches the display description to an entry.
func NewTransactionView(e *TransactionEntry) TransactionView {
	return TransactionView{TransactionEntry: *e, Description: e.Description()}
}

// TransactionListOptions filters a transaction query.
type TransactionListOptions struct {
	Kind   TransactionKind
	Ticker string
	Limit  int
}
