package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEventType identifies what changed.
type LedgerEventType string

const (
	EventAccountOpened  LedgerEventType = "account_opened"
	EventDeposit        LedgerEventType = "deposit"
	EventBuy            LedgerEventType = "buy"
	EventSell           LedgerEventType = "sell"
	EventAccountDeleted LedgerEventType = "account_deleted"
)

// LedgerEvent is published after a ledger mutation has committed.
type LedgerEvent struct {
	Type    LedgerEventType   `json:"type"`
	UserID  string            `json:"user_id"`
	Balance decimal.Decimal   `json:"balance"`
	Entry   *TransactionEntry `json:"entry,omitempty"`
	Holding *Holding          `json:"holding,omitempty"`
	At      time.Time         `json:"at"`
}

// ReconcileReport is the result of replaying an account's transaction log.
type ReconcileReport struct {
	UserID          string          `json:"user_id"`
	Consistent      bool            `json:"consistent"`
	OpeningBalance  decimal.Decimal `json:"opening_balance"`
	ExpectedBalance decimal.Decimal `json:"expected_balance"`
	ActualBalance   decimal.Decimal `json:"actual_balance"`
	Entries         int             `json:"entries"`
	Discrepancies   []string        `json:"discrepancies,omitempty"`
}
