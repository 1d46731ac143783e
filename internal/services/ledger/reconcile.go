package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
)

// Reconcile replays the transaction log against the stored account and
// holdings. It reports every discrepancy it finds and writes nothing.
func (s *Service) Reconcile(ctx context.Context, userID string) (*models.ReconcileReport, error) {
	var account *models.Account
	var holdings []*models.Holding
	var entries []*models.TransactionEntry
	err := s.store.View(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		if account, err = loadAccount(tx, userID); err != nil {
			return err
		}
		if holdings, err = tx.ListHoldings(userID); err != nil {
			return err
		}
		entries, err = tx.ListTransactions(userID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	report := replay(account, holdings, entries)
	if !report.Consistent {
		s.logger.Warn().
			Str("user_id", userID).
			Strs("discrepancies", report.Discrepancies).
			Msg("Ledger reconciliation found discrepancies")
	}
	return report, nil
}

// replay checks the ledger invariants over one account's records.
func replay(account *models.Account, holdings []*models.Holding, entries []*models.TransactionEntry) *models.ReconcileReport {
	report := &models.ReconcileReport{
		UserID:         account.UserID,
		OpeningBalance: account.OpeningBalance,
		ActualBalance:  account.CashBalance,
		Entries:        len(entries),
	}
	flag := func(format string, args ...interface{}) {
		report.Discrepancies = append(report.Discrepancies, fmt.Sprintf(format, args...))
	}

	expected := account.OpeningBalance
	shares := make(map[string]int64)
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			flag("entry %s has sequence %d, expected %d", e.ID, e.Sequence, i+1)
		}
		expected = expected.Add(e.Amount)

		switch e.Kind {
		case models.TxDeposit:
			if !e.Amount.IsPositive() {
				flag("deposit %s has non-positive amount %s", e.ID, e.Amount)
			}
			if e.Ticker != "" || e.Quantity != nil || e.PricePerShare != nil {
				flag("deposit %s carries trade fields", e.ID)
			}
		case models.TxBuy, models.TxSell:
			if e.Quantity == nil || e.PricePerShare == nil || e.Ticker == "" {
				flag("%s %s is missing trade fields", e.Kind, e.ID)
				continue
			}
			gross := e.PricePerShare.Mul(decimal.NewFromInt(*e.Quantity))
			if e.Kind == models.TxBuy {
				gross = gross.Neg()
				shares[e.Ticker] += *e.Quantity
			} else {
				shares[e.Ticker] -= *e.Quantity
			}
			if !e.Amount.Equal(gross) {
				flag("%s %s amount %s does not match quantity x price %s", e.Kind, e.ID, e.Amount, gross)
			}
			if shares[e.Ticker] < 0 {
				flag("%s position goes negative at entry %s", e.Ticker, e.ID)
			}
		default:
			flag("entry %s has unknown kind %q", e.ID, e.Kind)
		}
	}
	if int64(len(entries)) != account.TxCount {
		flag("account records %d entries, log has %d", account.TxCount, len(entries))
	}

	report.ExpectedBalance = expected
	if !expected.Equal(account.CashBalance) {
		flag("balance %s differs from replayed balance %s", account.CashBalance, expected)
	}
	if account.CashBalance.IsNegative() {
		flag("balance %s is negative", account.CashBalance)
	}

	stored := make(map[string]int64, len(holdings))
	for _, h := range holdings {
		stored[h.Ticker] = h.Quantity
		if h.Quantity <= 0 {
			flag("holding %s has quantity %d", h.Ticker, h.Quantity)
		}
	}
	tickers := make([]string, 0, len(shares)+len(stored))
	seen := make(map[string]bool)
	for t := range shares {
		tickers = append(tickers, t)
		seen[t] = true
	}
	for t := range stored {
		if !seen[t] {
			tickers = append(tickers, t)
		}
	}
	sort.Strings(tickers)
	for _, t := range tickers {
		if shares[t] != stored[t] {
			flag("holding %s is %d, log implies %d", t, stored[t], shares[t])
		}
	}

	report.Consistent = len(report.Discrepancies) == 0
	return report
}
