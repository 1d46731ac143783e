// Package ledger provides the portfolio ledger engine: the sole mutator of
// cash balances, holdings and the transaction log.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
)

// Compile-time interface check
var _ interfaces.LedgerService = (*Service)(nil)

// Service implements LedgerService
type Service struct {
	store           interfaces.LedgerStore
	events          *Broadcaster
	logger          *common.Logger
	startingBalance decimal.Decimal

	muMap map[string]*sync.Mutex
	mapMu sync.Mutex

	now   func() time.Time // injectable clock for testing
	newID func() string
}

// Option configures the service
type Option func(*Service)

// WithStartingBalance sets the cash balance of newly opened accounts.
func WithStartingBalance(balance decimal.Decimal) Option {
	return func(s *Service) {
		if !balance.IsNegative() {
			s.startingBalance = balance
		}
	}
}

// NewService creates a new ledger service. events may be nil.
func NewService(store interfaces.LedgerStore, events *Broadcaster, logger *common.Logger, opts ...Option) *Service {
	s := &Service{
		store:           store,
		events:          events,
		logger:          logger,
		startingBalance: models.DefaultStartingBalance,
		muMap:           make(map[string]*sync.Mutex),
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the broadcaster mutations are published on.
func (s *Service) Events() *Broadcaster {
	return s.events
}

// lockAccount serializes mutations for one user.
func (s *Service) lockAccount(userID string) func() {
	s.mapMu.Lock()
	mu, ok := s.muMap[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.muMap[userID] = mu
	}
	s.mapMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// classify passes business-rule and cancellation errors through and wraps
// everything else as a persistence failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range []error{
		models.ErrInvalidAmount,
		models.ErrInsufficientFunds,
		models.ErrNoSuchHolding,
		models.ErrInsufficientShares,
		models.ErrAccountNotFound,
		models.ErrNotGuestAccount,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", models.ErrPersistence, err)
}

func loadAccount(tx interfaces.LedgerTx, userID string) (*models.Account, error) {
	account, err := tx.GetAccount(userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: '%s'", models.ErrAccountNotFound, userID)
	}
	return account, err
}

// nextEntry allocates the next sequence number on account and builds an entry.
func (s *Service) nextEntry(account *models.Account, kind models.TransactionKind, amount decimal.Decimal) *models.TransactionEntry {
	account.TxCount++
	return &models.TransactionEntry{
		ID:        s.newID(),
		UserID:    account.UserID,
		Sequence:  account.TxCount,
		Kind:      kind,
		Amount:    amount,
		Timestamp: s.now(),
	}
}

func validateTrade(ticker string, quantity int64, price decimal.Decimal) (string, error) {
	ticker = models.NormalizeTicker(ticker)
	if ticker == "" {
		return "", fmt.Errorf("%w: ticker is required", models.ErrInvalidAmount)
	}
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive, got %d", models.ErrInvalidAmount, quantity)
	}
	if price.IsNegative() {
		return "", fmt.Errorf("%w: price per share must not be negative, got %s", models.ErrInvalidAmount, price)
	}
	return ticker, nil
}

// --- Accounts ---

// OpenAccount returns the existing account for account.UserID, or creates
// it with the starting balance. Balance fields on the argument are ignored.
func (s *Service) OpenAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account == nil || account.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	unlock := s.lockAccount(account.UserID)
	defer unlock()

	var result *models.Account
	created := false
	err := s.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		existing, err := tx.GetAccount(account.UserID)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		fresh := *account
		fresh.CashBalance = s.startingBalance
		fresh.OpeningBalance = s.startingBalance
		fresh.TxCount = 0
		fresh.CreatedAt = s.now()
		if err := tx.PutAccount(&fresh); err != nil {
			return err
		}
		result = &fresh
		created = true
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if created {
		s.logger.Info().
			Str("user_id", result.UserID).
			Str("role", string(result.Role)).
			Str("balance", result.CashBalance.StringFixed(2)).
			Msg("Account opened")
		s.events.Publish(models.LedgerEvent{Type: models.EventAccountOpened, UserID: result.UserID, Balance: result.CashBalance, At: s.now()})
	}
	return result, nil
}

// GetAccount returns the stored account.
func (s *Service) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var account *models.Account
	err := s.store.View(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		account, err = loadAccount(tx, userID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return account, nil
}

// UpdateProfile refreshes the profile snapshot without touching the balance.
func (s *Service) UpdateProfile(ctx context.Context, userID string, profile *models.Profile) (*models.Account, error) {
	unlock := s.lockAccount(userID)
	defer unlock()

	var account *models.Account
	err := s.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		account, err = loadAccount(tx, userID)
		if err != nil {
			return err
		}
		account.ApplyProfile(profile)
		return tx.PutAccount(account)
	})
	if err != nil {
		return nil, classify(err)
	}
	return account, nil
}

// DeleteAccount removes a guest account with its holdings, transactions and
// watchlist in one transaction. Non-guest accounts are never deleted.
// Orphaned records of a missing account are cleaned up.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	unlock := s.lockAccount(userID)
	defer unlock()

	var holdings, entries int
	existed := false
	err := s.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		account, err := tx.GetAccount(userID)
		existed = err == nil
		if err == nil && !account.IsGuest() {
			return fmt.Errorf("%w: '%s'", models.ErrNotGuestAccount, userID)
		}
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		if holdings, err = tx.DeleteHoldings(userID); err != nil {
			return err
		}
		if entries, err = tx.DeleteTransactions(userID); err != nil {
			return err
		}
		if err := tx.DeleteWatchlist(userID); err != nil {
			return err
		}
		return tx.DeleteAccount(userID)
	})
	if err != nil {
		return classify(err)
	}
	if !existed && holdings == 0 && entries == 0 {
		return nil
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("holdings", holdings).
		Int("transactions", entries).
		Msg("Guest account deleted")
	s.events.Publish(models.LedgerEvent{Type: models.EventAccountDeleted, UserID: userID, At: s.now()})
	return nil
}

// --- Mutations ---

// Deposit credits amount to the account and returns the new balance.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: deposit must be greater than zero, got %s", models.ErrInvalidAmount, amount)
	}
	unlock := s.lockAccount(userID)
	defer unlock()

	var account *models.Account
	var entry *models.TransactionEntry
	err := s.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		if account, err = loadAccount(tx, userID); err != nil {
			return err
		}
		account.CashBalance = account.CashBalance.Add(amount)
		entry = s.nextEntry(account, models.TxDeposit, amount)
		if err := tx.AppendTransaction(entry); err != nil {
			return err
		}
		return tx.PutAccount(account)
	})
	if err != nil {
		return decimal.Zero, classify(err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("amount", amount.StringFixed(2)).
		Str("balance", account.CashBalance.StringFixed(2)).
		Msg("Deposit recorded")
	s.events.Publish(models.LedgerEvent{Type: models.EventDeposit, UserID: userID, Balance: account.CashBalance, Entry: entry, At: entry.Timestamp})
	return account.CashBalance, nil
}

// Buy debits quantity x pricePerShare and adds the shares to the holding.
func (s *Service) Buy(ctx context.Context, userID, ticker string, quantity int64, pricePerShare decimal.Decimal) (decimal.Decimal, error) {
	ticker, err := validateTrade(ticker, quantity, pricePerShare)
	if err != nil {
		return decimal.Zero, err
	}
	cost := pricePerShare.Mul(decimal.NewFromInt(quantity))

	unlock := s.lockAccount(userID)
	defer unlock()

	var account *models.Account
	var holding *models.Holding
	var entry *models.TransactionEntry
	err = s.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		if account, err = loadAccount(tx, userID); err != nil {
			return err
		}
		if account.CashBalance.LessThan(cost) {
			return fmt.Errorf("%w: %d %s costs %s, balance is %s", models.ErrInsufficientFunds,
				quantity, ticker, models.FormatUSD(cost), models.FormatUSD(account.CashBalance))
		}

		holding, err = tx.GetHolding(userID, ticker)
		if errors.Is(err, models.ErrNotFound) {
			holding = &models.Holding{UserID: userID, Ticker: ticker}
		} else if err != nil {
			return err
		}
		if holding.Quantity > math.MaxInt64-quantity {
			return fmt.Errorf("%w: quantity overflows holding", models.ErrInvalidAmount)
		}
		basis := holding.CostBasis().Add(cost)
		holding.Quantity += quantity
		holding.AverageCost = basis.Div(decimal.NewFromInt(holding.Quantity)).Round(4)

		account.CashBalance = account.CashBalance.Sub(cost)
		entry = s.nextEntry(account, models.TxBuy, cost.Neg())
		entry.Ticker = ticker
		entry.Quantity = &quantity
		entry.PricePerShare = &pricePerShare

		if err := tx.PutHolding(holding); err != nil {
			return err
		}
		if err := tx.AppendTransaction(entry); err != nil {
			return err
		}
		return tx.PutAccount(account)
	})
	if err != nil {
		return decimal.Zero, classify(err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("ticker", ticker).
		Int64("quantity", quantity).
		Str("price", pricePerShare.StringFixed(2)).
		Str("balance", account.CashBalance.StringFixed(2)).
		Msg("Buy recorded")
	s.events.Publish(models.LedgerEvent{Type: models.EventBuy, UserID: userID, Balance: account.CashBalance, Entry: entry, Holding: holding, At: entry.Timestamp})
	return account.CashBalance, nil
}

// Sell removes shares from the holding and credits the proceeds. A holding
// that reaches zero is deleted.
func (s *Service) Sell(ctx context.Context, userID, ticker string, quantity int64, pricePerShare decimal.Decimal) (decimal.Decimal, error) {
	ticker, err := validateTrade(ticker, quantity, pricePerShare)
	if err != nil {
		return decimal.Zero, err
	}
	proceeds := pricePerShare.Mul(decimal.NewFromInt(quantity))

	unlock := s.lockAccount(userID)
	defer unlock()

	var account *models.Account
	var holding *models.Holding
	var entry *models.TransactionEntry
	err = s.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		if account, err = loadAccount(tx, userID); err != nil {
			return err
		}
		holding, err = tx.GetHolding(userID, ticker)
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: no %s shares held", models.ErrNoSuchHolding, ticker)
		}
		if err != nil {
			return err
		}
		if quantity > holding.Quantity {
			return fmt.Errorf("%w: selling %d %s, holding %d", models.ErrInsufficientShares, quantity, ticker, holding.Quantity)
		}

		holding.Quantity -= quantity
		account.CashBalance = account.CashBalance.Add(proceeds)
		entry = s.nextEntry(account, models.TxSell, proceeds)
		entry.Ticker = ticker
		entry.Quantity = &quantity
		entry.PricePerShare = &pricePerShare

		if holding.Quantity == 0 {
			err = tx.DeleteHolding(userID, ticker)
		} else {
			err = tx.PutHolding(holding)
		}
		if err != nil {
			return err
		}
		if err := tx.AppendTransaction(entry); err != nil {
			return err
		}
		return tx.PutAccount(account)
	})
	if err != nil {
		return decimal.Zero, classify(err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("ticker", ticker).
		Int64("quantity", quantity).
		Str("price", pricePerShare.StringFixed(2)).
		Str("balance", account.CashBalance.StringFixed(2)).
		Msg("Sell recorded")
	s.events.Publish(models.LedgerEvent{Type: models.EventSell, UserID: userID, Balance: account.CashBalance, Entry: entry, Holding: holding, At: entry.Timestamp})
	return account.CashBalance, nil
}

// --- Queries ---

// Holdings returns the user's holdings ordered by ticker.
func (s *Service) Holdings(ctx context.Context, userID string) ([]*models.Holding, error) {
	var holdings []*models.Holding
	err := s.store.View(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		holdings, err = tx.ListHoldings(userID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return holdings, nil
}

// Transactions returns the user's entries, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, opts models.TransactionListOptions) ([]*models.TransactionEntry, error) {
	var entries []*models.TransactionEntry
	err := s.store.View(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		entries, err = tx.ListTransactions(userID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	ticker := models.NormalizeTicker(opts.Ticker)
	result := make([]*models.TransactionEntry, 0, len(entries))
	for _, e := range entries {
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		if ticker != "" && e.Ticker != ticker {
			continue
		}
		result = append(result, e)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Sequence > result[j].Sequence })
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ValuePortfolio prices each holding through lookup. Holdings without a
// quote are flagged and left out of the totals.
func (s *Service) ValuePortfolio(ctx context.Context, userID string, lookup interfaces.QuoteLookup) (*models.PortfolioValuation, error) {
	var account *models.Account
	var holdings []*models.Holding
	err := s.store.View(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		if account, err = loadAccount(tx, userID); err != nil {
			return err
		}
		holdings, err = tx.ListHoldings(userID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	valuation := &models.PortfolioValuation{
		UserID:        userID,
		CashBalance:   account.CashBalance,
		HoldingsValue: decimal.Zero,
		Holdings:      make([]models.HoldingValuation, 0, len(holdings)),
		ValuedAt:      s.now(),
	}
	for _, h := range holdings {
		line := models.HoldingValuation{Ticker: h.Ticker, Quantity: h.Quantity, AverageCost: h.AverageCost}
		var price decimal.Decimal
		ok := false
		if lookup != nil {
			price, ok = lookup(h.Ticker)
		}
		if !ok {
			line.Unavailable = true
			valuation.Unpriced = append(valuation.Unpriced, h.Ticker)
		} else {
			value := price.Mul(decimal.NewFromInt(h.Quantity))
			line.Price = &price
			line.MarketValue = &value
			valuation.HoldingsValue = valuation.HoldingsValue.Add(value)
		}
		valuation.Holdings = append(valuation.Holdings, line)
	}
	valuation.TotalValue = valuation.CashBalance.Add(valuation.HoldingsValue)
	return valuation, nil
}
