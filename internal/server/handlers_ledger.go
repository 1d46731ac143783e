package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kylekaufman/papertrade/internal/models"
)

// --- Account handlers ---

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := s.activeUser(w, r)
	if !ok {
		return
	}
	account, err := s.app.LedgerService.GetAccount(r.Context(), userID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID, ok := s.activeUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	balance, err := s.app.LedgerService.Deposit(r.Context(), userID, req.Amount)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      userID,
		"cash_balance": balance,
	})
}

// --- Trades ---

// tradeRequest is the body of buy and sell. When price_per_share is omitted
// the latest previous-close quote is used.
type tradeRequest struct {
	Ticker        string           `json:"ticker"`
	Quantity      int64            `json:"quantity"`
	PricePerShare *decimal.Decimal `json:"price_per_share,omitempty"`
}

type tradeResponse struct {
	UserID        string          `json:"user_id"`
	Ticker        string          `json:"ticker"`
	Quantity      int64           `json:"quantity"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, models.TxBuy)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, models.TxSell)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request, kind models.TransactionKind) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID, ok := s.activeUser(w, r)
	if !ok {
		return
	}
	var req tradeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	ticker := models.NormalizeTicker(req.Ticker)

	if kind == models.TxSell && req.PricePerShare == nil && req.Quantity > 0 {
		// Report a missing holding before depending on the quote provider.
		if err := s.checkHolding(r, userID, ticker, req.Quantity); err != nil {
			WriteServiceError(w, err)
			return
		}
	}

	var price decimal.Decimal
	if req.PricePerShare != nil {
		price = *req.PricePerShare
	} else {
		q, err := s.app.QuoteService.GetQuote(r.Context(), ticker)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		price = q.Close
	}

	var balance decimal.Decimal
	var err error
	if kind == models.TxBuy {
		balance, err = s.app.LedgerService.Buy(r.Context(), userID, ticker, req.Quantity, price)
	} else {
		balance, err = s.app.LedgerService.Sell(r.Context(), userID, ticker, req.Quantity, price)
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, tradeResponse{
		UserID:        userID,
		Ticker:        ticker,
		Quantity:      req.Quantity,
		PricePerShare: price,
		CashBalance:   balance,
	})
}

// checkHolding fails with ErrNoSuchHolding or ErrInsufficientShares when a
// sell of quantity shares cannot succeed. The ledger re-checks on commit.
func (s *Server) checkHolding(r *http.Request, userID, ticker string, quantity int64) error {
	holdings, err := s.app.LedgerService.Holdings(r.Context(), userID)
	if err != nil {
		return err
	}
	for _, h := range holdings {
		if h.Ticker != ticker {
			continue
		}
		if quantity > h.Quantity {
			return fmt.Errorf("%w: cannot sell %d shares of %s, holding %d", models.ErrInsufficientShares, quantity, ticker, h.Quantity)
		}
		return nil
	}
	return fmt.Errorf("%w: no %s shares held", models.ErrNoSuchHolding, ticker)
}

// --- Holdings and the transaction log ---

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := s.activeUser(w, r)
	if !ok {
		return
	}
	holdings, err := s.app.LedgerService.Holdings(r.Context(), userID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"holdings": holdings,
	})
}

// handleTransactions handles GET /api/transactions?kind=&ticker=&limit=.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := s.activeUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	opts := models.TransactionListOptions{
		Kind:   models.TransactionKind(strings.ToLower(q.Get("kind"))),
		Ticker: models.NormalizeTicker(q.Get("ticker")),
	}
	if opts.Kind != "" && !models.ValidTransactionKind(opts.Kind) {
		WriteErrorWithCode(w, http.StatusBadRequest, "kind must be deposit, buy or sell", "invalid_request")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteErrorWithCode(w, http.StatusBadRequest, "limit must be a non-negative integer", "invalid_request")
			return
		}
		opts.Limit = limit
	}

	entries, err := s.app.LedgerService.Transactions(r.Context(), userID, opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	views := make([]models.TransactionView, 0, len(entries))
	for _, e := range entries {
		views = append(views, models.NewTransactionView(e))
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": views,
	})
}

// --- Portfolio ---

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := s.activeUser(w, r)
	if !ok {
		return
	}
	valuation, err := s.app.PortfolioService.Snapshot(r.Context(), userID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, valuation)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := s.activeUser(w, r)
	if !ok {
		return
	}
	report, err := s.app.LedgerService.Reconcile(r.Context(), userID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
