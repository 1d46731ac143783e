package server

import (
	"net/http"
	"strings"

	"github.com/kylekaufman/papertrade/internal/models"
)

// --- Market data handlers ---

// handleQuotes handles GET /api/quotes?tickers=AAPL,MSFT. Tickers that fail
// to quote are reported under "failed" and do not fail the request.
func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	raw := r.URL.Query().Get("tickers")
	if strings.TrimSpace(raw) == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "tickers parameter is required", "invalid_request")
		return
	}
	batch, err := s.app.QuoteService.GetQuotes(r.Context(), strings.Split(raw, ","))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, batch)
}

// handleQuote handles GET /api/quotes/{ticker}.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ticker := PathParam(r, "/api/quotes/", "")
	q, err := s.app.QuoteService.GetQuote(r.Context(), ticker)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, q)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	results, err := s.app.QuoteService.SearchTickers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}

// handleHistory handles GET /api/history/{ticker}?range=1M. The range
// defaults to 1M.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ticker := PathParam(r, "/api/history/", "")
	rng := models.Range1M
	if raw := r.URL.Query().Get("range"); raw != "" {
		rng = models.ChartRange(raw)
	}

	history, err := s.app.QuoteService.GetPriceHistory(r.Context(), ticker, rng)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ticker":     history.Ticker,
		"range":      history.Range,
		"bars":       history.Bars,
		"stats":      history.Stats(),
		"updated_at": history.UpdatedAt,
	})
}

// --- Watchlist handlers ---

// handleWatchlist handles GET and POST /api/watchlist. GET with
// ?quotes=true includes a quote batch for the listed tickers.
func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	userID, ok := s.activeUser(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost {
		var req struct {
			Ticker string `json:"ticker"`
		}
		if !DecodeJSON(w, r, &req) {
			return
		}
		wl, err := s.app.WatchlistService.Add(r.Context(), userID, req.Ticker)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wl)
		return
	}

	if r.URL.Query().Get("quotes") == "true" {
		wl, batch, err := s.app.WatchlistService.Quotes(r.Context(), userID)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"tickers": wl.Tickers,
			"quotes":  batch.Quotes,
			"failed":  batch.Failed,
		})
		return
	}

	wl, err := s.app.WatchlistService.List(r.Context(), userID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, wl)
}

// handleWatchlistItem handles DELETE /api/watchlist/{ticker}.
func (s *Server) handleWatchlistItem(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	userID, ok := s.activeUser(w, r)
	if !ok {
		return
	}
	ticker := PathParam(r, "/api/watchlist/", "")
	if ticker == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "ticker is required", "invalid_request")
		return
	}
	wl, err := s.app.WatchlistService.Remove(r.Context(), userID, ticker)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, wl)
}
