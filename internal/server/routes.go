package server

import (
	"net/http"
	"time"

	"github.com/kylekaufman/papertrade/internal/common"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)

	// Session
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/session/login", s.handleSessionLogin)
	mux.HandleFunc("/api/session/guest", s.handleSessionGuest)
	mux.HandleFunc("/api/session/logout", s.handleSessionLogout)

	// Identity pass-through
	mux.HandleFunc("/api/auth/signup", s.handleAuthSignUp)
	mux.HandleFunc("/api/auth/verify", s.handleAuthVerify)
	mux.HandleFunc("/api/auth/resend-code", s.handleAuthResendCode)
	mux.HandleFunc("/api/auth/reset-password", s.handleAuthResetPassword)
	mux.HandleFunc("/api/auth/confirm-reset", s.handleAuthConfirmReset)

	// Profile
	mux.HandleFunc("/api/profile", s.handleProfile)

	// Ledger
	mux.HandleFunc("/api/account", s.handleAccount)
	mux.HandleFunc("/api/account/deposit", s.handleDeposit)
	mux.HandleFunc("/api/trades/buy", s.handleBuy)
	mux.HandleFunc("/api/trades/sell", s.handleSell)
	mux.HandleFunc("/api/holdings", s.handleHoldings)
	mux.HandleFunc("/api/transactions", s.handleTransactions)

	// Portfolio
	mux.HandleFunc("/api/portfolio", s.handlePortfolio)
	mux.HandleFunc("/api/portfolio/reconcile", s.handleReconcile)

	// Market data
	mux.HandleFunc("/api/quotes", s.handleQuotes)
	mux.HandleFunc("/api/quotes/", s.handleQuote)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/history/", s.handleHistory)

	// Watchlist
	mux.HandleFunc("/api/watchlist", s.handleWatchlist)
	mux.HandleFunc("/api/watchlist/", s.handleWatchlistItem)
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.app.StartupTime).Round(time.Second).String(),
	})
}

// handleVersion handles GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}
