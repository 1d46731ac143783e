package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylekaufman/papertrade/internal/app"
	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/storage"
)

// --- Fakes for the two remote collaborators ---

func testToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func newIdentityServer(t *testing.T) *httptest.Server {
	t.Helper()
	token := testToken(t, "user-alice", time.Now().Add(time.Hour))
	mux := http.NewServeMux()
	mux.HandleFunc("/users/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "alice" || body["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":"NotAuthorizedException","message":"Incorrect username or password."}`)
			return
		}
		fmt.Fprintf(w, `{"message":"ok","idToken":%q}`, token)
	})
	mux.HandleFunc("/users/user-alice", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"unauthorized"}`)
			return
		}
		fmt.Fprint(w, `{"userId":"user-alice","username":"alice","email":"alice@example.com","role":"tenant","firstName":"Alice","lastName":"Ng","phoneNumber":""}`)
	})
	mux.HandleFunc("/users/signup", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["username"] == "alice" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"name":"UsernameExistsException","message":"User already exists"}`)
			return
		}
		fmt.Fprint(w, `{"message":"created","userId":"user-new"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newPolygonServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/aggs/ticker/AAPL/prev":
			fmt.Fprint(w, `{"status":"OK","ticker":"AAPL","resultsCount":1,"results":[{"T":"AAPL","t":1772582400000,"o":148,"h":151,"l":147,"c":150}]}`)
		case r.URL.Path == "/v2/aggs/ticker/MSFT/prev":
			fmt.Fprint(w, `{"status":"OK","ticker":"MSFT","resultsCount":1,"results":[{"T":"MSFT","t":1772582400000,"o":400,"h":401,"l":399,"c":400}]}`)
		case strings.HasPrefix(r.URL.Path, "/v2/aggs/ticker/TSLA/"):
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `upstream unavailable`)
		case strings.HasPrefix(r.URL.Path, "/v2/aggs/ticker/AAPL/range/"):
			fmt.Fprint(w, `{"status":"OK","ticker":"AAPL","results":[{"t":1772582400000,"c":100},{"t":1772668800000,"c":110}]}`)
		case r.URL.Path == "/v3/reference/tickers":
			fmt.Fprint(w, `{"status":"OK","results":[{"ticker":"AAPL","name":"Apple Inc.","market":"stocks","locale":"us","active":true}]}`)
		default:
			fmt.Fprint(w, `{"status":"OK","resultsCount":0,"results":[]}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newTestServer wires a real App over temp storage and the fake remotes.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	config := common.NewDefaultConfig()
	config.Storage.Ledger.Path = filepath.Join(dir, "ledger")
	config.Storage.Charts.Path = filepath.Join(dir, "charts")
	config.Clients.Identity.BaseURL = newIdentityServer(t).URL
	config.Clients.Polygon.BaseURL = newPolygonServer(t).URL
	config.Clients.Polygon.APIKey = "test-key"
	config.Clients.Polygon.RateLimit = 100

	logger := common.NewSilentLogger()
	sm, err := storage.NewManager(logger, config)
	require.NoError(t, err)

	a := app.New(config, logger, sm)
	t.Cleanup(a.Close)
	return NewServer(a)
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func decimalField(t *testing.T, m map[string]interface{}, key string) decimal.Decimal {
	t.Helper()
	raw, ok := m[key].(string)
	require.True(t, ok, "field %s is %T", key, m[key])
	return decimal.RequireFromString(raw)
}

func assertCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, code, decode(t, rec)["code"])
}

// --- System ---

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	rec = do(t, s, http.MethodGet, "/api/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, common.GetVersion(), decode(t, rec)["version"])

	rec = do(t, s, http.MethodPost, "/api/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestMiddleware_CORSAndCorrelationID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/account", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Correlation-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(common.NewSilentLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assertCode(t, rec, http.StatusInternalServerError, "internal_error")
}

// --- Session gating ---

func TestLedgerRoutes_RequireSession(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/account"},
		{http.MethodGet, "/api/holdings"},
		{http.MethodGet, "/api/transactions"},
		{http.MethodGet, "/api/portfolio"},
		{http.MethodGet, "/api/watchlist"},
	} {
		rec := do(t, s, tc.method, tc.path, nil)
		assertCode(t, rec, http.StatusUnauthorized, "token_not_found")
	}
}

func TestGuestSession_TradingScenario(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/session/guest", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess := decode(t, rec)
	assert.Equal(t, "guest", sess["state"])
	userID := sess["user_id"].(string)

	rec = do(t, s, http.MethodGet, "/api/account", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acct := decode(t, rec)
	assert.Equal(t, userID, acct["user_id"])
	assert.True(t, decimal.NewFromInt(1000).Equal(decimalField(t, acct, "cash_balance")))

	rec = do(t, s, http.MethodPost, "/api/trades/buy", map[string]interface{}{"ticker": "aapl", "quantity": 5, "price_per_share": "150"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(250).Equal(decimalField(t, decode(t, rec), "cash_balance")))

	rec = do(t, s, http.MethodPost, "/api/trades/sell", map[string]interface{}{"ticker": "AAPL", "quantity": 4, "price_per_share": "160"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(890).Equal(decimalField(t, decode(t, rec), "cash_balance")))

	rec = do(t, s, http.MethodPost, "/api/trades/buy", map[string]interface{}{"ticker": "TSLA", "quantity": 1, "price_per_share": "900"})
	assertCode(t, rec, http.StatusUnprocessableEntity, "insufficient_funds")

	rec = do(t, s, http.MethodPost, "/api/account/deposit", map[string]interface{}{"amount": "500"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(1390).Equal(decimalField(t, decode(t, rec), "cash_balance")))

	rec = do(t, s, http.MethodPost, "/api/trades/buy", map[string]interface{}{"ticker": "TSLA", "quantity": 1, "price_per_share": "900"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(490).Equal(decimalField(t, decode(t, rec), "cash_balance")))

	rec = do(t, s, http.MethodGet, "/api/transactions?kind=buy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode(t, rec)["transactions"].([]interface{})
	assert.Len(t, txs, 2)
	assert.NotEmpty(t, txs[0].(map[string]interface{})["description"])

	rec = do(t, s, http.MethodGet, "/api/portfolio/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["consistent"])
}

func TestTrades_Errors(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/session/guest", nil).Code)

	rec := do(t, s, http.MethodPost, "/api/trades/sell", map[string]interface{}{"ticker": "MSFT", "quantity": 1, "price_per_share": "10"})
	assertCode(t, rec, http.StatusNotFound, "no_such_holding")

	rec = do(t, s, http.MethodPost, "/api/trades/buy", map[string]interface{}{"ticker": "MSFT", "quantity": 0, "price_per_share": "10"})
	assertCode(t, rec, http.StatusBadRequest, "invalid_amount")

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/trades/buy", map[string]interface{}{"ticker": "MSFT", "quantity": 1, "price_per_share": "10"}).Code)
	rec = do(t, s, http.MethodPost, "/api/trades/sell", map[string]interface{}{"ticker": "MSFT", "quantity": 2, "price_per_share": "10"})
	assertCode(t, rec, http.StatusUnprocessableEntity, "insufficient_shares")

	rec = do(t, s, http.MethodPost, "/api/account/deposit", map[string]interface{}{"amount": "-5"})
	assertCode(t, rec, http.StatusBadRequest, "invalid_amount")

	req := httptest.NewRequest(http.MethodPost, "/api/trades/buy", strings.NewReader("{bad"))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assertCode(t, rec, http.StatusBadRequest, "invalid_request")

	rec = do(t, s, http.MethodGet, "/api/transactions?kind=transfer", nil)
	assertCode(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestBuy_UsesQuoteWhenPriceOmitted(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/session/guest", nil).Code)

	rec := do(t, s, http.MethodPost, "/api/trades/buy", map[string]interface{}{"ticker": "AAPL", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.True(t, decimal.NewFromInt(150).Equal(decimalField(t, body, "price_per_share")))
	assert.True(t, decimal.NewFromInt(700).Equal(decimalField(t, body, "cash_balance")))

	rec = do(t, s, http.MethodPost, "/api/trades/buy", map[string]interface{}{"ticker": "TSLA", "quantity": 1})
	assertCode(t, rec, http.StatusBadGateway, "network_error")

	rec = do(t, s, http.MethodGet, "/api/holdings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["holdings"], 1)
}

func TestSell_ChecksHoldingBeforeQuote(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/session/guest", nil).Code)

	rec := do(t, s, http.MethodPost, "/api/trades/sell", map[string]interface{}{"ticker": "TSLA", "quantity": 1})
	assertCode(t, rec, http.StatusNotFound, "no_such_holding")

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/trades/buy", map[string]interface{}{"ticker": "TSLA", "quantity": 1, "price_per_share": "10"}).Code)
	rec = do(t, s, http.MethodPost, "/api/trades/sell", map[string]interface{}{"ticker": "TSLA", "quantity": 2})
	assertCode(t, rec, http.StatusUnprocessableEntity, "insufficient_shares")

	// Held and sellable, so the failing quote provider is reached.
	rec = do(t, s, http.MethodPost, "/api/trades/sell", map[string]interface{}{"ticker": "TSLA", "quantity": 1})
	assertCode(t, rec, http.StatusBadGateway, "network_error")
}

func TestPortfolio_FlagsUnpricedHoldings(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/session/guest", nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/trades/buy", map[string]interface{}{"ticker": "AAPL", "quantity": 2, "price_per_share": "100"}).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/trades/buy", map[string]interface{}{"ticker": "TSLA", "quantity": 1, "price_per_share": "200"}).Code)

	rec := do(t, s, http.MethodGet, "/api/portfolio", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.True(t, decimal.NewFromInt(600).Equal(decimalField(t, body, "cash_balance")))
	assert.True(t, decimal.NewFromInt(300).Equal(decimalField(t, body, "holdings_value")))
	assert.True(t, decimal.NewFromInt(900).Equal(decimalField(t, body, "total_value")))
	assert.Equal(t, []interface{}{"TSLA"}, body["unpriced"])
}

// --- Authenticated session ---

func TestLogin_AndLogout(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/session/login", map[string]string{"username": "alice", "password": "wrong"})
	assertCode(t, rec, http.StatusUnauthorized, "invalid_credentials")

	rec = do(t, s, http.MethodPost, "/api/session/login", map[string]string{"username": "alice"})
	assertCode(t, rec, http.StatusBadRequest, "invalid_request")

	rec = do(t, s, http.MethodPost, "/api/session/login", map[string]string{"username": "alice", "password": "secret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess := decode(t, rec)
	assert.Equal(t, "authenticated", sess["state"])
	assert.Equal(t, "user-alice", sess["user_id"])

	rec = do(t, s, http.MethodGet, "/api/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Alice", decode(t, rec)["firstName"])

	rec = do(t, s, http.MethodGet, "/api/account", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode(t, rec)["username"])

	rec = do(t, s, http.MethodPost, "/api/session/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unauthenticated", decode(t, rec)["state"])

	rec = do(t, s, http.MethodGet, "/api/session", nil)
	assert.Equal(t, "unauthenticated", decode(t, rec)["state"])
}

func TestSignUp_PassThrough(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/auth/signup", map[string]string{"username": "bob", "password": "pw", "email": "bob@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "user-new", decode(t, rec)["userId"])

	rec = do(t, s, http.MethodPost, "/api/auth/signup", map[string]string{"username": "alice", "password": "pw", "email": "a@example.com"})
	assertCode(t, rec, http.StatusConflict, "username_exists")

	rec = do(t, s, http.MethodPost, "/api/auth/verify", map[string]string{"username": "bob"})
	assertCode(t, rec, http.StatusBadRequest, "invalid_request")
}

// --- Market data and watchlist ---

func TestQuotes_PartialFailure(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/quotes?tickers=AAPL,TSLA,MSFT", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Len(t, body["quotes"], 2)
	assert.Contains(t, body["failed"], "TSLA")

	rec = do(t, s, http.MethodGet, "/api/quotes", nil)
	assertCode(t, rec, http.StatusBadRequest, "invalid_request")

	rec = do(t, s, http.MethodGet, "/api/quotes/aapl", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decimal.NewFromInt(150).Equal(decimalField(t, decode(t, rec), "close")))
}

func TestSearchAndHistory(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/search?q=apple", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["results"], 1)

	rec = do(t, s, http.MethodGet, "/api/history/AAPL?range=5Y", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Len(t, body["bars"], 2)
	stats := body["stats"].(map[string]interface{})
	assert.True(t, decimal.NewFromInt(10).Equal(decimalField(t, stats, "price_change")))

	rec = do(t, s, http.MethodGet, "/api/history/AAPL?range=2W", nil)
	assertCode(t, rec, http.StatusBadRequest, "invalid_amount")
}

func TestWatchlist(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/session/guest", nil).Code)

	rec := do(t, s, http.MethodGet, "/api/watchlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["tickers"], 5)

	rec = do(t, s, http.MethodPost, "/api/watchlist", map[string]string{"ticker": "nflx"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["tickers"], "NFLX")

	rec = do(t, s, http.MethodDelete, "/api/watchlist/TSLA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decode(t, rec)["tickers"], "TSLA")

	rec = do(t, s, http.MethodGet, "/api/watchlist?quotes=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Contains(t, body["quotes"], "AAPL")
	assert.Contains(t, body["failed"], "NFLX")
}

func TestErrorStatus(t *testing.T) {
	status, code := ErrorStatus(fmt.Errorf("wrapped: %w", io.EOF))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", code)
}
