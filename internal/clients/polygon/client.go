// Package polygon provides a client for the Polygon market data API
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
)

const (
	DefaultBaseURL     = "https://api.polygon.io"
	DefaultTimeout     = 30 * time.Second
	DefaultRateLimit   = 5 // requests per second
	DefaultSearchLimit = 10
)

var _ interfaces.MarketDataClient = (*Client)(nil)

// Client implements the MarketDataClient interface
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient creates a new Polygon client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Polygon API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Unwrap classifies the failure: throttling and server faults are network
// errors, anything else is an invalid response.
func (e *APIError) Unwrap() error {
	if e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests {
		return models.ErrNetwork
	}
	return models.ErrInvalidResponse
}

// envelope carries the status fields common to every response
type envelope struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	Message      string `json:"message"`
	ResultsCount int    `json:"resultsCount"`
}

type aggBar struct {
	Symbol string          `json:"T"` // present on /prev, keeps "T" from matching "t"
	T      int64           `json:"t"` // epoch milliseconds
	O      decimal.Decimal `json:"o"`
	H      decimal.Decimal `json:"h"`
	L      decimal.Decimal `json:"l"`
	C      decimal.Decimal `json:"c"`
}

type aggsResponse struct {
	envelope
	Ticker  string   `json:"ticker"`
	Results []aggBar `json:"results"`
}

type tickerResult struct {
	Ticker          string `json:"ticker"`
	Name            string `json:"name"`
	Market          string `json:"market"`
	Locale          string `json:"locale"`
	PrimaryExchange string `json:"primary_exchange"`
	Type            string `json:"type"`
	Active          bool   `json:"active"`
	CurrencyName    string `json:"currency_name"`
}

type tickersResponse struct {
	envelope
	Results []tickerResult `json:"results"`
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("apiKey", c.apiKey)

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("url", c.baseURL+path).Msg("Polygon API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s: %v", models.ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %v", models.ErrInvalidResponse, path, err)
	}
	return nil
}

func checkStatus(env envelope, path string) error {
	switch strings.ToUpper(env.Status) {
	case "ERROR", "NOT_AUTHORIZED", "NOT_FOUND":
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return &APIError{StatusCode: http.StatusOK, Message: fmt.Sprintf("%s: %s", env.Status, msg), Endpoint: path}
	}
	return nil
}

// GetPreviousClose retrieves the previous trading day's OHLC bar
func (c *Client) GetPreviousClose(ctx context.Context, ticker string) (*models.Quote, error) {
	ticker = models.NormalizeTicker(ticker)
	path := fmt.Sprintf("/v2/aggs/ticker/%s/prev", url.PathEscape(ticker))

	params := url.Values{}
	params.Set("adjusted", "true")

	var resp aggsResponse
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus(resp.envelope, path); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: no previous close for %s", models.ErrInvalidResponse, ticker)
	}

	bar := resp.Results[0]
	return &models.Quote{
		Ticker:    ticker,
		Open:      bar.O,
		High:      bar.H,
		Low:       bar.L,
		Close:     bar.C,
		Timestamp: time.UnixMilli(bar.T).UTC(),
	}, nil
}

// GetAggregates retrieves a close series, oldest first
func (c *Client) GetAggregates(ctx context.Context, ticker string, multiplier int, timespan models.Timespan, from, to time.Time) ([]models.PriceBar, error) {
	ticker = models.NormalizeTicker(ticker)
	if multiplier < 1 {
		multiplier = 1
	}
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/%s/%s/%s",
		url.PathEscape(ticker), multiplier, timespan, from.Format("2006-01-02"), to.Format("2006-01-02"))

	params := url.Values{}
	params.Set("adjusted", "true")
	params.Set("sort", "asc")

	var resp aggsResponse
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus(resp.envelope, path); err != nil {
		return nil, err
	}

	bars := make([]models.PriceBar, 0, len(resp.Results))
	for _, r := range resp.Results {
		bars = append(bars, models.PriceBar{
			Timestamp: time.UnixMilli(r.T).UTC(),
			Close:     r.C,
		})
	}
	return bars, nil
}

// SearchTickers searches the ticker reference by name or symbol
func (c *Client) SearchTickers(ctx context.Context, query string, limit int) ([]*models.TickerInfo, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	params := url.Values{}
	params.Set("search", query)
	params.Set("limit", fmt.Sprintf("%d", limit))

	const path = "/v3/reference/tickers"
	var resp tickersResponse
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	if err := checkStatus(resp.envelope, path); err != nil {
		return nil, err
	}

	results := make([]*models.TickerInfo, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, &models.TickerInfo{
			Ticker:          r.Ticker,
			Name:            r.Name,
			Market:          r.Market,
			Locale:          r.Locale,
			PrimaryExchange: r.PrimaryExchange,
			Type:            r.Type,
			Active:          r.Active,
			CurrencyName:    r.CurrencyName,
		})
	}
	return results, nil
}
