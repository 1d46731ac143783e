// Package identity provides a client for the remote identity and profile service
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
)

const (
	DefaultBaseURL = "http://localhost:3000"
	DefaultTimeout = 15 * time.Second

	maxBodyBytes = 1 << 20
)

var _ interfaces.IdentityClient = (*Client)(nil)

// Client implements the IdentityClient interface
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
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

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a new identity client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an error reported by the identity service.
// Exception is the service's exception name when one was recognised.
type APIError struct {
	StatusCode int
	Exception  string
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	if e.Exception != "" {
		return fmt.Sprintf("identity API error: %s: %s (status: %d, endpoint: %s)", e.Exception, e.Message, e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("identity API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Unwrap exposes the mapped identity condition, if any, and the boundary class.
func (e *APIError) Unwrap() []error {
	var errs []error
	if sentinel, ok := exceptions[e.Exception]; ok {
		errs = append(errs, sentinel)
	}
	if e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests {
		errs = append(errs, models.ErrNetwork)
	} else {
		errs = append(errs, models.ErrInvalidResponse)
	}
	return errs
}

var exceptions = map[string]error{
	"UsernameExistsException":   models.ErrUsernameExists,
	"UserNotFoundException":     models.ErrUserNotFound,
	"NotAuthorizedException":    models.ErrInvalidCredentials,
	"UserNotConfirmedException": models.ErrUserNotConfirmed,
}

var exceptionNames = []string{
	"UsernameExistsException",
	"UserNotFoundException",
	"NotAuthorizedException",
	"UserNotConfirmedException",
}

// envelope is the error shape the service returns. Different backends
// populate different fields with the exception name.
type envelope struct {
	Code    json.RawMessage `json:"code"`
	Name    string          `json:"name"`
	Type    string          `json:"__type"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// exception returns the recognised exception name carried by the envelope.
func (e *envelope) exception() string {
	var code string
	_ = json.Unmarshal(e.Code, &code)
	for _, field := range []string{e.Name, e.Type, code, e.Error} {
		name := field
		// "com.amazonaws.cognito#UserNotFoundException" and "prefix:Name" forms
		if i := strings.LastIndexAny(name, "#:"); i >= 0 {
			name = name[i+1:]
		}
		name = strings.TrimSpace(name)
		if _, ok := exceptions[name]; ok {
			return name
		}
	}
	// Legacy fallback: older deployments only put the name in the message text.
	for _, name := range exceptionNames {
		if strings.Contains(e.Message, name) {
			return name
		}
	}
	return ""
}

// unwrapJSON strips string encodings around a JSON document.
func unwrapJSON(data []byte) []byte {
	data = bytes.TrimSpace(data)
	for i := 0; i < 2 && len(data) > 0 && data[0] == '"'; i++ {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			break
		}
		data = bytes.TrimSpace([]byte(inner))
	}
	return data
}

// do performs one request and decodes the body into result when non-nil
func (c *Client) do(ctx context.Context, method, path, token string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug().Str("method", method).Str("path", path).Msg("Identity API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", models.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: reading %s: %v", models.ErrNetwork, path, err)
	}
	data := unwrapJSON(raw)

	var env envelope
	envErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Endpoint: path, Message: strings.TrimSpace(string(raw))}
		if envErr == nil {
			apiErr.Exception = env.exception()
			if env.Message != "" {
				apiErr.Message = env.Message
			}
		}
		c.logger.Warn().Str("path", path).Int("status", resp.StatusCode).Str("exception", apiErr.Exception).Msg("Identity API error")
		return apiErr
	}

	// Some deployments report exceptions with a 200 status.
	if envErr == nil {
		if name := env.exception(); name != "" {
			return &APIError{StatusCode: http.StatusBadRequest, Exception: name, Message: env.Message, Endpoint: path}
		}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", models.ErrInvalidResponse, path, err)
	}
	return nil
}

// SignUp creates a remote identity
func (c *Client) SignUp(ctx context.Context, req models.SignUpRequest) (*models.SignUpResult, error) {
	var result models.SignUpResult
	if err := c.do(ctx, http.MethodPost, "/users/signup", "", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Login exchanges credentials for an id token
func (c *Client) Login(ctx context.Context, username, password string) (*models.LoginResult, error) {
	body := map[string]string{"username": username, "password": password}
	var result models.LoginResult
	if err := c.do(ctx, http.MethodPost, "/users/login", "", body, &result); err != nil {
		return nil, err
	}
	if result.IDToken == "" {
		return nil, fmt.Errorf("%w: login response has no id token: %s", models.ErrInvalidResponse, result.Message)
	}
	return &result, nil
}

// ResendCode re-sends the email verification code
func (c *Client) ResendCode(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/users/resend-code", "", map[string]string{"username": username}, nil)
}

// VerifyEmail confirms a sign-up with the emailed code
func (c *Client) VerifyEmail(ctx context.Context, username, code string) error {
	body := map[string]string{"username": username, "verification_code": code}
	return c.do(ctx, http.MethodPost, "/users/verify-email", "", body, nil)
}

// ResetPassword starts a password reset
func (c *Client) ResetPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/users/reset-password", "", map[string]string{"email": email}, nil)
}

// ConfirmResetPassword completes a password reset
func (c *Client) ConfirmResetPassword(ctx context.Context, email, code, password string) error {
	body := map[string]string{"email": email, "code": code, "password": password}
	return c.do(ctx, http.MethodPost, "/users/confirm-reset-password", "", body, nil)
}

// GetUser loads a profile with the bearer token
func (c *Client) GetUser(ctx context.Context, token, userID string) (*models.Profile, error) {
	var profile models.Profile
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), token, nil, &profile); err != nil {
		return nil, err
	}
	if profile.UserID == "" {
		return nil, fmt.Errorf("%w: profile for %s has no user id", models.ErrInvalidResponse, userID)
	}
	return &profile, nil
}

// UpdateUser applies a profile update and returns the stored profile. When
// the service answers with a bare message the profile is re-read.
func (c *Client) UpdateUser(ctx context.Context, token, userID string, update models.ProfileUpdate) (*models.Profile, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(userID), token, update, &raw); err != nil {
		return nil, err
	}
	var profile models.Profile
	if err := json.Unmarshal(raw, &profile); err == nil && profile.UserID != "" {
		return &profile, nil
	}
	return c.GetUser(ctx, token, userID)
}

// ParseToken reads sub and exp from an id token. The signature is not
// verified; the token is only ever presented back to the service that issued it.
func (c *Client) ParseToken(token string) (*models.TokenClaims, error) {
	return ParseToken(token)
}

// ParseToken reads sub and exp from an unverified JWT.
func ParseToken(token string) (*models.TokenClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: malformed id token: %v", models.ErrInvalidResponse, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: id token has no subject", models.ErrInvalidResponse)
	}
	result := &models.TokenClaims{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}
