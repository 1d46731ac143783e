package interfaces

import (
	"context"
	"time"

	"github.com/kylekaufman/papertrade/internal/models"
)

// IdentityClient talks to the remote identity and profile service.
type IdentityClient interface {
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.SignUpResult, error)
	Login(ctx context.Context, username, password string) (*models.LoginResult, error)
	ResendCode(ctx context.Context, username string) error
	VerifyEmail(ctx context.Context, username, code string) error
	ResetPassword(ctx context.Context, email string) error
	ConfirmResetPassword(ctx context.Context, email, code, password string) error
	GetUser(ctx context.Context, token, userID string) (*models.Profile, error)
	UpdateUser(ctx context.Context, token, userID string, update models.ProfileUpdate) (*models.Profile, error)

	// ParseToken reads the subject and expiry from an id token.
	ParseToken(token string) (*models.TokenClaims, error)
}

// MarketDataClient fetches quotes and history from the market-data provider.
type MarketDataClient interface {
	GetPreviousClose(ctx context.Context, ticker string) (*models.Quote, error)
	GetAggregates(ctx context.Context, ticker string, multiplier int, timespan models.Timespan, from, to time.Time) ([]models.PriceBar, error)
	SearchTickers(ctx context.Context, query string, limit int) ([]*models.TickerInfo, error)
}
