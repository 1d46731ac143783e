// Package session owns the unauthenticated / guest / authenticated lifecycle
// and the ledger setup and teardown that goes with it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
)

// DefaultTokenLifetime is how long a sign-in stays valid locally.
const DefaultTokenLifetime = 7 * 24 * time.Hour

// Compile-time interface check
var _ interfaces.SessionService = (*Manager)(nil)

// Listener is called after every state transition.
type Listener func(event models.SessionEvent)

// Manager implements SessionService.
type Manager struct {
	identity interfaces.IdentityClient
	ledger   interfaces.LedgerService
	kv       interfaces.KeyValueStore
	logger   *common.Logger

	tokenLifetime time.Duration

	opMu sync.Mutex // serializes lifecycle operations

	mu        sync.RWMutex // guards the fields below
	session   models.Session
	token     string
	listeners []Listener

	now   func() time.Time // injectable clock for testing
	newID func() string
}

// Option configures the manager
type Option func(*Manager)

// WithTokenLifetime overrides DefaultTokenLifetime.
func WithTokenLifetime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.tokenLifetime = d
		}
	}
}

// NewManager creates a manager in the Unauthenticated state. Call Resume to
// restore a persisted session.
func NewManager(identity interfaces.IdentityClient, ledger interfaces.LedgerService, kv interfaces.KeyValueStore, logger *common.Logger, opts ...Option) *Manager {
	m := &Manager{
		identity:      identity,
		ledger:        ledger,
		kv:            kv,
		logger:        logger,
		tokenLifetime: DefaultTokenLifetime,
		session:       models.Session{State: models.StateUnauthenticated},
		now:           time.Now,
		newID:         func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange registers l for every future transition.
func (m *Manager) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Current returns a snapshot of the session.
func (m *Manager) Current() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySession(m.session)
}

func copySession(s models.Session) models.Session {
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		s.ExpiresAt = &t
	}
	return s
}

// RequireActive returns the session, or ErrTokenNotFound when no account is
// selected. An authenticated session past its expiry is logged out and
// reported as ErrAuthExpired.
func (m *Manager) RequireActive(ctx context.Context) (models.Session, error) {
	current := m.Current()
	if !current.Active() {
		return current, models.ErrTokenNotFound
	}
	if current.State == models.StateAuthenticated && current.ExpiresAt != nil && !m.now().Before(*current.ExpiresAt) {
		m.opMu.Lock()
		defer m.opMu.Unlock()
		// Another operation may have replaced the session while we waited.
		latest := m.Current()
		if !sameSession(latest, current) {
			if !latest.Active() {
				return latest, models.ErrTokenNotFound
			}
			return latest, nil
		}
		m.expire(ctx, "token expired")
		return m.Current(), models.ErrAuthExpired
	}
	return current, nil
}

func sameSession(a, b models.Session) bool {
	if a.State != b.State || a.UserID != b.UserID {
		return false
	}
	if a.ExpiresAt == nil || b.ExpiresAt == nil {
		return a.ExpiresAt == nil && b.ExpiresAt == nil
	}
	return a.ExpiresAt.Equal(*b.ExpiresAt)
}

// transition swaps in next and notifies listeners. Callers hold opMu.
func (m *Manager) transition(next models.Session, token, reason string) {
	m.mu.Lock()
	prev := m.session
	m.session = next
	m.token = token
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if prev.State == next.State && prev.UserID == next.UserID {
		return
	}

	event := models.SessionEvent{From: prev.State, To: next.State, UserID: next.UserID, Reason: reason, At: m.now()}
	if next.State == models.StateUnauthenticated {
		event.UserID = prev.UserID
	}
	m.logger.Info().
		Str("from", string(event.From)).
		Str("to", string(event.To)).
		Str("user_id", event.UserID).
		Str("reason", reason).
		Msg("Session state changed")
	for _, l := range listeners {
		l(event)
	}
}

// --- Persistence ---

func (m *Manager) storeToken(ctx context.Context, token string, expiresAt time.Time) error {
	if err := m.kv.Set(ctx, models.KeySessionToken, token); err != nil {
		return fmt.Errorf("%w: storing session token: %v", models.ErrPersistence, err)
	}
	if err := m.kv.Set(ctx, models.KeySessionExpiresAt, expiresAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("%w: storing session expiry: %v", models.ErrPersistence, err)
	}
	return nil
}

// clearToken removes the stored token. Failures are logged; the in-memory
// session is dropped regardless.
func (m *Manager) clearToken(ctx context.Context) {
	for _, key := range []string{models.KeySessionToken, models.KeySessionExpiresAt} {
		if err := m.kv.Delete(context.WithoutCancel(ctx), key); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Failed to clear stored session")
		}
	}
}

func (m *Manager) expire(ctx context.Context, reason string) {
	m.clearToken(ctx)
	m.transition(models.Session{State: models.StateUnauthenticated}, "", reason)
}

// expiryFor caps the local token lifetime at the token's own exp claim.
func (m *Manager) expiryFor(claims *models.TokenClaims) time.Time {
	expiresAt := m.now().Add(m.tokenLifetime)
	if !claims.ExpiresAt.IsZero() && claims.ExpiresAt.Before(expiresAt) {
		expiresAt = claims.ExpiresAt
	}
	return expiresAt
}

// --- Account setup ---

// attach loads or creates the local account for a remote profile and
// refreshes its profile snapshot. An existing balance is kept.
func (m *Manager) attach(ctx context.Context, userID string, profile *models.Profile) (*models.Account, error) {
	account := &models.Account{UserID: userID}
	account.ApplyProfile(profile)
	if account.Role == "" || account.Role == models.RoleGuest {
		account.Role = models.RoleTenant
	}
	if _, err := m.ledger.OpenAccount(ctx, account); err != nil {
		return nil, err
	}
	return m.ledger.UpdateProfile(ctx, userID, profile)
}

func (m *Manager) authenticate(ctx context.Context, token string) (models.Session, *models.TokenClaims, error) {
	claims, err := m.identity.ParseToken(token)
	if err != nil {
		return models.Session{}, nil, err
	}
	profile, err := m.identity.GetUser(ctx, token, claims.Subject)
	if err != nil {
		return models.Session{}, nil, err
	}
	account, err := m.attach(ctx, claims.Subject, profile)
	if err != nil {
		return models.Session{}, nil, err
	}
	return models.Session{
		State:    models.StateAuthenticated,
		UserID:   account.UserID,
		Username: account.Username,
	}, claims, nil
}

// --- Lifecycle ---

// SignIn logs in against the identity service and selects the user's account.
// A guest account active at sign-in is left in place and can be restored later.
func (m *Manager) SignIn(ctx context.Context, username, password string) (models.Session, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return m.Current(), fmt.Errorf("%w: username and password are required", models.ErrInvalidCredentials)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	login, err := m.identity.Login(ctx, username, password)
	if err != nil {
		m.logger.Warn().Err(err).Str("username", username).Msg("Sign-in failed")
		return m.Current(), err
	}

	next, claims, err := m.authenticate(ctx, login.IDToken)
	if err != nil {
		m.logger.Warn().Err(err).Str("username", username).Msg("Sign-in profile load failed")
		return m.Current(), err
	}

	expiresAt := m.expiryFor(claims)
	if !m.now().Before(expiresAt) {
		return m.Current(), fmt.Errorf("%w: id token already expired", models.ErrAuthExpired)
	}
	if err := m.storeToken(ctx, login.IDToken, expiresAt); err != nil {
		return m.Current(), err
	}

	next.ExpiresAt = &expiresAt
	m.transition(next, login.IDToken, "sign in")
	return m.Current(), nil
}

// ContinueAsGuest restores the last guest account, or creates a new one.
// An authenticated session is signed out first.
func (m *Manager) ContinueAsGuest(ctx context.Context) (models.Session, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	current := m.Current()
	if current.State == models.StateGuest {
		return current, nil
	}
	if current.State == models.StateAuthenticated {
		m.expire(ctx, "switch to guest")
	}

	account, err := m.lastGuest(ctx)
	if err != nil {
		return m.Current(), err
	}
	reason := "guest restored"
	if account == nil {
		if account, err = m.createGuest(ctx); err != nil {
			return m.Current(), err
		}
		reason = "guest created"
	}

	m.transition(models.Session{State: models.StateGuest, UserID: account.UserID, Username: account.Username}, "", reason)
	return m.Current(), nil
}

// lastGuest returns the account named by the last-guest pointer, or nil when
// there is none. A dangling pointer is cleared.
func (m *Manager) lastGuest(ctx context.Context) (*models.Account, error) {
	id, err := m.kv.Get(ctx, models.KeyLastGuestID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading last guest: %v", models.ErrPersistence, err)
	}
	if id == "" {
		return nil, nil
	}
	account, err := m.ledger.GetAccount(ctx, id)
	if errors.Is(err, models.ErrAccountNotFound) {
		m.logger.Debug().Str("user_id", id).Msg("Last guest account missing, clearing pointer")
		if err := m.kv.Delete(ctx, models.KeyLastGuestID); err != nil {
			return nil, fmt.Errorf("%w: clearing last guest: %v", models.ErrPersistence, err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !account.IsGuest() {
		return nil, nil
	}
	return account, nil
}

func (m *Manager) createGuest(ctx context.Context) (*models.Account, error) {
	id := m.newID()
	name := "Guest-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:4])

	account, err := m.ledger.OpenAccount(ctx, &models.Account{
		UserID:   id,
		Username: name,
		Role:     models.RoleGuest,
	})
	if err != nil {
		return nil, err
	}
	if err := m.kv.Set(ctx, models.KeyLastGuestID, id); err != nil {
		return nil, fmt.Errorf("%w: storing last guest: %v", models.ErrPersistence, err)
	}
	return account, nil
}

// Logout ends the session. A guest account is deleted with everything it
// owns; an authenticated user's ledger is kept and only the token is cleared.
func (m *Manager) Logout(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	current := m.Current()
	switch current.State {
	case models.StateGuest:
		if err := m.ledger.DeleteAccount(ctx, current.UserID); err != nil {
			m.logger.Warn().Err(err).Str("user_id", current.UserID).Msg("Guest teardown failed")
			return err
		}
		if err := m.kv.Delete(ctx, models.KeyLastGuestID); err != nil {
			return fmt.Errorf("%w: clearing last guest: %v", models.ErrPersistence, err)
		}
		m.transition(models.Session{State: models.StateUnauthenticated}, "", "guest logout")
	case models.StateAuthenticated:
		m.expire(ctx, "logout")
	}
	return nil
}

// Resume restores the persisted session at process start. A stored token is
// revalidated against the identity service; with no token the last guest is
// restored. Cancellation leaves the stored token untouched.
func (m *Manager) Resume(ctx context.Context) (models.Session, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	token, err := m.kv.Get(ctx, models.KeySessionToken)
	if err != nil {
		return m.Current(), fmt.Errorf("%w: reading session token: %v", models.ErrPersistence, err)
	}

	if token == "" {
		account, err := m.lastGuest(ctx)
		if err != nil {
			return m.Current(), err
		}
		if account != nil {
			m.transition(models.Session{State: models.StateGuest, UserID: account.UserID, Username: account.Username}, "", "guest restored")
		}
		return m.Current(), nil
	}

	raw, err := m.kv.Get(ctx, models.KeySessionExpiresAt)
	if err != nil {
		return m.Current(), fmt.Errorf("%w: reading session expiry: %v", models.ErrPersistence, err)
	}
	expiresAt, parseErr := time.Parse(time.RFC3339Nano, raw)
	if parseErr != nil || !m.now().Before(expiresAt) {
		m.expire(ctx, "stored token expired")
		return m.Current(), models.ErrAuthExpired
	}

	next, _, err := m.authenticate(ctx, token)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return m.Current(), ctxErr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return m.Current(), err
		}
		m.logger.Warn().Err(err).Msg("Session revalidation failed, signing out")
		m.expire(ctx, "revalidation failed")
		return m.Current(), err
	}

	next.ExpiresAt = &expiresAt
	m.transition(next, token, "session resumed")
	return m.Current(), nil
}

// --- Identity pass-through ---

// SignUp creates a remote identity. Guest is not a valid role for sign-up.
func (m *Manager) SignUp(ctx context.Context, req models.SignUpRequest) (*models.SignUpResult, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", models.ErrInvalidCredentials)
	}
	if req.Role == "" || req.Role == models.RoleGuest {
		req.Role = models.RoleTenant
	}
	result, err := m.identity.SignUp(ctx, req)
	if err != nil {
		m.logger.Warn().Err(err).Str("username", req.Username).Msg("Sign-up failed")
		return nil, err
	}
	m.logger.Info().Str("username", req.Username).Str("user_id", result.UserID).Msg("Sign-up submitted")
	return result, nil
}

// VerifyEmail confirms a sign-up code.
func (m *Manager) VerifyEmail(ctx context.Context, username, code string) error {
	return m.identity.VerifyEmail(ctx, username, code)
}

// ResendCode re-sends the verification code.
func (m *Manager) ResendCode(ctx context.Context, username string) error {
	return m.identity.ResendCode(ctx, username)
}

// ResetPassword starts a password reset.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	return m.identity.ResetPassword(ctx, email)
}

// ConfirmResetPassword completes a password reset.
func (m *Manager) ConfirmResetPassword(ctx context.Context, email, code, password string) error {
	return m.identity.ConfirmResetPassword(ctx, email, code, password)
}

// Profile returns the active user's profile. Authenticated profiles are read
// from the identity service and refreshed into the ledger; guest profiles
// come from the local account.
func (m *Manager) Profile(ctx context.Context) (*models.Profile, error) {
	current, err := m.RequireActive(ctx)
	if err != nil {
		return nil, err
	}
	if current.State == models.StateGuest {
		account, err := m.ledger.GetAccount(ctx, current.UserID)
		if err != nil {
			return nil, err
		}
		return profileOf(account), nil
	}

	profile, err := m.identity.GetUser(ctx, m.currentToken(), current.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := m.ledger.UpdateProfile(ctx, current.UserID, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// UpdateProfile edits the active user's profile.
func (m *Manager) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.Profile, error) {
	current, err := m.RequireActive(ctx)
	if err != nil {
		return nil, err
	}

	var profile *models.Profile
	if current.State == models.StateGuest {
		account, err := m.ledger.GetAccount(ctx, current.UserID)
		if err != nil {
			return nil, err
		}
		profile = mergeProfile(profileOf(account), update)
	} else {
		if profile, err = m.identity.UpdateUser(ctx, m.currentToken(), current.UserID, update); err != nil {
			return nil, err
		}
	}

	if _, err := m.ledger.UpdateProfile(ctx, current.UserID, profile); err != nil {
		return nil, err
	}
	m.logger.Info().Str("user_id", current.UserID).Msg("Profile updated")
	return profile, nil
}

func (m *Manager) currentToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func profileOf(a *models.Account) *models.Profile {
	return &models.Profile{
		UserID:            a.UserID,
		Username:          a.Username,
		Email:             a.Email,
		Role:              a.Role,
		Status:            a.Status,
		FirstName:         a.FirstName,
		LastName:          a.LastName,
		PhoneNumber:       a.PhoneNumber,
		ProfilePictureURL: a.ProfilePictureURL,
	}
}

func mergeProfile(p *models.Profile, u models.ProfileUpdate) *models.Profile {
	if u.FirstName != "" {
		p.FirstName = u.FirstName
	}
	if u.LastName != "" {
		p.LastName = u.LastName
	}
	if u.PhoneNumber != "" {
		p.PhoneNumber = u.PhoneNumber
	}
	if u.Email != "" {
		p.Email = u.Email
	}
	if u.ProfilePictureURL != "" {
		p.ProfilePictureURL = u.ProfilePictureURL
	}
	return p
}
