package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is carried over from the identity service profile. Only guest vs
// non-guest matters to the ledger.
type Role string

const (
	RoleLandlord Role = "landlord"
	RoleTenant   Role = "tenant"
	RoleGuest    Role = "guest"
)

// DefaultStartingBalance is the cash balance of a newly created account.
var DefaultStartingBalance = decimal.NewFromInt(1000)

// Account is one user's profile snapshot and cash balance.
type Account struct {
	UserID            string          `json:"user_id"`
	Username          string          `json:"username"`
	Email             string          `json:"email,omitempty"`
	FirstName         string          `json:"first_name,omitempty"`
	LastName          string          `json:"last_name,omitempty"`
	PhoneNumber       string          `json:"phone_number,omitempty"`
	Status            string          `json:"status,omitempty"`
	ProfilePictureURL string          `json:"profile_picture_url,omitempty"`
	Role              Role            `json:"role"`
	CashBalance       decimal.Decimal `json:"cash_balance"`
	OpeningBalance    decimal.Decimal `json:"opening_balance"`
	TxCount           int64           `json:"tx_count"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsGuest reports whether the account is a local-only guest account.
func (a *Account) IsGuest() bool {
	return a.Role == RoleGuest
}

// ApplyProfile copies identity fields from a remote profile, leaving the
// balance and ledger counters untouched. The role never moves to or from
// RoleGuest; guest accounts are only created locally.
func (a *Account) ApplyProfile(p *Profile) {
	if p == nil {
		return
	}
	a.Username = p.Username
	a.Email = p.Email
	a.FirstName = p.FirstName
	a.LastName = p.LastName
	a.PhoneNumber = p.PhoneNumber
	a.Status = p.Status
	a.ProfilePictureURL = p.ProfilePictureURL
	if p.Role != "" && p.Role != RoleGuest && a.Role != RoleGuest {
		a.Role = p.Role
	}
}

// Profile is the user record served by the identity service.
type Profile struct {
	UserID            string `json:"userId"`
	Username          string `json:"username"`
	Email             string `json:"email"`
	Role              Role   `json:"role"`
	Status            string `json:"status,omitempty"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	PhoneNumber       string `json:"phoneNumber"`
	ProfilePictureURL string `json:"profilePictureURL,omitempty"`
}

// SignUpRequest is the payload for creating a remote identity.
type SignUpRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
	Role        Role   `json:"role"`
}

// ProfileUpdate holds the editable profile fields. Empty fields are left as is.
type ProfileUpdate struct {
	FirstName         string `json:"firstName,omitempty"`
	LastName          string `json:"lastName,omitempty"`
	PhoneNumber       string `json:"phoneNumber,omitempty"`
	Email             string `json:"email,omitempty"`
	ProfilePictureURL string `json:"profilePictureURL,omitempty"`
}
