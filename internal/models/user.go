package models

import "time"

type AuthMethod string

const (
	AuthMethodEmail AuthMethod = "email"
	AuthMethodPhone AuthMethod = "phone"
)

func (m AuthMethod) Valid() bool {
	return m == AuthMethodEmail || m == AuthMethodPhone
}

// Status is the verification state of a registered identity. An identity
// that has no row is unregistered.
type Status string

const (
	StatusPendingEmailVerification Status = "pending_email_verification"
	StatusPendingPhoneVerification Status = "pending_phone_verification"
	StatusVerified                 Status = "verified"
)

// PendingStatusFor returns the initial status for a new identity using method.
func PendingStatusFor(method AuthMethod) Status {
	if method == AuthMethodPhone {
		return StatusPendingPhoneVerification
	}
	return StatusPendingEmailVerification
}

type Role string

const (
	RoleCitizen Role = "citizen"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleCitizen || r == RoleAdmin
}

type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

type NotificationPreferences struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{Email: true, SMS: false, Push: true}
}

type Avatar struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

type Identity struct {
	ID                   string
	Name                 string
	Email                *string
	Phone                *string
	PasswordHash         *string
	AuthMethod           AuthMethod
	Status               Status
	Role                 Role
	IsActive             bool
	IsBanned             bool
	BanReason            *string
	Avatar               *Avatar
	Location             Location
	ReportsCount         int
	ResolvedReportsCount int
	Reputation           int
	Notifications        NotificationPreferences
	LastLoginAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (u *Identity) IsVerified() bool {
	return u.Status == StatusVerified
}

// CanAuthenticate reports whether the account state permits issuing or
// honouring sessions.
func (u *Identity) CanAuthenticate() bool {
	return u.IsActive && !u.IsBanned
}

func (u *Identity) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

func (u *Identity) GetEmail() string {
	if u.Email != nil {
		return *u.Email
	}
	return ""
}

func (u *Identity) GetPhone() string {
	if u.Phone != nil {
		return *u.Phone
	}
	return ""
}

// DisplayName falls back to the contact channel when no name is set.
func (u *Identity) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if email := u.GetEmail(); email != "" {
		return email
	}
	return u.GetPhone()
}

// Profile is the client-visible projection of an Identity. It never carries
// the password hash, refresh tokens or challenge state.
type Profile struct {
	ID                   string                  `json:"id"`
	Name                 string                  `json:"name"`
	Email                *string                 `json:"email,omitempty"`
	Phone                *string                 `json:"phone,omitempty"`
	AuthMethod           AuthMethod              `json:"authMethod"`
	IsVerified           bool                    `json:"isVerified"`
	Role                 Role                    `json:"role"`
	Avatar               *Avatar                 `json:"avatar,omitempty"`
	Location             Location                `json:"location"`
	ReportsCount         int                     `json:"reportsCount"`
	ResolvedReportsCount int                     `json:"resolvedReportsCount"`
	Reputation           int                     `json:"reputation"`
	Notifications        NotificationPreferences `json:"notifications"`
	LastLoginAt          *time.Time              `json:"lastLogin,omitempty"`
	CreatedAt            time.Time               `json:"createdAt"`
}

func (u *Identity) Profile() *Profile {
	return &Profile{
		ID:                   u.ID,
		Name:                 u.Name,
		Email:                u.Email,
		Phone:                u.Phone,
		AuthMethod:           u.AuthMethod,
		IsVerified:           u.IsVerified(),
		Role:                 u.Role,
		Avatar:               u.Avatar,
		Location:             u.Location,
		ReportsCount:         u.ReportsCount,
		ResolvedReportsCount: u.ResolvedReportsCount,
		Reputation:           u.Reputation,
		Notifications:        u.Notifications,
		LastLoginAt:          u.LastLoginAt,
		CreatedAt:            u.CreatedAt,
	}
}

// ChallengePurpose keys the one outstanding challenge an identity may hold.
type ChallengePurpose string

const (
	PurposeEmailVerification ChallengePurpose = "email_verification"
	PurposePhoneVerification ChallengePurpose = "phone_verification"
	PurposePasswordReset     ChallengePurpose = "password_reset"
)

type Challenge struct {
	IdentityID string
	Purpose    ChallengePurpose
	SecretHash string
	ExpiresAt  time.Time
	Attempts   int
	CreatedAt  time.Time
}

func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

type RefreshToken struct {
	ID         string
	IdentityID string
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}
