package domain

import "time"

// User is the identity of an authenticated customer.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// SessionScope distinguishes general sessions from password-recovery ones.
type SessionScope string

const (
	ScopeGeneral  SessionScope = "general"
	ScopeRecovery SessionScope = "recovery"
)

// CustomerSession is a fully verified identity session. Partially verified
// flows are represented by AuthChallenge instead.
type CustomerSession struct {
	AccessToken  string       `json:"-"`
	RefreshToken string       `json:"-"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	User         User         `json:"user"`
	Scope        SessionScope `json:"scope"`
}

// ExpiredAt reports whether the session is unusable at now, allowing skew.
func (s *CustomerSession) ExpiredAt(now time.Time, skew time.Duration) bool {
	if s == nil {
		return true
	}
	return !now.Add(skew).Before(s.ExpiresAt)
}

// ChallengePurpose is why an OTP challenge was issued.
type ChallengePurpose string

const (
	PurposeSignUp        ChallengePurpose = "sign-up"
	PurposeSignIn        ChallengePurpose = "sign-in"
	PurposePasswordReset ChallengePurpose = "password-reset"
)

// Valid reports whether p is a known purpose.
func (p ChallengePurpose) Valid() bool {
	switch p {
	case PurposeSignUp, PurposeSignIn, PurposePasswordReset:
		return true
	}
	return false
}

// AuthChallenge is an outstanding OTP challenge. Expiry is enforced by the
// identity platform, not locally.
type AuthChallenge struct {
	Email    string           `json:"email"`
	Purpose  ChallengePurpose `json:"purpose"`
	IssuedAt time.Time        `json:"issuedAt"`
}

// AuthPhase is the coarse authentication state of a browsing session.
type AuthPhase string

const (
	PhaseAnonymous       AuthPhase = "anonymous"
	PhaseChallengeIssued AuthPhase = "challenge_issued"
	PhaseAuthenticated   AuthPhase = "authenticated"
)

// Profile holds non-auth customer attributes, keyed by customer id.
type Profile struct {
	CustomerID   string    `json:"customerId"`
	Gender       string    `json:"gender,omitempty"`
	BirthDate    string    `json:"birthDate,omitempty"`
	PostalCode   string    `json:"postalCode,omitempty"`
	Prefecture   string    `json:"prefecture,omitempty"`
	City         string    `json:"city,omitempty"`
	AddressLine1 string    `json:"addressLine1,omitempty"`
	AddressLine2 string    `json:"addressLine2,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
