package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront/internal/domain"
)

// CookieTTL bounds how long a durable session cookie is honored. The access
// token inside usually expires much sooner and is refreshed on resume.
const CookieTTL = 30 * 24 * time.Hour

// ErrInvalidCookie is returned for cookies that fail signature or claim checks.
var ErrInvalidCookie = errors.New("invalid session cookie")

type cookieClaims struct {
	AccessToken  string `json:"at"`
	RefreshToken string `json:"rt"`
	Email        string `json:"email"`
	SessionExp   int64  `json:"sx"`
	jwt.RegisteredClaims
}

// Codec signs and verifies the durable session cookie.
type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// Encode serializes a general-scope session. Recovery sessions are never
// persisted.
func (c *Codec) Encode(sess *domain.CustomerSession) (string, error) {
	if sess == nil || sess.Scope == domain.ScopeRecovery {
		return "", fmt.Errorf("encode session cookie: session not persistable")
	}
	now := c.now()
	claims := cookieClaims{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		Email:        sess.User.Email,
		SessionExp:   sess.ExpiresAt.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.User.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(CookieTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies a cookie value and returns the unvalidated session it
// carries. The session must still be checked with the identity platform.
func (c *Codec) Decode(value string) (*domain.CustomerSession, error) {
	claims := &cookieClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	if claims.AccessToken == "" || claims.Subject == "" {
		return nil, ErrInvalidCookie
	}
	return &domain.CustomerSession{
		AccessToken:  claims.AccessToken,
		RefreshToken: claims.RefreshToken,
		ExpiresAt:    time.Unix(claims.SessionExp, 0).UTC(),
		User:         domain.User{ID: claims.Subject, Email: claims.Email},
		Scope:        domain.ScopeGeneral,
	}, nil
}
