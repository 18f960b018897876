// Package identity is the client for the identity platform's REST auth API.
package identity

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront/internal/domain"
	"storefront/internal/gateway"
	"storefront/internal/metrics"
)

// Config configures the identity client.
type Config struct {
	BaseURL     string
	AnonKey     string
	ServiceKey  string
	Timeout     time.Duration
	MaxAttempts int
	HTTPClient  *http.Client
	Metrics     *metrics.Metrics
	Logger      *log.Logger
	Now         func() time.Time
}

// Client talks to the identity platform.
type Client struct {
	gw         *gateway.Client
	serviceKey string
	now        func() time.Time
}

// New builds a Client.
func New(cfg Config) *Client {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		gw: gateway.New(gateway.Options{
			Name:        "identity",
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.Timeout,
			MaxAttempts: cfg.MaxAttempts,
			Headers:     map[string]string{"apikey": cfg.AnonKey},
			HTTPClient:  cfg.HTTPClient,
			Metrics:     cfg.Metrics,
			Logger:      cfg.Logger,
		}),
		serviceKey: cfg.ServiceKey,
		now:        now,
	}
}

type userPayload struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type sessionPayload struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         userPayload `json:"user"`
}

type errorPayload struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorCode        string `json:"error_code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (p errorPayload) text() string {
	for _, s := range []string{p.Msg, p.Message, p.ErrorDescription, p.Error, p.ErrorCode} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// RequestOTP asks the platform to email a one-time code. createUser allows
// the platform to register an unknown address (sign-up).
func (c *Client) RequestOTP(ctx context.Context, email string, createUser bool) error {
	resp, err := c.gw.Do(ctx, gateway.Request{
		Op:   "otp",
		Path: "/otp",
		Body: map[string]any{"email": email, "create_user": createUser},
	})
	if err != nil {
		return err
	}
	return c.check("otp", resp, domain.KindRejected)
}

// RequestRecovery sends a password-recovery code.
func (c *Client) RequestRecovery(ctx context.Context, email string) error {
	resp, err := c.gw.Do(ctx, gateway.Request{
		Op:   "recover",
		Path: "/recover",
		Body: map[string]any{"email": email},
	})
	if err != nil {
		return err
	}
	return c.check("recover", resp, domain.KindRejected)
}

// VerifyOTP exchanges a one-time code for a session. otpType is the
// platform's verification type ("email", "signup", "recovery").
func (c *Client) VerifyOTP(ctx context.Context, email, token, otpType string) (*domain.CustomerSession, error) {
	resp, err := c.gw.Do(ctx, gateway.Request{
		Op:   "verify",
		Path: "/verify",
		Body: map[string]any{"email": email, "token": token, "type": otpType},
	})
	if err != nil {
		return nil, err
	}
	if err := c.check("verify", resp, domain.KindInvalidChallenge); err != nil {
		return nil, err
	}
	return c.decodeSession("verify", resp)
}

// SignInWithPassword performs a password grant.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.CustomerSession, error) {
	resp, err := c.gw.Do(ctx, gateway.Request{
		Op:    "token_password",
		Path:  "/token",
		Query: url.Values{"grant_type": {"password"}},
		Body:  map[string]any{"email": email, "password": password},
	})
	if err != nil {
		return nil, err
	}
	if err := c.check("token_password", resp, domain.KindRejected); err != nil {
		return nil, err
	}
	return c.decodeSession("token_password", resp)
}

// Refresh exchanges a refresh token for a new session. The platform rotates
// the token on first use, so a lost response is never retried here.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.CustomerSession, error) {
	resp, err := c.gw.Do(ctx, gateway.Request{
		Op:    "token_refresh",
		Path:  "/token",
		Query: url.Values{"grant_type": {"refresh_token"}},
		Body:  map[string]any{"refresh_token": refreshToken},
	})
	if err != nil {
		return nil, err
	}
	if err := c.check("token_refresh", resp, domain.KindUnauthorized); err != nil {
		return nil, err
	}
	return c.decodeSession("token_refresh", resp)
}

// GetUser validates an access token and returns its user.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*domain.User, error) {
	resp, err := c.gw.Do(ctx, gateway.Request{
		Op:     "user",
		Method: http.MethodGet,
		Path:   "/user",
		Header: bearer(accessToken),
		Retry:  true,
	})
	if err != nil {
		return nil, err
	}
	if err := c.check("user", resp, domain.KindUnauthorized); err != nil {
		return nil, err
	}
	return decodeUser("user", resp)
}

// UpdatePassword sets a new password for the token's user.
func (c *Client) UpdatePassword(ctx context.Context, accessToken, password string) error {
	resp, err := c.gw.Do(ctx, gateway.Request{
		Op:     "update_password",
		Method: http.MethodPut,
		Path:   "/user",
		Header: bearer(accessToken),
		Body:   map[string]any{"password": password},
	})
	if err != nil {
		return err
	}
	return c.check("update_password", resp, domain.KindUnauthorized)
}

// Logout revokes the session behind accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	resp, err := c.gw.Do(ctx, gateway.Request{
		Op:     "logout",
		Path:   "/logout",
		Header: bearer(accessToken),
	})
	if err != nil {
		return err
	}
	return c.check("logout", resp, domain.KindUnauthorized)
}

// AdminGetUser looks up a user by id with the service key.
func (c *Client) AdminGetUser(ctx context.Context, id string) (*domain.User, error) {
	resp, err := c.gw.Do(ctx, gateway.Request{
		Op:     "admin_get_user",
		Method: http.MethodGet,
		Path:   "/admin/users/" + url.PathEscape(id),
		Header: bearer(c.serviceKey),
		Retry:  true,
	})
	if err != nil {
		return nil, err
	}
	if err := c.check("admin_get_user", resp, domain.KindRejected); err != nil {
		return nil, err
	}
	return decodeUser("admin_get_user", resp)
}

// AdminUpdateUser replaces the user's display name metadata.
func (c *Client) AdminUpdateUser(ctx context.Context, id, firstName, lastName string) (*domain.User, error) {
	resp, err := c.gw.Do(ctx, gateway.Request{
		Op:     "admin_update_user",
		Method: http.MethodPut,
		Path:   "/admin/users/" + url.PathEscape(id),
		Header: bearer(c.serviceKey),
		Body: map[string]any{"user_metadata": map[string]any{
			"first_name": firstName,
			"last_name":  lastName,
		}},
		Retry: true,
	})
	if err != nil {
		return nil, err
	}
	if err := c.check("admin_update_user", resp, domain.KindRejected); err != nil {
		return nil, err
	}
	return decodeUser("admin_update_user", resp)
}

// check maps a non-2xx response to a classified error. Credential failures
// (401/403) are unauthorized unless the call is a code verification; other
// 4xx responses use kind.
func (c *Client) check(op string, resp *gateway.Response, kind domain.Kind) error {
	if resp.OK() {
		return nil
	}
	var p errorPayload
	_ = resp.Decode(&p)
	msg := p.text()
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.Status)
	}
	if (resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden) && kind != domain.KindInvalidChallenge {
		kind = domain.KindUnauthorized
	}
	return &domain.Error{Kind: kind, Op: "identity." + op, Message: msg}
}

func (c *Client) decodeSession(op string, resp *gateway.Response) (*domain.CustomerSession, error) {
	var p sessionPayload
	if err := resp.Decode(&p); err != nil {
		return nil, domain.Upstream("identity."+op, fmt.Errorf("decode session: %w", err))
	}
	if p.AccessToken == "" || p.User.ID == "" {
		return nil, domain.Upstream("identity."+op, fmt.Errorf("incomplete session payload"))
	}
	return &domain.CustomerSession{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    c.expiry(p),
		User:         toUser(p.User),
		Scope:        domain.ScopeGeneral,
	}, nil
}

func (c *Client) expiry(p sessionPayload) time.Time {
	switch {
	case p.ExpiresAt > 0:
		return time.Unix(p.ExpiresAt, 0).UTC()
	case p.ExpiresIn > 0:
		return c.now().Add(time.Duration(p.ExpiresIn) * time.Second).UTC()
	}
	if exp, ok := TokenExpiry(p.AccessToken); ok {
		return exp
	}
	// Without any expiry hint the token is treated as already stale so the
	// next read refreshes it.
	return c.now().UTC()
}

// TokenExpiry reads the exp claim of a JWT access token without verifying
// it. The platform remains the authority on validity.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time.UTC(), true
}

func decodeUser(op string, resp *gateway.Response) (*domain.User, error) {
	var p userPayload
	if err := resp.Decode(&p); err != nil {
		return nil, domain.Upstream("identity."+op, fmt.Errorf("decode user: %w", err))
	}
	if p.ID == "" {
		return nil, domain.Upstream("identity."+op, fmt.Errorf("user without id"))
	}
	u := toUser(p)
	return &u, nil
}

func toUser(p userPayload) domain.User {
	u := domain.User{ID: p.ID, Email: strings.ToLower(p.Email)}
	if v, ok := p.UserMetadata["first_name"].(string); ok {
		u.FirstName = v
	}
	if v, ok := p.UserMetadata["last_name"].(string); ok {
		u.LastName = v
	}
	return u
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
