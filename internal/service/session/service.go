// Package session runs the customer authentication state machine on top of
// the identity platform and keeps the browsing session's view of it current.
package session

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"storefront/internal/domain"
	"storefront/internal/metrics"
	profilerepo "storefront/internal/repository/profile"
	"storefront/internal/state"
)

const (
	// refreshSkew treats a session as expired shortly before its deadline so
	// callers never hold a token that lapses mid-request.
	refreshSkew    = 30 * time.Second
	detachedWait   = 10 * time.Second
	passwordMinLen = 8
)

type identityGateway interface {
	RequestOTP(ctx context.Context, email string, createUser bool) error
	RequestRecovery(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, token, otpType string) (*domain.CustomerSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (*domain.CustomerSession, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.CustomerSession, error)
	GetUser(ctx context.Context, accessToken string) (*domain.User, error)
	UpdatePassword(ctx context.Context, accessToken, password string) error
	Logout(ctx context.Context, accessToken string) error
	AdminGetUser(ctx context.Context, id string) (*domain.User, error)
	AdminUpdateUser(ctx context.Context, id, firstName, lastName string) (*domain.User, error)
}

// Service is the session coordinator.
type Service struct {
	gw       identityGateway
	profiles profilerepo.Repository
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *log.Logger
	now      func() time.Time

	refreshes singleflight.Group
}

func New(gw identityGateway, profiles profilerepo.Repository, m *metrics.Metrics, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		gw:       gw,
		profiles: profiles,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// RequestChallenge asks the identity platform to email a one-time code for
// purpose. For password resets the outcome is identical whether or not the
// address is registered.
func (s *Service) RequestChallenge(ctx context.Context, store *state.Store, email string, purpose domain.ChallengePurpose) error {
	const op = "session.requestChallenge"
	email, err := s.normalizeEmail(op, email)
	if err != nil {
		return err
	}
	if !purpose.Valid() {
		return domain.Validation(op, "unknown purpose %q", purpose)
	}

	switch purpose {
	case domain.PurposeSignUp:
		err = s.gw.RequestOTP(ctx, email, true)
	case domain.PurposeSignIn:
		err = s.gw.RequestOTP(ctx, email, false)
	case domain.PurposePasswordReset:
		err = s.gw.RequestRecovery(ctx, email)
		if errors.Is(err, domain.ErrRejected) {
			s.logger.Printf("session: recovery request suppressed kind=%s", domain.KindOf(err))
			err = nil
		}
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	challenge := &domain.AuthChallenge{Email: email, Purpose: purpose, IssuedAt: s.now().UTC()}
	store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		cur.Challenge = challenge
		return cur, true
	})
	return nil
}

// VerifyChallenge exchanges a one-time code for a session. Sign-up and
// sign-in produce the authenticated session. A password-reset code produces
// a recovery-scoped session that only authorizes UpdatePassword. A wrong or
// expired code leaves the challenge outstanding.
func (s *Service) VerifyChallenge(ctx context.Context, store *state.Store, email, code string, purpose domain.ChallengePurpose) (*domain.CustomerSession, error) {
	const op = "session.verifyChallenge"
	email, err := s.normalizeEmail(op, email)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.Validation(op, "code is required")
	}
	otpType, ok := verificationTypes[purpose]
	if !ok {
		return nil, domain.Validation(op, "unknown purpose %q", purpose)
	}

	sess, err := s.gw.VerifyOTP(ctx, email, code, otpType)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if purpose == domain.PurposePasswordReset {
		recovery := *sess
		recovery.Scope = domain.ScopeRecovery
		store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
			cur.Recovery = &recovery
			cur.Challenge = nil
			return cur, true
		})
		return &recovery, nil
	}

	s.establish(store, sess)
	return sess, nil
}

var verificationTypes = map[domain.ChallengePurpose]string{
	domain.PurposeSignUp:        "signup",
	domain.PurposeSignIn:        "email",
	domain.PurposePasswordReset: "recovery",
}

// SignIn authenticates with email and password. On failure the state is left
// as it was.
func (s *Service) SignIn(ctx context.Context, store *state.Store, email, password string) (*domain.CustomerSession, error) {
	const op = "session.signIn"
	email, err := s.normalizeEmail(op, email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, domain.Validation(op, "password is required")
	}
	sess, err := s.gw.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.establish(store, sess)
	return sess, nil
}

// UpdatePassword sets a new password using the recovery session when one is
// held, otherwise the authenticated session (refreshed first when it is near
// expiry). It completes even if ctx is cancelled.
func (s *Service) UpdatePassword(ctx context.Context, store *state.Store, password string) error {
	const op = "session.updatePassword"
	ctx = context.WithoutCancel(ctx)
	if len(password) < passwordMinLen {
		return domain.Validation(op, "password must be at least %d characters", passwordMinLen)
	}

	sess := store.Load().Recovery
	if sess == nil {
		current, err := s.CurrentSession(ctx, store)
		if err != nil {
			return err
		}
		sess = current
	}
	if sess == nil {
		return domain.Unauthorized(op, "no session")
	}
	if sess.ExpiredAt(s.now(), 0) {
		return domain.Unauthorized(op, "session expired")
	}

	ctx, cancel := context.WithTimeout(ctx, detachedWait)
	defer cancel()
	if err := s.gw.UpdatePassword(ctx, sess.AccessToken, password); err != nil {
		return err
	}
	if sess.Scope == domain.ScopeRecovery {
		store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
			if cur.Recovery != sess {
				return cur, false
			}
			cur.Recovery = nil
			return cur, true
		})
	}
	return nil
}

// CurrentSession returns the authenticated session, refreshing it first when
// it is at or near expiry. When the refresh fails the state is cleared to
// anonymous with a re-authentication prompt and nil is returned; an expired
// session is never handed out.
func (s *Service) CurrentSession(ctx context.Context, store *state.Store) (*domain.CustomerSession, error) {
	sess := store.Load().Session
	if sess == nil {
		return nil, nil
	}
	if !sess.ExpiredAt(s.now(), refreshSkew) {
		return sess, nil
	}

	// Refresh tokens are single use, so concurrent readers share one call.
	v, err, _ := s.refreshes.Do(sess.RefreshToken, func() (any, error) {
		if sess.RefreshToken == "" {
			return nil, domain.Unauthorized("session.refresh", "no refresh token")
		}
		return s.gw.Refresh(context.WithoutCancel(ctx), sess.RefreshToken)
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		s.metrics.SessionRefresh(false)
		s.logger.Printf("session: refresh failed user=%s kind=%s", sess.User.ID, domain.KindOf(err))
		snap, _ := store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
			if cur.Session != sess {
				return cur, false
			}
			return cur.Anonymous(true), true
		})
		return s.usable(snap.Session), nil
	}

	s.metrics.SessionRefresh(true)
	fresh := v.(*domain.CustomerSession)
	snap, _ := store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		if cur.Session != sess {
			return cur, false
		}
		cur.Session = fresh
		return cur, true
	})
	return s.usable(snap.Session), nil
}

// SignOut clears the local state and revokes the session at the identity
// platform on a best-effort basis.
func (s *Service) SignOut(ctx context.Context, store *state.Store) {
	var prev state.Snapshot
	store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		prev = cur
		return cur.Anonymous(false), true
	})
	if prev.Session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedWait)
	defer cancel()
	if err := s.gw.Logout(ctx, prev.Session.AccessToken); err != nil {
		s.logger.Printf("session: logout user=%s err=%v", prev.Session.User.ID, err)
	}
}

// Resume re-derives the session from a durable cookie payload and validates
// it against the identity platform before trusting it. Invalid or expired
// tokens leave the store anonymous. Transport failures are returned so the
// caller can keep the cookie for a later attempt.
func (s *Service) Resume(ctx context.Context, store *state.Store, saved *domain.CustomerSession) error {
	if saved == nil || saved.AccessToken == "" {
		return nil
	}

	var (
		sess *domain.CustomerSession
		err  error
	)
	if !saved.ExpiredAt(s.now(), refreshSkew) {
		var user *domain.User
		user, err = s.gw.GetUser(ctx, saved.AccessToken)
		if err == nil {
			validated := *saved
			validated.User = *user
			validated.Scope = domain.ScopeGeneral
			sess = &validated
		}
	}
	if sess == nil && !errors.Is(err, domain.ErrUpstream) && saved.RefreshToken != "" {
		sess, err = s.gw.Refresh(ctx, saved.RefreshToken)
		s.metrics.SessionRefresh(err == nil)
	}
	if sess == nil {
		if errors.Is(err, domain.ErrUpstream) {
			return err
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		if cur.Session != nil {
			return cur, false
		}
		cur.Session = sess
		cur.ReauthRequired = false
		return cur, true
	})
	return nil
}

// Account re-reads the signed-in customer from the identity platform by id and
// replaces the copy held in the session.
func (s *Service) Account(ctx context.Context, store *state.Store) (*domain.User, error) {
	const op = "session.account"
	sess, err := s.requireSession(ctx, op, store)
	if err != nil {
		return nil, err
	}
	user, err := s.gw.AdminGetUser(ctx, sess.User.ID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.replaceUser(store, *user)
	return user, nil
}

// UpdateAccount changes the display name of the signed-in customer.
func (s *Service) UpdateAccount(ctx context.Context, store *state.Store, firstName, lastName string) (*domain.User, error) {
	const op = "session.updateAccount"
	in := struct {
		FirstName string `validate:"max=64"`
		LastName  string `validate:"max=64"`
	}{strings.TrimSpace(firstName), strings.TrimSpace(lastName)}
	if err := s.validate.Struct(in); err != nil {
		return nil, domain.Validation(op, "%s", fieldErrors(err))
	}

	sess, err := s.requireSession(ctx, op, store)
	if err != nil {
		return nil, err
	}
	user, err := s.gw.AdminUpdateUser(ctx, sess.User.ID, in.FirstName, in.LastName)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.replaceUser(store, *user)
	return user, nil
}

func (s *Service) replaceUser(store *state.Store, user domain.User) {
	store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		if cur.Session == nil || cur.Session.User.ID != user.ID {
			return cur, false
		}
		updated := *cur.Session
		if user.Email != "" {
			updated.User.Email = user.Email
		}
		updated.User.FirstName = user.FirstName
		updated.User.LastName = user.LastName
		cur.Session = &updated
		return cur, true
	})
}

func (s *Service) establish(store *state.Store, sess *domain.CustomerSession) {
	store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		if cur.Session == nil || cur.Session.User.ID != sess.User.ID {
			cur.Profile = nil
		}
		cur.Session = sess
		cur.Challenge = nil
		cur.Recovery = nil
		cur.ReauthRequired = false
		return cur, true
	})
}

func (s *Service) requireSession(ctx context.Context, op string, store *state.Store) (*domain.CustomerSession, error) {
	sess, err := s.CurrentSession(ctx, store)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.Unauthorized(op, "sign in required")
	}
	return sess, nil
}

func (s *Service) usable(sess *domain.CustomerSession) *domain.CustomerSession {
	if sess.ExpiredAt(s.now(), 0) {
		return nil
	}
	return sess
}

func (s *Service) normalizeEmail(op, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return "", domain.Validation(op, "a valid email address is required")
	}
	return email, nil
}

func fieldErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" is invalid ("+fe.Tag()+")")
	}
	return strings.Join(parts, "; ")
}
