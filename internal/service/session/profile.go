package session

import (
	"context"
	"errors"
	"strings"

	"storefront/internal/domain"
	"storefront/internal/state"
)

// ProfileInput is the editable part of a profile. The customer id always
// comes from the session.
type ProfileInput struct {
	Gender       string `json:"gender" validate:"omitempty,oneof=female male other unspecified"`
	BirthDate    string `json:"birthDate" validate:"omitempty,datetime=2006-01-02"`
	PostalCode   string `json:"postalCode" validate:"omitempty,max=16"`
	Prefecture   string `json:"prefecture" validate:"omitempty,max=32"`
	City         string `json:"city" validate:"omitempty,max=64"`
	AddressLine1 string `json:"addressLine1" validate:"omitempty,max=128"`
	AddressLine2 string `json:"addressLine2" validate:"omitempty,max=128"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
}

// Profile returns the signed-in customer's profile. A customer without a
// stored record gets an empty profile.
func (s *Service) Profile(ctx context.Context, store *state.Store) (*domain.Profile, error) {
	const op = "session.profile"
	sess, err := s.requireSession(ctx, op, store)
	if err != nil {
		return nil, err
	}
	if cached := store.Load().Profile; cached != nil && cached.CustomerID == sess.User.ID {
		return cached, nil
	}

	p, err := s.profiles.Get(ctx, sess.User.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return &domain.Profile{CustomerID: sess.User.ID}, nil
	case err != nil:
		return nil, err
	}
	s.cacheProfile(store, p)
	return p, nil
}

// SaveProfile validates and upserts the signed-in customer's profile.
func (s *Service) SaveProfile(ctx context.Context, store *state.Store, in ProfileInput) (*domain.Profile, error) {
	const op = "session.saveProfile"
	in = trimProfile(in)
	if err := s.validate.Struct(in); err != nil {
		return nil, domain.Validation(op, "%s", fieldErrors(err))
	}
	sess, err := s.requireSession(ctx, op, store)
	if err != nil {
		return nil, err
	}

	saved, err := s.profiles.Upsert(ctx, domain.Profile{
		CustomerID:   sess.User.ID,
		Gender:       in.Gender,
		BirthDate:    in.BirthDate,
		PostalCode:   in.PostalCode,
		Prefecture:   in.Prefecture,
		City:         in.City,
		AddressLine1: in.AddressLine1,
		AddressLine2: in.AddressLine2,
		Phone:        in.Phone,
	})
	if err != nil {
		return nil, err
	}
	s.cacheProfile(store, saved)
	return saved, nil
}

func (s *Service) cacheProfile(store *state.Store, p *domain.Profile) {
	store.Update(func(cur state.Snapshot) (state.Snapshot, bool) {
		if cur.Session == nil || cur.Session.User.ID != p.CustomerID {
			return cur, false
		}
		cur.Profile = p
		return cur, true
	})
}

func trimProfile(in ProfileInput) ProfileInput {
	for _, f := range []*string{
		&in.Gender, &in.BirthDate, &in.PostalCode, &in.Prefecture,
		&in.City, &in.AddressLine1, &in.AddressLine2, &in.Phone,
	} {
		*f = strings.TrimSpace(*f)
	}
	return in
}
