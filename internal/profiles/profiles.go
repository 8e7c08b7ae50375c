// Package profiles adapts stored users to reminder profiles.
package profiles

import (
	"context"
	"errors"

	"mindfulbot/internal/reminder"
	"mindfulbot/internal/storage"
)

// Lister is the read side of storage.Store.
type Lister interface {
	GetUser(ctx context.Context, telegramID int64) (storage.User, error)
	ListUsers(ctx context.Context, f storage.UserFilter) ([]storage.User, error)
}

// Source implements reminder.ProfileSource over a Lister.
type Source struct {
	users Lister
}

var _ reminder.ProfileSource = (*Source)(nil)

func NewSource(users Lister) *Source { return &Source{users: users} }

// FromUser projects a stored user onto the fields the scheduler reads.
func FromUser(u storage.User) reminder.Profile {
	return reminder.Profile{
		UserID:       u.TelegramID,
		ReminderTime: u.ReminderTime,
		Timezone:     u.Timezone,
		Active:       u.Active,
		Onboarded:    u.Onboarded,
	}
}

func (s *Source) ListActiveOnboarded(ctx context.Context) ([]reminder.Profile, error) {
	return s.list(ctx, storage.UserFilter{OnboardedOnly: true, ActiveOnly: true})
}

func (s *Source) ListOnboarded(ctx context.Context) ([]reminder.Profile, error) {
	return s.list(ctx, storage.UserFilter{OnboardedOnly: true})
}

func (s *Source) Profile(ctx context.Context, userID int64) (reminder.Profile, error) {
	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return reminder.Profile{}, reminder.ErrUnknownUser
	}
	if err != nil {
		return reminder.Profile{}, err
	}
	return FromUser(u), nil
}

func (s *Source) list(ctx context.Context, f storage.UserFilter) ([]reminder.Profile, error) {
	users, err := s.users.ListUsers(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]reminder.Profile, 0, len(users))
	for _, u := range users {
		out = append(out, FromUser(u))
	}
	return out, nil
}
