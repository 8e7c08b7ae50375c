package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownUser  = errors.New("unknown user")
	ErrNotOnboarded = errors.New("user has not completed onboarding")
	ErrInFlight     = errors.New("reminder already in flight for user")
	ErrDelivery     = errors.New("reminder delivery failed")
	ErrTracker      = errors.New("dispatch tracker unavailable")
)

// Profile is the part of a user's stored preferences the scheduler reads.
type Profile struct {
	UserID       int64
	ReminderTime string // "HH:MM", "H:MM" or "HH:MM:SS"
	Timezone     string // IANA name; empty means the configured default
	Active       bool
	Onboarded    bool
}

// ProfileSource is the read-only view of the profile store.
type ProfileSource interface {
	// ListActiveOnboarded returns profiles that are active AND onboarded.
	ListActiveOnboarded(ctx context.Context) ([]Profile, error)
	// ListOnboarded returns every onboarded profile, active or not.
	ListOnboarded(ctx context.Context) ([]Profile, error)
	// Profile returns one profile or ErrUnknownUser.
	Profile(ctx context.Context, userID int64) (Profile, error)
}

// Sender delivers one reminder. It owns message building and its own timeout.
type Sender interface {
	SendReminder(ctx context.Context, userID int64) error
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc func(ctx context.Context, userID int64) error

func (f SenderFunc) SendReminder(ctx context.Context, userID int64) error { return f(ctx, userID) }

// Field names used in DataQualityError.
const (
	FieldReminderTime = "reminder_time"
	FieldTimezone     = "timezone"
)

// DataQualityError reports a malformed reminder time or unknown timezone on a
// stored profile. The user is skipped for the current tick.
type DataQualityError struct {
	UserID int64
	Field  string
	Value  string
	Err    error
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("user %d: invalid %s %q: %v", e.UserID, e.Field, e.Value, e.Err)
}

func (e *DataQualityError) Unwrap() error { return e.Err }

// TickReport summarizes one tick.
type TickReport struct {
	RunID       string
	Bucket      string
	Skipped     bool // duplicate minute-bucket
	Checked     int
	Due         int
	Sent        int
	AlreadySent int
	Failed      int
	Invalid     int
	Canceled    int
}

// DispatchStats is the operational view exposed to tooling.
type DispatchStats struct {
	TotalEligibleUsers int       `json:"total_eligible_users"`
	DispatchedToday    int       `json:"dispatched_today"`
	At                 time.Time `json:"at"`
}

// Upcoming describes the next reminder of one onboarded user.
type Upcoming struct {
	UserID       int64     `json:"user_id"`
	ReminderTime string    `json:"reminder_time"`
	Timezone     string    `json:"timezone"`
	Active       bool      `json:"active"`
	Next         time.Time `json:"next,omitempty"`
	Error        string    `json:"error,omitempty"`
}
