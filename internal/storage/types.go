package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrNotFound      = errors.New("not found")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Onboarding steps stored on a user.
const (
	StepNone     = ""
	StepTime     = "time"
	StepDuration = "duration"
	StepDone     = "done"
)

// Defaults applied to newly created users.
const (
	DefaultReminderTime = "09:00"
	DefaultDuration     = "10 min"
)

// User is a stored bot user and their reminder preferences.
type User struct {
	TelegramID        int64
	ChatID            int64
	Username          string
	FirstName         string
	ReminderTime      string
	Timezone          string // empty means the configured default zone
	PreferredDuration string
	CurrentDay        int
	OnboardingStep    string
	Onboarded         bool
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	OnboardedOnly bool
	ActiveOnly    bool
}

// AuditEntry records a reminder delivery event or an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	ID       string
	At       time.Time
	ActorID  int64 // 0 for the scheduler itself
	UserID   int64
	Action   string
	RunID    string
	OK       bool
	Error    string
	MetaJSON string
}

// Rating kinds accepted by RateSession.
const (
	RatingVideo   = "video"
	RatingMessage = "message"
)

// Session is the user's own report of one day's meditation. There is at most
// one per user and local date; ratings are 1..5 and 0 means not rated yet.
type Session struct {
	UserID        int64
	LocalDate     string
	Day           int
	Duration      string
	Completed     bool
	VideoRating   int
	MessageRating int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
