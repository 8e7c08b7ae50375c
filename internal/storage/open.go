package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "mindfulbot/pkg/logx"
)

// Store is the persistence API used by the bot, the reminder tracker and the
// ops surfaces.
type Store interface {
	EnsureUser(ctx context.Context, u User) (User, bool, error)
	GetUser(ctx context.Context, telegramID int64) (User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)
	SetReminderTime(ctx context.Context, telegramID int64, hhmm string) error
	SetTimezone(ctx context.Context, telegramID int64, tz string) error
	SetPreferredDuration(ctx context.Context, telegramID int64, d string) error
	SetActive(ctx context.Context, telegramID int64, active bool) error
	SetOnboardingStep(ctx context.Context, telegramID int64, step string) error
	CompleteOnboarding(ctx context.Context, telegramID int64) error
	AdvanceDay(ctx context.Context, telegramID int64) (int, error)

	HasDispatch(ctx context.Context, userID int64, localDate string) (bool, error)
	InsertDispatch(ctx context.Context, userID int64, localDate string, at time.Time) (bool, error)
	DeleteDispatchesBefore(ctx context.Context, cutoff string) (int, error)

	RecordSession(ctx context.Context, s Session) (Session, error)
	RateSession(ctx context.Context, userID int64, localDate, kind string, rating int) error
	ListSessions(ctx context.Context, userID int64, limit int) ([]Session, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		st, err := openSQLite(cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
