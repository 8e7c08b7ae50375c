// Package bot implements the user-facing Telegram conversation: onboarding,
// reminder settings, session feedback and progress.
package bot

import (
	"context"
	"time"

	"mindfulbot/internal/reminder"
	"mindfulbot/internal/storage"
	"mindfulbot/internal/transport/telegram/router"
	logx "mindfulbot/pkg/logx"
)

// Users is the slice of storage.Store the conversation needs.
type Users interface {
	EnsureUser(ctx context.Context, u storage.User) (storage.User, bool, error)
	GetUser(ctx context.Context, telegramID int64) (storage.User, error)
	SetReminderTime(ctx context.Context, telegramID int64, hhmm string) error
	SetTimezone(ctx context.Context, telegramID int64, tz string) error
	SetPreferredDuration(ctx context.Context, telegramID int64, d string) error
	SetActive(ctx context.Context, telegramID int64, active bool) error
	SetOnboardingStep(ctx context.Context, telegramID int64, step string) error
	CompleteOnboarding(ctx context.Context, telegramID int64) error

	RecordSession(ctx context.Context, s storage.Session) (storage.Session, error)
	RateSession(ctx context.Context, userID int64, localDate, kind string, rating int) error
	ListSessions(ctx context.Context, userID int64, limit int) ([]storage.Session, error)
}

// Reminders is the slice of reminder.Scheduler the conversation needs.
type Reminders interface {
	ForceDispatch(ctx context.Context, userID int64) error
	Stats(ctx context.Context) (reminder.DispatchStats, error)
	Upcoming(ctx context.Context) ([]reminder.Upcoming, error)
	DefaultLocation() *time.Location
}

type Bot struct {
	users Users
	rem   Reminders
	log   logx.Logger
	now   func() time.Time

	// defaultTime seeds new users' reminder time; empty keeps the store default.
	defaultTime string
}

func New(users Users, rem Reminders, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{users: users, rem: rem, log: log.With(logx.String("comp", "bot")), now: time.Now}
}

// SetDefaultReminderTime sets the reminder time given to users created by
// /start. It is not safe to call once updates are being routed.
func (b *Bot) SetDefaultReminderTime(hhmm string) { b.defaultTime = hhmm }

// Register installs commands, callbacks and the free-text handler on m.
func (b *Bot) Register(m *router.Manager) {
	m.SetRegistry(b.Commands(), b.Callbacks())
	m.SetTextHandler(b.handleText)
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "set up your daily meditation reminder", Handle: b.cmdStart},
		{Name: "settings", Aliases: []string{"menu"}, Description: "show your reminder settings", Handle: b.cmdSettings},
		{Name: "time", Description: "set reminder time", Usage: "/time HH:MM", Handle: b.cmdTime},
		{Name: "timezone", Aliases: []string{"tz"}, Description: "set your timezone", Usage: "/timezone Area/City", Handle: b.cmdTimezone},
		{Name: "duration", Description: "set session length", Usage: "/duration [15 min]", Handle: b.cmdDuration},
		{Name: "next", Description: "when is my next reminder", Handle: b.cmdNext},
		{Name: "progress", Description: "your sessions, streak and ratings", Handle: b.cmdProgress},
		{Name: "pause", Description: "pause daily reminders", Handle: b.cmdPause},
		{Name: "resume", Description: "resume daily reminders", Handle: b.cmdResume},
		{Name: "test", Description: "send today's reminder now", Timeout: 30 * time.Second, Handle: b.cmdTest},
		{Name: "stats", Access: router.AccessOwnerOnly, Description: "reminder delivery stats", Handle: b.cmdStats},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Scope: scopeOnboard, Action: "duration", Handle: b.cbOnboardDuration},
		{Scope: scopeSettings, Action: "duration", Handle: b.cbSetDuration},
		{Scope: scopeSettings, Action: "time", Handle: b.cbSetTime},
		{Scope: scopeSettings, Action: "tz", Handle: b.cbSetTimezone},
		{Scope: scopeSettings, Action: "pick", Handle: b.cbPick},
		{Scope: "menu", Action: "settings", Handle: func(ctx context.Context, req *router.Request, _ string) error {
			return b.cmdSettings(ctx, req)
		}},
		{Scope: "reminder", Action: "done", Handle: b.cbDone},
		{Scope: scopeRate, Action: storage.RatingVideo, Handle: b.cbRate(storage.RatingVideo)},
		{Scope: scopeRate, Action: storage.RatingMessage, Handle: b.cbRate(storage.RatingMessage)},
		{Scope: "reminder", Action: "test", Timeout: 30 * time.Second, Handle: func(ctx context.Context, req *router.Request, _ string) error {
			return b.cmdTest(ctx, req)
		}},
	}
}
