package app

import (
	"time"

	"mindfulbot/internal/config"
	"mindfulbot/internal/reminder"
	"mindfulbot/internal/storage"
	telegram "mindfulbot/internal/transport/telegram/adapter"
	logx "mindfulbot/pkg/logx"
)

// tickTimeout bounds one reminder tick so a stuck run cannot overlap the next
// minute's trigger for long.
const tickTimeout = 55 * time.Second

const tickJobName = "reminders.tick"

func newTelegramAdapter(cfg *config.Config, log logx.Logger) (*telegram.Adapter, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, log)
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func newTracker(cfg *config.Config, store storage.Store) reminder.Tracker {
	if cfg.Reminders.Tracker == config.TrackerMemory {
		return reminder.NewMemoryTracker()
	}
	return reminder.NewStoreTracker(store)
}

func defaultLocation(cfg *config.Config, log logx.Logger) *time.Location {
	loc, err := reminder.ResolveLocation(cfg.Reminders.DefaultTimezone, time.UTC)
	if err != nil {
		log.Warn("invalid default timezone, using UTC", logx.String("tz", cfg.Reminders.DefaultTimezone), logx.Err(err))
		return time.UTC
	}
	return loc
}
