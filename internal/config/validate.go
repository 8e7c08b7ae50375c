package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mindfulbot/internal/reminder"
)

const (
	DefaultSchedule     = "* * * * *"
	DefaultTimezone     = "UTC"
	DefaultReminderTime = "09:00"
	DefaultHTTPAddr     = "127.0.0.1:8080"

	TrackerMemory  = "memory"
	TrackerStorage = "storage"
)

// ApplyDefaults fills omitted fields. It never overrides explicit values.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	r := &c.Reminders
	if strings.TrimSpace(r.Schedule) == "" {
		r.Schedule = DefaultSchedule
	}
	if strings.TrimSpace(r.DefaultTimezone) == "" {
		r.DefaultTimezone = DefaultTimezone
	}
	if strings.TrimSpace(r.DefaultReminderTime) == "" {
		r.DefaultReminderTime = DefaultReminderTime
	}
	if strings.TrimSpace(r.Tracker) == "" {
		if c.StorageEnabled() {
			r.Tracker = TrackerStorage
		} else {
			r.Tracker = TrackerMemory
		}
	}
	if r.Workers <= 0 {
		r.Workers = 4
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
}

// StorageEnabled reports whether a storage driver is configured.
func (c *Config) StorageEnabled() bool {
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	return d != "" && d != "none"
}

// Validate rejects configs that would fail at runtime. It is used both at
// startup and before committing a hot reload.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	if c.StorageEnabled() {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required when storage.driver is set"))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	r := c.Reminders
	if _, err := time.LoadLocation(strings.TrimSpace(r.DefaultTimezone)); err != nil {
		errs = append(errs, fmt.Errorf("reminders.default_timezone: invalid %q: %w", r.DefaultTimezone, err))
	}
	if _, err := reminder.ParseClock(r.DefaultReminderTime); err != nil {
		errs = append(errs, fmt.Errorf("reminders.default_reminder_time: %w", err))
	}
	if strings.TrimSpace(r.Schedule) != "" {
		p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := p.Parse(r.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("reminders.schedule: invalid %q: %w", r.Schedule, err))
		}
	}
	switch r.Tracker {
	case "", TrackerMemory:
	case TrackerStorage:
		if !c.StorageEnabled() {
			errs = append(errs, errors.New("reminders.tracker=storage requires storage.driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("reminders.tracker: unknown tracker %q", r.Tracker))
	}
	if r.Workers < 0 {
		errs = append(errs, errors.New("reminders.workers must be >= 0"))
	}
	if _, err := ParseDurationField("reminders.send_timeout", r.SendTimeout); err != nil {
		errs = append(errs, err)
	}

	d := c.Delivery
	if d.RatePerSec < 0 {
		errs = append(errs, errors.New("delivery.rate_per_sec must be >= 0"))
	}
	if d.RetryMax < 0 {
		errs = append(errs, errors.New("delivery.retry_max must be >= 0"))
	}
	if _, err := ParseDurationField("delivery.retry_base", d.RetryBase); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("delivery.retry_max_delay", d.RetryMaxDelay); err != nil {
		errs = append(errs, err)
	}

	h := c.HTTP
	if h.Enabled {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(h.Addr)); err != nil {
			errs = append(errs, fmt.Errorf("http.addr: invalid %q: %w", h.Addr, err))
		}
	}

	return errors.Join(errs...)
}
