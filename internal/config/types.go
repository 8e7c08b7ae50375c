package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Reminders RemindersConfig `json:"reminders"`
	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the SQLite database holding user profiles,
// dispatch records and the audit trail.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/mindfulbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// RemindersConfig controls the daily reminder tick.
//
// Defaults (when fields are omitted/zero):
//   - schedule: "* * * * *" (once per minute)
//   - default_timezone: "UTC"
//   - default_reminder_time: "09:00"
//   - tracker: "storage" when storage is configured, else "memory"
//   - workers: 4
//   - send_timeout: "15s"
type RemindersConfig struct {
	Enabled             bool   `json:"enabled"`
	Schedule            string `json:"schedule,omitempty"`
	DefaultTimezone     string `json:"default_timezone,omitempty"`
	DefaultReminderTime string `json:"default_reminder_time,omitempty"`
	Tracker             string `json:"tracker,omitempty"`
	Workers             int    `json:"workers,omitempty"`
	SendTimeout         string `json:"send_timeout,omitempty"`
}

// DeliveryConfig controls how reminder messages are pushed to Telegram.
// All durations are Go duration strings (e.g. "500ms", "10s").
type DeliveryConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// HTTPConfig controls the operational HTTP API (health, stats, metrics).
//
// Prefer binding to localhost. A non-loopback addr needs a token unless
// allow_insecure is set; /health is always open.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
