package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mindfulbot/internal/config"
	"mindfulbot/internal/httpapi"
	"mindfulbot/internal/notifier"
	"mindfulbot/internal/storage"
	"mindfulbot/internal/task/scheduler"
)

var errStorageRequired = errors.New("storage.driver is required: user profiles are stored there")

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || !cfg.StorageEnabled() {
		return storage.Config{}, errStorageRequired
	}
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	dl := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch dl {
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapNotifierConfig builds delivery settings. A zero retry_max means the
// default of 2 retries.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	d := cfg.Delivery
	retryBase, err := config.ParseDurationOrDefault("delivery.retry_base", d.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("delivery.retry_max_delay", d.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("reminders.send_timeout", cfg.Reminders.SendTimeout, 15*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax := d.RetryMax
	if retryMax == 0 {
		retryMax = 2
	}
	return notifier.Config{
		RatePerSec:    d.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		SendTimeout:   sendTimeout,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	h := cfg.HTTP
	return httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          h.Addr,
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	// Cron fields are UTC; "* * * * *" is zone-agnostic and users' zones are
	// resolved per profile by the reminder scheduler.
	return scheduler.Config{Enabled: cfg.Reminders.Enabled, Timezone: "UTC"}
}
