package app

import (
	"context"
	"errors"

	"mindfulbot/internal/config"
	"mindfulbot/internal/profiles"
	"mindfulbot/internal/reminder"
	"mindfulbot/internal/storage"
	logx "mindfulbot/pkg/logx"
)

var errOffline = errors.New("delivery unavailable in offline mode")

// Upcoming loads the config at cfgPath, opens storage read-side and returns
// every onboarded user's next reminder. Nothing is sent and Telegram is not
// contacted.
func Upcoming(ctx context.Context, cfgPath string) ([]reminder.Upcoming, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	log := logx.NewConsole("ERROR")

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errStorageRequired
	}
	defer store.Close()

	noSend := reminder.SenderFunc(func(context.Context, int64) error { return errOffline })
	rem := reminder.New(profiles.NewSource(store), noSend, reminder.NewMemoryTracker(),
		reminder.WithLogger(log),
		reminder.WithDefaultLocation(defaultLocation(cfg, log)),
	)
	return rem.Upcoming(ctx)
}
