package notifier

import (
	"context"
	"errors"
	"time"

	"mindfulbot/internal/storage"
)

// Config controls delivery.
type Config struct {
	RatePerSec    int           // shared send budget; Telegram allows ~30 msg/s per bot
	RetryMax      int           // extra attempts after the first
	RetryBase     time.Duration // first retry delay; doubles per attempt
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration // per attempt
}

// ErrDeliveryUnknown marks an attempt that timed out after the request may
// have reached Telegram. It is not retried.
var ErrDeliveryUnknown = errors.New("notifier: delivery outcome unknown")

// UserStore is the slice of storage.Store the notifier needs.
type UserStore interface {
	GetUser(ctx context.Context, telegramID int64) (storage.User, error)
	AdvanceDay(ctx context.Context, telegramID int64) (int, error)
}

// DeliveryEvent is the payload of notifier.* bus events.
type DeliveryEvent struct {
	UserID   int64     `json:"user_id"`
	ChatID   int64     `json:"chat_id"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

const (
	EventSent   = "notifier.sent"
	EventFailed = "notifier.failed"
)
