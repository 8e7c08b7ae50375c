package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mindfulbot/internal/content"
	"mindfulbot/internal/eventbus"
	"mindfulbot/internal/reminder"
	"mindfulbot/internal/storage"
	"mindfulbot/internal/transport"
	logx "mindfulbot/pkg/logx"
)

// Callback data carried by the reminder's inline buttons.
const (
	CallbackDone     = "reminder:done:yes"
	CallbackPartial  = "reminder:done:no"
	CallbackSettings = "menu:settings"
)

// Service sends reminders. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter transport.Adapter
	users   UserStore
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
	defLoc  atomic.Pointer[time.Location]
}

func New(cfg Config, adapter transport.Adapter, users UserStore, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		users:   users,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		now:     time.Now,
	}
	s.defLoc.Store(time.UTC)
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	// Burst = rate so a tick's first wave goes out without queuing.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetDefaultLocation sets the zone used to render greetings for users without
// a timezone.
func (s *Service) SetDefaultLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	s.defLoc.Store(loc)
}

// SendReminder renders and delivers today's reminder to userID.
func (s *Service) SendReminder(ctx context.Context, userID int64) error {
	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return reminder.ErrUnknownUser
	}
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}

	loc, err := reminder.ResolveLocation(u.Timezone, s.defLoc.Load())
	if err != nil {
		loc = s.defLoc.Load()
	}
	text := content.ReminderHTML(content.Reminder{
		FirstName: u.FirstName,
		Day:       u.CurrentDay,
		Duration:  u.PreferredDuration,
		Local:     s.now().In(loc),
	})
	chatID := u.ChatID
	if chatID == 0 {
		chatID = u.TelegramID
	}
	opt := &transport.SendOptions{
		ParseMode: transport.ParseModeHTML,
		Keyboard: [][]transport.Button{
			{{Text: "✅ I completed it", Data: CallbackDone}, {Text: "⏸️ Didn't finish", Data: CallbackPartial}},
			{{Text: "⚙️ Settings", Data: CallbackSettings}},
		},
	}

	attempts, err := s.sendWithRetry(ctx, transport.ChatTarget{ChatID: chatID}, text, opt)
	ev := DeliveryEvent{UserID: userID, ChatID: chatID, Attempts: attempts, At: s.now()}
	if err != nil {
		ev.Error = err.Error()
		s.publish(EventFailed, ev)
		return err
	}
	s.publish(EventSent, ev)

	// The reminder is out; a failed day bump only repeats today's video.
	if _, derr := s.users.AdvanceDay(context.WithoutCancel(ctx), userID); derr != nil {
		s.log.Warn("advance program day failed", logx.Int64("user_id", userID), logx.Err(derr))
	}
	return nil
}

// Send delivers arbitrary text under the same rate limit and retry policy.
func (s *Service) Send(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) error {
	_, err := s.sendWithRetry(ctx, transport.ChatTarget{ChatID: chatID}, text, opt)
	return err
}

func (s *Service) sendWithRetry(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (int, error) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if s.adapter == nil {
		return 0, errors.New("notifier: no transport")
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return attempt - 1, err
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.adapter.SendText(callCtx, to, text, opt)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		// The message may already be on the user's screen; a retry risks a duplicate.
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn("send timed out, not retrying", logx.Int64("chat_id", to.ChatID), logx.Int("attempt", attempt), logx.Err(err))
			return attempt, fmt.Errorf("%w: %w", ErrDeliveryUnknown, err)
		}

		var perm *transport.PermanentError
		if errors.As(err, &perm) {
			s.log.Debug("send failed permanently", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			return attempt, err
		}
		s.log.Debug("send failed", logx.Int64("chat_id", to.ChatID), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if attempt == maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return attempt, errors.Join(lastErr, ctx.Err())
		}
	}
	return maxAttempts, lastErr
}

func (s *Service) publish(typ string, ev DeliveryEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// retryDelay is the wait before attempt+1: exponential from RetryBase,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
