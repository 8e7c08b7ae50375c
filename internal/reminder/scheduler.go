package reminder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mindfulbot/internal/eventbus"
	logx "mindfulbot/pkg/logx"
)

// Event types published on the bus.
const (
	EventSent        = "reminder.sent"
	EventFailed      = "reminder.failed"
	EventForced      = "reminder.forced"
	EventDataQuality = "reminder.data_quality"
)

// EventData is the payload of every reminder.* event.
type EventData struct {
	RunID     string `json:"run_id,omitempty"`
	UserID    int64  `json:"user_id"`
	LocalDate string `json:"local_date,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Dispatch outcomes reported to the Recorder.
const (
	OutcomeSent        = "sent"
	OutcomeAlreadySent = "already_sent"
	OutcomeFailed      = "failed"
	OutcomeInvalid     = "invalid"
	OutcomeCanceled    = "canceled"
	OutcomeForced      = "forced"
)

// Recorder receives tick and dispatch measurements. internal/metrics provides
// the Prometheus implementation.
type Recorder interface {
	ObserveTick(rep TickReport, took time.Duration, err error)
	IncDispatch(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTick(TickReport, time.Duration, error) {}
func (nopRecorder) IncDispatch(string)                           {}

type Option func(*Scheduler)

func WithLogger(l logx.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithWorkers bounds how many users are processed concurrently within a tick.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithDefaultLocation sets the zone used for profiles with no timezone.
func WithDefaultLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.SetDefaultLocation(loc) }
}

// Scheduler drives the per-minute reminder pass.
type Scheduler struct {
	profiles ProfileSource
	sender   Sender
	tracker  Tracker

	log     logx.Logger
	bus     eventbus.Bus
	rec     Recorder
	now     func() time.Time
	workers int
	defLoc  atomic.Pointer[time.Location]

	mu         sync.Mutex
	lastBucket string
	inflight   map[int64]struct{}
}

func New(profiles ProfileSource, sender Sender, tracker Tracker, opts ...Option) *Scheduler {
	s := &Scheduler{
		profiles: profiles,
		sender:   sender,
		tracker:  tracker,
		log:      logx.Nop(),
		rec:      nopRecorder{},
		now:      time.Now,
		workers:  4,
		inflight: make(map[int64]struct{}),
	}
	s.defLoc.Store(time.UTC)
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "reminder"))
	return s
}

// SetDefaultLocation swaps the default zone; safe to call while ticking.
func (s *Scheduler) SetDefaultLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	s.defLoc.Store(loc)
}

func (s *Scheduler) DefaultLocation() *time.Location { return s.defLoc.Load() }

// LastBucket returns the minute-bucket of the last tick that ran.
func (s *Scheduler) LastBucket() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBucket
}

type tally struct {
	mu  sync.Mutex
	rep *TickReport
}

func (t *tally) add(f func(r *TickReport)) {
	t.mu.Lock()
	f(t.rep)
	t.mu.Unlock()
}

// Tick runs one reminder pass for the current UTC minute. A second call
// within the same minute returns a Skipped report and does nothing.
//
// Per-user failures are logged and counted. A tracker failure stops new sends
// for the rest of the tick and is returned.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	now := s.now()
	bucket := MinuteBucket(now)

	s.mu.Lock()
	if bucket == s.lastBucket {
		s.mu.Unlock()
		s.log.Debug("tick skipped: minute already processed", logx.String("bucket", bucket))
		return TickReport{Bucket: bucket, Skipped: true}, nil
	}
	s.lastBucket = bucket
	s.mu.Unlock()

	start := time.Now()
	rep := TickReport{RunID: uuid.NewString(), Bucket: bucket}
	log := s.log.With(logx.String("run_id", rep.RunID), logx.String("bucket", bucket))

	profiles, err := s.profiles.ListActiveOnboarded(ctx)
	if err != nil {
		err = fmt.Errorf("list profiles: %w", err)
		log.Error("tick aborted", logx.Err(err))
		s.rec.ObserveTick(rep, time.Since(start), err)
		return rep, err
	}

	t := &tally{rep: &rep}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, p := range profiles {
		if gctx.Err() != nil {
			n := len(profiles) - i
			t.add(func(r *TickReport) { r.Canceled += n })
			break
		}
		g.Go(func() error { return s.process(gctx, now, p, rep.RunID, t, log) })
	}
	tickErr := g.Wait()

	purged, perr := s.tracker.PurgeStale(context.WithoutCancel(ctx), UTCDate(now))
	if perr != nil {
		log.Warn("purge stale dispatch records failed", logx.Err(perr))
	} else if purged > 0 {
		log.Debug("purged stale dispatch records", logx.Int("n", purged))
	}

	err = errors.Join(tickErr, perr)
	fields := []logx.Field{
		logx.Int("checked", rep.Checked),
		logx.Int("due", rep.Due),
		logx.Int("sent", rep.Sent),
		logx.Int("already_sent", rep.AlreadySent),
		logx.Int("failed", rep.Failed),
		logx.Int("invalid", rep.Invalid),
		logx.Int("canceled", rep.Canceled),
		logx.Duration("took", time.Since(start)),
	}
	switch {
	case tickErr != nil:
		log.Error("tick failed closed", append(fields, logx.Err(tickErr))...)
	case rep.Sent > 0 || rep.Failed > 0:
		log.Info("tick done", fields...)
	default:
		log.Debug("tick done", fields...)
	}
	s.rec.ObserveTick(rep, time.Since(start), err)
	return rep, err
}

func (s *Scheduler) process(ctx context.Context, now time.Time, p Profile, runID string, t *tally, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing user",
				logx.Int64("user_id", p.UserID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			t.add(func(r *TickReport) { r.Failed++ })
			s.rec.IncDispatch(OutcomeFailed)
			err = nil
		}
	}()

	if ctx.Err() != nil {
		t.add(func(r *TickReport) { r.Canceled++ })
		s.rec.IncDispatch(OutcomeCanceled)
		return nil
	}
	if !p.Active || !p.Onboarded {
		return nil
	}

	t.add(func(r *TickReport) { r.Checked++ })
	dec, err := Check(now, p, s.DefaultLocation())
	if err != nil {
		var dq *DataQualityError
		if errors.As(err, &dq) {
			log.Warn("skipping user with invalid reminder settings",
				logx.Int64("user_id", dq.UserID),
				logx.String("field", dq.Field),
				logx.String("value", dq.Value),
				logx.Err(dq.Err),
			)
		}
		t.add(func(r *TickReport) { r.Invalid++ })
		s.rec.IncDispatch(OutcomeInvalid)
		s.publish(EventDataQuality, EventData{RunID: runID, UserID: p.UserID, Error: err.Error()})
		return nil
	}
	if !dec.Due {
		return nil
	}
	t.add(func(r *TickReport) { r.Due++ })

	if !s.acquire(p.UserID) {
		log.Debug("user already in flight", logx.Int64("user_id", p.UserID))
		t.add(func(r *TickReport) { r.AlreadySent++ })
		s.rec.IncDispatch(OutcomeAlreadySent)
		return nil
	}
	defer s.release(p.UserID)

	sent, err := s.tracker.AlreadySentToday(ctx, p.UserID, dec.LocalDate)
	if err != nil {
		return trackerErr(p.UserID, err)
	}
	if sent {
		t.add(func(r *TickReport) { r.AlreadySent++ })
		s.rec.IncDispatch(OutcomeAlreadySent)
		return nil
	}
	if ctx.Err() != nil {
		t.add(func(r *TickReport) { r.Canceled++ })
		s.rec.IncDispatch(OutcomeCanceled)
		return nil
	}

	if err := s.sender.SendReminder(ctx, p.UserID); err != nil {
		log.Warn("reminder delivery failed",
			logx.Int64("user_id", p.UserID),
			logx.String("local_date", dec.LocalDate),
			logx.Err(err),
		)
		t.add(func(r *TickReport) { r.Failed++ })
		s.rec.IncDispatch(OutcomeFailed)
		s.publish(EventFailed, EventData{RunID: runID, UserID: p.UserID, LocalDate: dec.LocalDate, Error: err.Error()})
		return nil
	}

	t.add(func(r *TickReport) { r.Sent++ })
	s.rec.IncDispatch(OutcomeSent)
	s.publish(EventSent, EventData{RunID: runID, UserID: p.UserID, LocalDate: dec.LocalDate})

	// The message is out; record it even if the tick is being torn down.
	if err := s.tracker.MarkSent(context.WithoutCancel(ctx), p.UserID, dec.LocalDate); err != nil {
		return trackerErr(p.UserID, err)
	}
	log.Debug("reminder sent", logx.Int64("user_id", p.UserID), logx.String("local_date", dec.LocalDate))
	return nil
}

func trackerErr(userID int64, err error) error {
	if errors.Is(err, ErrTracker) {
		return fmt.Errorf("user %d: %w", userID, err)
	}
	return fmt.Errorf("user %d: %w: %w", userID, ErrTracker, err)
}

// ForceDispatch sends a reminder to userID now, bypassing the due-check. A
// successful send is still recorded for the user's local date, so the regular
// tick will not send again that day.
func (s *Scheduler) ForceDispatch(ctx context.Context, userID int64) error {
	p, err := s.profiles.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if !p.Onboarded {
		return ErrNotOnboarded
	}

	loc, lerr := ResolveLocation(p.Timezone, s.DefaultLocation())
	if lerr != nil {
		s.log.Warn("forced dispatch: invalid timezone, using default",
			logx.Int64("user_id", userID), logx.String("value", p.Timezone), logx.Err(lerr))
		loc = s.DefaultLocation()
	}
	date := s.now().In(loc).Format(DateLayout)

	if !s.acquire(userID) {
		return ErrInFlight
	}
	defer s.release(userID)

	if err := s.sender.SendReminder(ctx, userID); err != nil {
		s.rec.IncDispatch(OutcomeFailed)
		s.publish(EventFailed, EventData{UserID: userID, LocalDate: date, Error: err.Error()})
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	s.rec.IncDispatch(OutcomeForced)
	s.publish(EventForced, EventData{UserID: userID, LocalDate: date})
	if err := s.tracker.MarkSent(context.WithoutCancel(ctx), userID, date); err != nil {
		return trackerErr(userID, err)
	}
	s.log.Info("forced reminder sent", logx.Int64("user_id", userID), logx.String("local_date", date))
	return nil
}

// Stats counts eligible users and how many of them already got today's
// reminder in their own zone.
func (s *Scheduler) Stats(ctx context.Context) (DispatchStats, error) {
	now := s.now()
	profiles, err := s.profiles.ListActiveOnboarded(ctx)
	if err != nil {
		return DispatchStats{}, fmt.Errorf("list profiles: %w", err)
	}
	st := DispatchStats{TotalEligibleUsers: len(profiles), At: now.UTC()}
	def := s.DefaultLocation()
	for _, p := range profiles {
		loc, err := ResolveLocation(p.Timezone, def)
		if err != nil {
			continue
		}
		ok, err := s.tracker.AlreadySentToday(ctx, p.UserID, now.In(loc).Format(DateLayout))
		if err != nil {
			return st, trackerErr(p.UserID, err)
		}
		if ok {
			st.DispatchedToday++
		}
	}
	return st, nil
}

// Upcoming lists every onboarded user with the next instant their reminder
// fires. Users with invalid settings carry an Error instead of Next.
func (s *Scheduler) Upcoming(ctx context.Context) ([]Upcoming, error) {
	now := s.now()
	profiles, err := s.profiles.ListOnboarded(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	def := s.DefaultLocation()
	out := make([]Upcoming, 0, len(profiles))
	for _, p := range profiles {
		u := Upcoming{UserID: p.UserID, ReminderTime: p.ReminderTime, Timezone: p.Timezone, Active: p.Active}
		if u.Timezone == "" {
			u.Timezone = def.String()
		}
		next, err := Next(now, p, def)
		if err != nil {
			u.Error = err.Error()
		} else {
			u.Next = next
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Scheduler) acquire(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[userID]; busy {
		return false
	}
	s.inflight[userID] = struct{}{}
	return true
}

func (s *Scheduler) release(userID int64) {
	s.mu.Lock()
	delete(s.inflight, userID)
	s.mu.Unlock()
}

func (s *Scheduler) publish(typ string, data EventData) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
