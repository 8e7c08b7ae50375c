package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindfulbot/internal/reminder"
	"mindfulbot/internal/storage"
	"mindfulbot/internal/transport"
	"mindfulbot/internal/transport/telegram/router"
	logx "mindfulbot/pkg/logx"
)

type sentMsg struct {
	text string
	opt  *transport.SendOptions
}

type chatAdapter struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (a *chatAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *chatAdapter) Stop(context.Context) error                          { return nil }
func (a *chatAdapter) SendText(_ context.Context, _ transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMsg{text: text, opt: opt})
	return transport.MessageRef{}, nil
}
func (a *chatAdapter) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}
func (a *chatAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (a *chatAdapter) last(t *testing.T) sentMsg {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.sent)
	return a.sent[len(a.sent)-1]
}

type fakeReminders struct {
	forceErr error
	forced   []int64
}

func (f *fakeReminders) ForceDispatch(_ context.Context, id int64) error {
	f.forced = append(f.forced, id)
	return f.forceErr
}
func (f *fakeReminders) Stats(context.Context) (reminder.DispatchStats, error) {
	return reminder.DispatchStats{TotalEligibleUsers: 4, DispatchedToday: 1}, nil
}
func (f *fakeReminders) Upcoming(context.Context) ([]reminder.Upcoming, error) {
	return []reminder.Upcoming{{UserID: 1}, {UserID: 2, Error: "bad tz"}}, nil
}
func (f *fakeReminders) DefaultLocation() *time.Location { return time.UTC }

type harness struct {
	store storage.Store
	ad    *chatAdapter
	rem   *fakeReminders
	m     *router.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{store: st, ad: &chatAdapter{}, rem: &fakeReminders{}}
	h.m = router.NewManager(logx.Nop(), h.ad, []int64{1})
	b := New(st, h.rem, logx.Nop())
	b.now = func() time.Time { return time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC) }
	b.Register(h.m)
	return h
}

func (h *harness) say(from int64, text string) {
	h.m.Route(context.Background(), transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ChatID: from, FromID: from, FromFirstName: "Maya", Text: text, IsPrivate: true,
	}})
}

func (h *harness) tap(from int64, data string) {
	h.m.Route(context.Background(), transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{
		ID: "cb", ChatID: from, FromID: from, Data: data,
	}})
}

func (h *harness) user(t *testing.T, id int64) storage.User {
	t.Helper()
	u, err := h.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestOnboardingFlow(t *testing.T) {
	h := newHarness(t)

	h.say(7, "/start")
	assert.Contains(t, h.ad.last(t).text, "Hi Maya")
	assert.Equal(t, storage.StepTime, h.user(t, 7).OnboardingStep)

	h.say(7, "7h30")
	assert.Contains(t, h.ad.last(t).text, "Invalid time")

	h.say(7, "7:30")
	last := h.ad.last(t)
	assert.Contains(t, last.text, "07:30")
	require.NotEmpty(t, last.opt.Keyboard)
	assert.Equal(t, "onboard:duration:<5 min", last.opt.Keyboard[0][0].Data)
	assert.Equal(t, storage.StepDuration, h.user(t, 7).OnboardingStep)

	h.tap(7, "onboard:duration:15 min")
	u := h.user(t, 7)
	assert.True(t, u.Onboarded)
	assert.True(t, u.Active)
	assert.Equal(t, "07:30", u.ReminderTime)
	assert.Equal(t, "15 min", u.PreferredDuration)
	assert.Equal(t, storage.StepDone, u.OnboardingStep)
	assert.Contains(t, h.ad.last(t).text, "all set")

	h.say(7, "/start")
	assert.Contains(t, h.ad.last(t).text, "Welcome back")
}

func onboarded(t *testing.T, h *harness, id int64) {
	t.Helper()
	ctx := context.Background()
	_, _, err := h.store.EnsureUser(ctx, storage.User{TelegramID: id, ChatID: id, FirstName: "Maya"})
	require.NoError(t, err)
	require.NoError(t, h.store.CompleteOnboarding(ctx, id))
}

func TestSettingsCommands(t *testing.T) {
	h := newHarness(t)
	onboarded(t, h, 7)

	h.say(7, "/time 21:15")
	assert.Equal(t, "21:15", h.user(t, 7).ReminderTime)

	h.say(7, "/time 24:00")
	assert.Contains(t, h.ad.last(t).text, "Invalid time")
	assert.Equal(t, "21:15", h.user(t, 7).ReminderTime)

	h.say(7, "/timezone America/New_York")
	assert.Equal(t, "America/New_York", h.user(t, 7).Timezone)
	assert.Contains(t, h.ad.last(t).text, "03:00")

	h.say(7, "/tz Mars/Base")
	assert.Contains(t, h.ad.last(t).text, "Unknown timezone")
	h.say(7, "/tz Local")
	assert.Equal(t, "America/New_York", h.user(t, 7).Timezone)

	h.say(7, "/duration 20")
	assert.Equal(t, "20 min", h.user(t, 7).PreferredDuration)
	h.say(7, "/duration forever")
	assert.Contains(t, h.ad.last(t).text, "Unknown length")

	h.tap(7, "settings:tz:Asia/Tokyo")
	assert.Equal(t, "Asia/Tokyo", h.user(t, 7).Timezone)
	h.tap(7, "settings:time:06:00")
	assert.Equal(t, "06:00", h.user(t, 7).ReminderTime)
	h.tap(7, "settings:duration:5-10 min")
	assert.Equal(t, "5-10 min", h.user(t, 7).PreferredDuration)

	h.say(7, "/settings")
	last := h.ad.last(t)
	assert.Contains(t, last.text, "Asia/Tokyo")
	assert.Contains(t, last.text, "06:00")
	assert.Len(t, last.opt.Keyboard, 4)
}

func TestCustomTimeAfterOnboarding(t *testing.T) {
	h := newHarness(t)
	onboarded(t, h, 7)

	h.tap(7, "settings:time:custom")
	assert.Equal(t, storage.StepTime, h.user(t, 7).OnboardingStep)
	h.say(7, "05:45")
	u := h.user(t, 7)
	assert.Equal(t, "05:45", u.ReminderTime)
	assert.Equal(t, storage.StepDone, u.OnboardingStep)
	assert.True(t, u.Onboarded)

	h.say(7, "hello")
	assert.Contains(t, h.ad.last(t).text, "/help")
}

func TestPauseResumeAndNext(t *testing.T) {
	h := newHarness(t)
	onboarded(t, h, 7)

	h.say(7, "/next")
	assert.Contains(t, h.ad.last(t).text, "Mon 09:00 UTC")
	assert.Contains(t, h.ad.last(t).text, "1h0m0s")

	h.say(7, "/pause")
	assert.False(t, h.user(t, 7).Active)
	h.say(7, "/next")
	assert.Contains(t, h.ad.last(t).text, "paused")

	h.say(7, "/resume")
	assert.True(t, h.user(t, 7).Active)
}

func TestUnknownUserIsAskedToStart(t *testing.T) {
	h := newHarness(t)
	h.say(9, "/settings")
	assert.Equal(t, msgNeedStart, h.ad.last(t).text)
	h.say(9, "09:00")
	assert.Equal(t, msgNeedStart, h.ad.last(t).text)
}

func TestTestCommand(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "Test reminder sent"},
		{reminder.ErrUnknownUser, msgNeedStart},
		{reminder.ErrNotOnboarded, msgNeedOnboard},
		{reminder.ErrInFlight, "already on its way"},
		{fmt.Errorf("%w: blocked", reminder.ErrDelivery), msgOops},
	}
	for _, tt := range tests {
		h := newHarness(t)
		h.rem.forceErr = tt.err
		h.say(7, "/test")
		assert.Contains(t, h.ad.last(t).text, tt.want)
		assert.Equal(t, []int64{7}, h.rem.forced)
	}
}

func TestStatsOwnerOnly(t *testing.T) {
	h := newHarness(t)
	h.say(7, "/stats")
	assert.Equal(t, "unauthorized", h.ad.last(t).text)

	h.say(1, "/stats")
	last := h.ad.last(t).text
	assert.Contains(t, last, "Eligible users: 4")
	assert.Contains(t, last, "Invalid settings: 1")
}

func TestStart_UsesConfiguredDefaultTime(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ad := &chatAdapter{}
	m := router.NewManager(logx.Nop(), ad, nil)
	b := New(st, &fakeReminders{}, logx.Nop())
	b.SetDefaultReminderTime("06:45")
	b.Register(m)

	m.Route(context.Background(), transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ChatID: 3, FromID: 3, FromFirstName: "Ola", Text: "/start", IsPrivate: true,
	}})
	u, err := st.GetUser(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "06:45", u.ReminderTime)
}

func TestSessionFeedbackFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	onboarded(t, h, 7)

	h.tap(7, "reminder:done:yes")
	last := h.ad.last(t)
	assert.Contains(t, last.text, "Great job")
	require.Len(t, last.opt.Keyboard, 3)
	assert.Equal(t, "rate:video:2024-01-15:1", last.opt.Keyboard[0][0].Data)
	assert.Equal(t, "rate:video:2024-01-15:5", last.opt.Keyboard[2][0].Data)

	h.tap(7, "rate:video:2024-01-15:4")
	last = h.ad.last(t)
	assert.Contains(t, last.text, "motivational message")
	require.NotEmpty(t, last.opt.Keyboard)
	assert.Equal(t, "rate:message:2024-01-15:1", last.opt.Keyboard[0][0].Data)

	h.tap(7, "rate:message:2024-01-15:5")
	assert.Contains(t, h.ad.last(t).text, "/progress")

	h.tap(7, "rate:video:2024-01-15:9")
	assert.Contains(t, h.ad.last(t).text, "from 1 to 5")
	h.tap(7, "rate:video:2024-01-10:3")
	assert.Contains(t, h.ad.last(t).text, "Session not found")

	sessions, err := h.store.ListSessions(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, "2024-01-15", s.LocalDate)
	assert.True(t, s.Completed)
	assert.Equal(t, 1, s.Day)
	assert.Equal(t, storage.DefaultDuration, s.Duration)
	assert.Equal(t, 4, s.VideoRating)
	assert.Equal(t, 5, s.MessageRating)

	// A later "didn't finish" for the same day keeps the ratings.
	h.tap(7, "reminder:done:no")
	assert.Contains(t, h.ad.last(t).text, "No worries")
	sessions, err = h.store.ListSessions(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].Completed)
	assert.Equal(t, 4, sessions[0].VideoRating)
}

func TestSessionFeedback_UsesUserTimezone(t *testing.T) {
	h := newHarness(t)
	onboarded(t, h, 7)
	// 08:00 UTC on Jan 15 is already Jan 16 in Kiritimati.
	h.say(7, "/timezone Pacific/Kiritimati")

	h.tap(7, "reminder:done")
	assert.Equal(t, "rate:video:2024-01-16:1", h.ad.last(t).opt.Keyboard[0][0].Data)
}

func TestProgressCommand(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	onboarded(t, h, 7)

	h.say(7, "/progress")
	assert.Contains(t, h.ad.last(t).text, "No sessions yet")

	for _, s := range []storage.Session{
		{UserID: 7, LocalDate: "2024-01-12", Day: 1, Duration: "10 min", Completed: true},
		{UserID: 7, LocalDate: "2024-01-13", Day: 2, Duration: "10 min", Completed: true},
		{UserID: 7, LocalDate: "2024-01-14", Day: 3, Duration: "10 min", Completed: true},
	} {
		_, err := h.store.RecordSession(ctx, s)
		require.NoError(t, err)
	}
	require.NoError(t, h.store.RateSession(ctx, 7, "2024-01-13", storage.RatingVideo, 2))
	require.NoError(t, h.store.RateSession(ctx, 7, "2024-01-14", storage.RatingVideo, 4))

	h.say(7, "/progress")
	text := h.ad.last(t).text
	assert.Contains(t, text, "Completed sessions: 3 of 3")
	assert.Contains(t, text, "Current streak: 3 days")
	assert.Contains(t, text, "Avg video rating: 3.0/5 (2 ratings)")
	assert.Contains(t, text, "Avg message rating: no ratings yet")
	assert.Contains(t, text, "Day 3 (2024-01-14)")
}

func TestSummarize(t *testing.T) {
	done := func(date string) storage.Session { return storage.Session{LocalDate: date, Completed: true} }
	tests := []struct {
		name     string
		sessions []storage.Session
		today    string
		streak   int
	}{
		{"empty", nil, "2024-01-15", 0},
		{"today only", []storage.Session{done("2024-01-15")}, "2024-01-15", 1},
		{"through yesterday", []storage.Session{done("2024-01-14"), done("2024-01-13")}, "2024-01-15", 2},
		{"gap breaks streak", []storage.Session{done("2024-01-15"), done("2024-01-13")}, "2024-01-15", 1},
		{"partial breaks streak", []storage.Session{done("2024-01-15"), {LocalDate: "2024-01-14"}, done("2024-01-13")}, "2024-01-15", 1},
		{"stale", []storage.Session{done("2024-01-10")}, "2024-01-15", 0},
		{"across month", []storage.Session{done("2024-03-01"), done("2024-02-29")}, "2024-03-01", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.streak, summarize(tt.sessions, tt.today).Streak)
		})
	}

	p := summarize([]storage.Session{
		{LocalDate: "2024-01-15", Completed: true, VideoRating: 5, MessageRating: 3},
		{LocalDate: "2024-01-14", VideoRating: 2},
	}, "2024-01-15")
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 1, p.Completed)
	assert.InDelta(t, 3.5, p.AvgVideo, 0.001)
	assert.Equal(t, 2, p.VideoN)
	assert.InDelta(t, 3.0, p.AvgMessage, 0.001)
	assert.Equal(t, 1, p.MessageN)
}
