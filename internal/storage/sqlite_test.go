package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "mindfulbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db"), BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpen_Disabled(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func TestEnsureUser_Defaults(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	u, created, err := st.EnsureUser(ctx, User{TelegramID: 100, ChatID: 100, FirstName: "Sam"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, DefaultReminderTime, u.ReminderTime)
	assert.Equal(t, DefaultDuration, u.PreferredDuration)
	assert.Equal(t, "", u.Timezone)
	assert.Equal(t, 1, u.CurrentDay)
	assert.True(t, u.Active)
	assert.False(t, u.Onboarded)
	assert.False(t, u.CreatedAt.IsZero())

	require.NoError(t, st.SetReminderTime(ctx, 100, "07:15"))
	u, created, err = st.EnsureUser(ctx, User{TelegramID: 100, ChatID: 555, Username: "sam"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(555), u.ChatID)
	assert.Equal(t, "sam", u.Username)
	assert.Equal(t, "Sam", u.FirstName)
	assert.Equal(t, "07:15", u.ReminderTime)
}

func TestUserSettings(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	_, _, err := st.EnsureUser(ctx, User{TelegramID: 1, ChatID: 1})
	require.NoError(t, err)

	require.NoError(t, st.SetTimezone(ctx, 1, "Europe/Paris"))
	require.NoError(t, st.SetPreferredDuration(ctx, 1, "20 min"))
	require.NoError(t, st.SetOnboardingStep(ctx, 1, StepDuration))
	require.NoError(t, st.CompleteOnboarding(ctx, 1))
	require.NoError(t, st.SetActive(ctx, 1, false))

	u, err := st.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", u.Timezone)
	assert.Equal(t, "20 min", u.PreferredDuration)
	assert.Equal(t, StepDone, u.OnboardingStep)
	assert.True(t, u.Onboarded)
	assert.False(t, u.Active)

	day, err := st.AdvanceDay(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, day)

	_, err = st.GetUser(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.SetTimezone(ctx, 2, "UTC"), ErrNotFound)
	_, err = st.AdvanceDay(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUsers_Filters(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	for id := int64(1); id <= 4; id++ {
		_, _, err := st.EnsureUser(ctx, User{TelegramID: id, ChatID: id})
		require.NoError(t, err)
	}
	require.NoError(t, st.CompleteOnboarding(ctx, 2))
	require.NoError(t, st.CompleteOnboarding(ctx, 3))
	require.NoError(t, st.SetActive(ctx, 3, false))

	all, err := st.ListUsers(ctx, UserFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	onboarded, err := st.ListUsers(ctx, UserFilter{OnboardedOnly: true})
	require.NoError(t, err)
	require.Len(t, onboarded, 2)
	assert.Equal(t, int64(2), onboarded[0].TelegramID)
	assert.Equal(t, int64(3), onboarded[1].TelegramID)

	eligible, err := st.ListUsers(ctx, UserFilter{OnboardedOnly: true, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, int64(2), eligible[0].TelegramID)
}

func TestDispatches(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	ok, err := st.HasDispatch(ctx, 1, "2024-06-01")
	require.NoError(t, err)
	assert.False(t, ok)

	inserted, err := st.InsertDispatch(ctx, 1, "2024-06-01", at)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.InsertDispatch(ctx, 1, "2024-06-01", at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, inserted)

	ok, err = st.HasDispatch(ctx, 1, "2024-06-01")
	require.NoError(t, err)
	assert.True(t, ok)

	for _, d := range []string{"2024-05-20", "2024-05-30", "2024-05-31", "2024-06-02"} {
		_, err := st.InsertDispatch(ctx, 1, d, at)
		require.NoError(t, err)
	}
	n, err := st.DeleteDispatchesBefore(ctx, "2024-05-31")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for d, want := range map[string]bool{"2024-05-20": false, "2024-05-30": false, "2024-05-31": true, "2024-06-01": true, "2024-06-02": true} {
		ok, err := st.HasDispatch(ctx, 1, d)
		require.NoError(t, err)
		assert.Equal(t, want, ok, d)
	}
}

func TestInsertDispatch_Concurrent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.InsertDispatch(ctx, 7, "2024-06-01", time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	require.NoError(t, st.AppendAudit(ctx, AuditEntry{UserID: 5, Action: "reminder.sent", RunID: "r1", OK: true}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{
		At: time.Now().Add(time.Second), UserID: 6, Action: "reminder.failed", Error: "blocked",
	}))

	got, err := st.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "reminder.failed", got[0].Action)
	assert.Equal(t, "blocked", got[0].Error)
	assert.False(t, got[0].OK)
	assert.Equal(t, "r1", got[1].RunID)
	assert.True(t, got[1].OK)
	assert.NotEmpty(t, got[1].ID)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	got, err := st.RecordSession(ctx, Session{UserID: 3, LocalDate: "2024-06-01", Day: 4, Duration: "10 min"})
	require.NoError(t, err)
	assert.False(t, got.Completed)
	assert.Equal(t, 4, got.Day)
	assert.Zero(t, got.VideoRating)

	require.NoError(t, st.RateSession(ctx, 3, "2024-06-01", RatingVideo, 4))
	require.NoError(t, st.RateSession(ctx, 3, "2024-06-01", RatingMessage, 2))
	assert.ErrorIs(t, st.RateSession(ctx, 3, "2024-06-01", RatingVideo, 6), ErrInvalidRating)
	assert.ErrorIs(t, st.RateSession(ctx, 3, "2024-06-01", RatingMessage, 0), ErrInvalidRating)
	assert.Error(t, st.RateSession(ctx, 3, "2024-06-01", "mood", 3))
	assert.ErrorIs(t, st.RateSession(ctx, 3, "2024-05-01", RatingVideo, 3), ErrNotFound)

	// Reporting the same day again only flips completion.
	got, err = st.RecordSession(ctx, Session{UserID: 3, LocalDate: "2024-06-01", Day: 9, Completed: true})
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Equal(t, 4, got.Day)
	assert.Equal(t, "10 min", got.Duration)
	assert.Equal(t, 4, got.VideoRating)
	assert.Equal(t, 2, got.MessageRating)

	_, err = st.RecordSession(ctx, Session{UserID: 3, LocalDate: "2024-06-02", Completed: true})
	require.NoError(t, err)
	_, err = st.RecordSession(ctx, Session{UserID: 8, LocalDate: "2024-06-02"})
	require.NoError(t, err)

	list, err := st.ListSessions(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2024-06-02", list[0].LocalDate)
	assert.Equal(t, 1, list[0].Day)
	assert.Equal(t, "2024-06-01", list[1].LocalDate)

	list, err = st.ListSessions(ctx, 3, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
