package profiles

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindfulbot/internal/reminder"
	"mindfulbot/internal/storage"
	logx "mindfulbot/pkg/logx"
)

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSource(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	for _, id := range []int64{1, 2, 3} {
		_, _, err := st.EnsureUser(ctx, storage.User{TelegramID: id, ChatID: id})
		require.NoError(t, err)
	}
	require.NoError(t, st.CompleteOnboarding(ctx, 1))
	require.NoError(t, st.SetTimezone(ctx, 1, "Asia/Tokyo"))
	require.NoError(t, st.CompleteOnboarding(ctx, 2))
	require.NoError(t, st.SetActive(ctx, 2, false))

	src := NewSource(st)

	active, err := src.ListActiveOnboarded(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, reminder.Profile{UserID: 1, ReminderTime: "09:00", Timezone: "Asia/Tokyo", Active: true, Onboarded: true}, active[0])

	onboarded, err := src.ListOnboarded(ctx)
	require.NoError(t, err)
	assert.Len(t, onboarded, 2)

	p, err := src.Profile(ctx, 3)
	require.NoError(t, err)
	assert.False(t, p.Onboarded)

	_, err = src.Profile(ctx, 99)
	assert.ErrorIs(t, err, reminder.ErrUnknownUser)
}
