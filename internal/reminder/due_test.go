package reminder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{in: "09:00", want: Clock{9, 0}},
		{in: "9:05", want: Clock{9, 5}},
		{in: "23:59", want: Clock{23, 59}},
		{in: "00:00", want: Clock{0, 0}},
		{in: "07:30:45", want: Clock{7, 30}},
		{in: " 08:15 ", want: Clock{8, 15}},
		{in: "", wantErr: true},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "12:00:61", wantErr: true},
		{in: "9am", wantErr: true},
		{in: "12:5", wantErr: true},
		{in: "123:00", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseClock(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClockString(t *testing.T) {
	assert.Equal(t, "07:05", Clock{7, 5}.String())
}

func TestResolveLocation(t *testing.T) {
	ny := mustLoc(t, "America/New_York")

	loc, err := ResolveLocation("", ny)
	require.NoError(t, err)
	assert.Equal(t, ny, loc)

	loc, err = ResolveLocation("", nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = ResolveLocation("Asia/Tokyo", ny)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())

	_, err = ResolveLocation("Mars/Olympus", ny)
	assert.Error(t, err)

	_, err = ResolveLocation("Local", ny)
	assert.Error(t, err)
}

func TestCheck_ExactMinute(t *testing.T) {
	utc := Profile{UserID: 1, ReminderTime: "09:00", Timezone: "UTC", Active: true, Onboarded: true}
	ny := Profile{UserID: 2, ReminderTime: "09:00", Timezone: "America/New_York", Active: true, Onboarded: true}

	tests := []struct {
		name string
		p    Profile
		now  time.Time
		want bool
	}{
		{"utc minute before", utc, time.Date(2024, 1, 15, 8, 59, 0, 0, time.UTC), false},
		{"utc on the minute", utc, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), true},
		{"utc seconds into minute", utc, time.Date(2024, 1, 15, 9, 0, 59, 0, time.UTC), true},
		{"utc minute after", utc, time.Date(2024, 1, 15, 9, 1, 0, 0, time.UTC), false},
		{"est minute before", ny, time.Date(2024, 1, 15, 13, 59, 0, 0, time.UTC), false},
		{"est on the minute", ny, time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC), true},
		{"est minute after", ny, time.Date(2024, 1, 15, 14, 1, 0, 0, time.UTC), false},
		{"est ignores summer offset", ny, time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Check(tt.now, tt.p, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Due)
		})
	}
}

func TestCheck_NewYorkAtNine(t *testing.T) {
	p := Profile{UserID: 1, ReminderTime: "09:00", Timezone: "America/New_York", Active: true, Onboarded: true}

	// 13:00 UTC during EDT is 09:00 in New York.
	now := time.Date(2024, 6, 1, 13, 0, 30, 0, time.UTC)
	d, err := Check(now, p, time.UTC)
	require.NoError(t, err)
	assert.True(t, d.Due)
	assert.Equal(t, "2024-06-01", d.LocalDate)
	assert.Equal(t, 9, d.Local.Hour())

	d, err = Check(now.Add(time.Minute), p, time.UTC)
	require.NoError(t, err)
	assert.False(t, d.Due)
}

func TestCheck_LocalDateDiffersFromUTC(t *testing.T) {
	p := Profile{UserID: 2, ReminderTime: "08:00", Timezone: "Asia/Tokyo"}

	// 23:00 UTC on May 31 is 08:00 on June 1 in Tokyo.
	now := time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC)
	d, err := Check(now, p, time.UTC)
	require.NoError(t, err)
	assert.True(t, d.Due)
	assert.Equal(t, "2024-06-01", d.LocalDate)
}

func TestCheck_EmptyTimezoneUsesDefault(t *testing.T) {
	p := Profile{UserID: 3, ReminderTime: "10:00"}
	berlin := mustLoc(t, "Europe/Berlin")

	// 08:00 UTC in June is 10:00 CEST.
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	d, err := Check(now, p, berlin)
	require.NoError(t, err)
	assert.True(t, d.Due)

	d, err = Check(now, p, time.UTC)
	require.NoError(t, err)
	assert.False(t, d.Due)
}

func TestCheck_DataQuality(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	_, err := Check(now, Profile{UserID: 4, ReminderTime: "9am"}, time.UTC)
	var dq *DataQualityError
	require.True(t, errors.As(err, &dq))
	assert.Equal(t, FieldReminderTime, dq.Field)
	assert.Equal(t, "9am", dq.Value)
	assert.Equal(t, int64(4), dq.UserID)

	_, err = Check(now, Profile{UserID: 5, ReminderTime: "09:00", Timezone: "Nowhere/City"}, time.UTC)
	require.True(t, errors.As(err, &dq))
	assert.Equal(t, FieldTimezone, dq.Field)
	assert.Contains(t, dq.Error(), "Nowhere/City")
}

func TestCheck_Deterministic(t *testing.T) {
	p := Profile{UserID: 6, ReminderTime: "18:45", Timezone: "Australia/Adelaide"}
	now := time.Date(2024, 1, 10, 8, 15, 0, 0, time.UTC)
	a, errA := Check(now, p, time.UTC)
	b, errB := Check(now, p, time.UTC)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a.Due, b.Due)
	assert.Equal(t, a.LocalDate, b.LocalDate)
	// Adelaide is UTC+10:30 in January.
	assert.True(t, a.Due)
}

func TestCheck_DueOncePerLocalDay(t *testing.T) {
	p := Profile{UserID: 7, ReminderTime: "06:30", Timezone: "America/Los_Angeles"}
	start := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	due := 0
	for m := 0; m < 24*60; m++ {
		d, err := Check(start.Add(time.Duration(m)*time.Minute), p, time.UTC)
		require.NoError(t, err)
		if d.Due {
			due++
		}
	}
	assert.Equal(t, 1, due)
}

func TestNext(t *testing.T) {
	p := Profile{UserID: 8, ReminderTime: "09:00", Timezone: "Europe/London"}
	london := mustLoc(t, "Europe/London")

	// 07:00 UTC in June is 08:00 BST: still ahead today.
	next, err := Next(time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC), p, time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, london)))

	// 09:00 BST exactly: fires this minute.
	next, err = Next(time.Date(2024, 6, 1, 8, 0, 20, 0, time.UTC), p, time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, london)))

	// Past it: tomorrow.
	next, err = Next(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), p, time.UTC)
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2024, 6, 2, 9, 0, 0, 0, london)))

	_, err = Next(time.Now(), Profile{ReminderTime: "bad"}, time.UTC)
	assert.Error(t, err)
}

func TestMinuteBucket(t *testing.T) {
	tokyo := mustLoc(t, "Asia/Tokyo")
	at := time.Date(2024, 6, 1, 9, 5, 59, 0, tokyo)
	assert.Equal(t, "2024-06-01-00-05", MinuteBucket(at))
	assert.Equal(t, MinuteBucket(at), MinuteBucket(at.Add(-30*time.Second)))
	assert.Equal(t, "2024-06-01", UTCDate(at))
}
