package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindfulbot/internal/reminder"
)

func TestObserveTick(t *testing.T) {
	r := New(false)

	r.ObserveTick(reminder.TickReport{Checked: 5, Due: 2}, 40*time.Millisecond, nil)
	r.ObserveTick(reminder.TickReport{Checked: 1, Due: 1}, time.Millisecond, errors.New("tracker down"))
	r.ObserveTick(reminder.TickReport{Skipped: true}, 0, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.ticks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ticks.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ticks.WithLabelValues("skipped")))
	assert.Equal(t, 6.0, testutil.ToFloat64(r.checked))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.due))
	assert.Greater(t, testutil.ToFloat64(r.lastTick), 0.0)
}

func TestIncDispatch(t *testing.T) {
	r := New(false)
	r.IncDispatch(reminder.OutcomeSent)
	r.IncDispatch(reminder.OutcomeSent)
	r.IncDispatch(reminder.OutcomeFailed)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.dispatches.WithLabelValues(reminder.OutcomeSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.dispatches.WithLabelValues(reminder.OutcomeFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.dispatches.WithLabelValues(reminder.OutcomeInvalid)))
}

func TestHandler(t *testing.T) {
	r := New(true)
	r.IncDispatch(reminder.OutcomeForced)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mindfulbot_reminder_dispatches_total{outcome="forced"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
