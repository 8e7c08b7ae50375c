package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(ln), &m))
		out = append(out, m)
	}
	return out
}

func TestWriter_FieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "reminder"))

	log.Debug("hidden")
	log.Warn("delivery failed", Int64("user_id", 42), Err(errors.New("timeout")), Err(nil))

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "delivery failed", got[0]["message"])
	assert.Equal(t, "warn", got[0]["level"])
	assert.Equal(t, "reminder", got[0]["comp"])
	assert.Equal(t, float64(42), got[0]["user_id"])
	assert.Contains(t, got[0]["caller"], "logging_test.go")
}

func TestWith_DoesNotAlias(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug").With(String("a", "1"))
	l1 := base.With(String("b", "1"))
	_ = base.With(String("b", "2"))

	l1.Info("x")
	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0]["b"])
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.NotPanics(t, func() { zero.Error("nothing") })
	assert.False(t, Nop().IsZero())
	assert.NotPanics(t, func() { Nop().Info("nothing") })
}

func TestService_ApplyFileSinkAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("dropped")
	log.Warn("kept")
	assert.False(t, log.Enabled(LevelInfo))

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	assert.True(t, log.Enabled(LevelDebug))
	log.Debug("after reload")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "dropped")
	assert.Contains(t, string(b), "kept")
	assert.Contains(t, string(b), "after reload")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, parseLevel("warning", LevelInfo))
	assert.Equal(t, LevelDebug, parseLevel(" DEBUG ", LevelInfo))
	assert.Equal(t, LevelInfo, parseLevel("loud", LevelInfo))
}

func TestWith_ReplacesKey(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "app"), String("run", "r1"))
	log.With(String("comp", "storage")).Info("opened")

	raw := strings.TrimSpace(buf.String())
	assert.Equal(t, 1, strings.Count(raw, `"comp"`))
	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "storage", got[0]["comp"])
	assert.Equal(t, "r1", got[0]["run"])
}

func TestService_ApplyKeepsOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	svc, _ := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	first := svc.file
	require.NotNil(t, first)
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	assert.Same(t, first, svc.file)

	svc.Apply(Config{Level: "debug"})
	assert.Nil(t, svc.file)
}
