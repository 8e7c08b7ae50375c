package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 15s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/bot.db
reminders:
  enabled: true
  default_timezone: Europe/Berlin
delivery:
  rate_per_sec: 20
  retry_max: 3
  retry_base: 250ms
http:
  enabled: true
  addr: 127.0.0.1:9090
`

func TestParse_YAMLWithDefaults(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)

	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, []int64{42}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, "Europe/Berlin", cfg.Reminders.DefaultTimezone)
	assert.Equal(t, DefaultSchedule, cfg.Reminders.Schedule)
	assert.Equal(t, DefaultReminderTime, cfg.Reminders.DefaultReminderTime)
	assert.Equal(t, TrackerStorage, cfg.Reminders.Tracker)
	assert.Equal(t, 4, cfg.Reminders.Workers)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	require.NoError(t, cfg.Validate())
}

func TestParse_JSON(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.json", `{"telegram":{"token":"t"},"reminders":{"enabled":true}}`)
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, TrackerMemory, cfg.Reminders.Tracker)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTP.Addr)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", "reminders:\n  enabled: true\n  timezone: UTC\n")
	_, err := NewConfigManager(p).Parse()
	assert.ErrorContains(t, err, "unknown field")
}

func TestParse_RejectsTrailingData(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.json", `{"logging":{"level":"info"}} {"logging":{}}`)
	_, err := NewConfigManager(p).Parse()
	assert.ErrorContains(t, err, "trailing data")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvTelegramToken, "env-token")
	t.Setenv(EnvDefaultTimezone, "Asia/Tokyo")
	t.Setenv(EnvDBPath, "/var/lib/bot.db")

	cfg := &Config{}
	ApplyEnv(cfg)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "Asia/Tokyo", cfg.Reminders.DefaultTimezone)
	assert.Equal(t, "/var/lib/bot.db", cfg.Storage.Path)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", "MINDFULBOT_TEST_DOTENV=from-file\n")
	t.Setenv("MINDFULBOT_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("MINDFULBOT_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(p, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("MINDFULBOT_TEST_DOTENV"))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{Storage: StorageConfig{Driver: "sqlite", Path: "x.db"}}
		c.ApplyDefaults()
		return c
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad timezone", func(c *Config) { c.Reminders.DefaultTimezone = "Mars/Olympus" }, "reminders.default_timezone"},
		{"bad default time", func(c *Config) { c.Reminders.DefaultReminderTime = "25:00" }, "reminders.default_reminder_time"},
		{"bad schedule", func(c *Config) { c.Reminders.Schedule = "every minute" }, "reminders.schedule"},
		{"unknown tracker", func(c *Config) { c.Reminders.Tracker = "redis" }, "reminders.tracker"},
		{"storage tracker without storage", func(c *Config) { c.Storage = StorageConfig{} }, "requires storage.driver"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"bad duration", func(c *Config) { c.Delivery.RetryBase = "soon" }, "delivery.retry_base"},
		{"negative retries", func(c *Config) { c.Delivery.RetryMax = -1 }, "delivery.retry_max"},
		{"bad http addr", func(c *Config) { c.HTTP.Enabled = true; c.HTTP.Addr = "8080" }, "http.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	d, err = ParseDurationOrDefault("x", "20", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, d)

	_, err = ParseDurationOrDefault("x", "-1s", time.Second)
	assert.Error(t, err)
	_, err = ParseDurationOrDefault("x", "-5", time.Second)
	assert.Error(t, err)
	_, err = ParseDurationOrDefault("x", "soon", time.Second)
	assert.ErrorContains(t, err, "x: invalid duration")
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "a"}, Logging: LoggingConfig{Level: "info"}}
	b := &Config{Telegram: TelegramConfig{Token: "b"}, Logging: LoggingConfig{Level: "debug"}, HTTP: HTTPConfig{Enabled: true}}

	sections, _ := SummarizeConfigChange(a, b)
	assert.ElementsMatch(t, []string{"telegram", "logging", "http"}, sections)
	assert.True(t, RestartRequired(sections))
	assert.False(t, RestartRequired([]string{"logging", "reminders", "http"}))
}

func TestWatch_PublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "logging:\n  level: info\n")
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := m.Subscribe(1)
	go func() { _ = m.Watch(ctx) }()
	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "config.yaml", "logging:\n  level: [\n") // broken, rejected
	writeFile(t, dir, "config.yaml", "logging:\n  level: debug\n")

	select {
	case cfg := <-sub:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}

func TestToJSON(t *testing.T) {
	tests := []struct {
		name, path, body string
		want             string
		format           fileFormat
		wantErr          bool
	}{
		{name: "json by ext", path: "c.json", body: `{"a":1}`, want: `{"a":1}`, format: formatJSON},
		{name: "yaml by ext", path: "c.yml", body: "a: 1\n", want: `{"a":1}`, format: formatYAML},
		{name: "sniffed json", path: "config", body: " {\"a\":1}", want: " {\"a\":1}", format: formatJSON},
		{name: "sniffed yaml", path: "config", body: "a: x\n", want: `{"a":"x"}`, format: formatYAML},
		{name: "empty yaml", path: "c.yaml", body: "", want: `{}`, format: formatYAML},
		{name: "multi doc", path: "c.yaml", body: "a: 1\n---\nb: 2\n", format: formatYAML, wantErr: true},
		{name: "broken yaml", path: "c.yaml", body: "a: [1,\n", format: formatYAML, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, format, err := toJSON(tt.path, []byte(tt.body))
			assert.Equal(t, tt.format, format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
