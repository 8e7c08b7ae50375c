package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mindfulbot/internal/eventbus"
	logx "mindfulbot/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ used to interpret cron fields; empty means UTC
}

// Job is the unit of work a schedule triggers.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // normalized cron spec or @every
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	state   *runState
}

type runState struct {
	mu       sync.Mutex
	runs     uint64
	failures uint64
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	base   context.Context // jobs run under it; set by Start
	defs   []scheduleDef
}

type ScheduleInfo struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Timeout  time.Duration `json:"timeout"`
	Next     time.Time     `json:"next,omitempty"`
	Prev     time.Time     `json:"prev,omitempty"`
	Runs     uint64        `json:"runs"`
	Failures uint64        `json:"failures"`
	LastTook time.Duration `json:"last_took"`
	LastErr  string        `json:"last_error,omitempty"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}

// Event types published on the bus.
const (
	EventJobFailed = "task.failed"
)
