package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// Timezone is an IANA name, e.g. "Europe/Moscow". Empty means Local.
	Timezone string
}

// Job is the unit of work run on every trigger.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	runs     uint64
	failures uint64
	lastErr  string
	lastRun  time.Time
}

type ScheduleInfo struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Timeout  time.Duration `json:"timeout"`
	Next     time.Time     `json:"next"`
	Prev     time.Time     `json:"prev"`
	Runs     uint64        `json:"runs"`
	Failures uint64        `json:"failures"`
	LastErr  string        `json:"last_err,omitempty"`
}

type Snapshot struct {
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}

// RunEvent is published on the bus after every run.
type RunEvent struct {
	Name  string        `json:"name"`
	Took  time.Duration `json:"took"`
	Error string        `json:"error,omitempty"`
}
