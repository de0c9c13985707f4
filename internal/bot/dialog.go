package bot

import (
	"sync"
	"time"
)

type stage int

const (
	stageIdle stage = iota
	stageWaitDate
	stageWaitTime
)

func (s stage) String() string {
	switch s {
	case stageWaitDate:
		return "wait_date"
	case stageWaitTime:
		return "wait_time"
	}
	return "idle"
}

// dialogs remembers which question each user was last asked. A dialog
// left unanswered for longer than ttl is forgotten.
type dialogs struct {
	mu  sync.Mutex
	m   map[int64]dialog
	ttl time.Duration
	now func() time.Time
}

type dialog struct {
	stage stage
	since time.Time
}

func newDialogs(ttl time.Duration, now func() time.Time) *dialogs {
	return &dialogs{m: map[int64]dialog{}, ttl: ttl, now: now}
}

func (d *dialogs) begin(userID int64, s stage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[userID] = dialog{stage: s, since: d.now()}
}

func (d *dialogs) current(userID int64) stage {
	d.mu.Lock()
	defer d.mu.Unlock()
	dl, ok := d.m[userID]
	if !ok {
		return stageIdle
	}
	if d.ttl > 0 && d.now().Sub(dl.since) > d.ttl {
		delete(d.m, userID)
		return stageIdle
	}
	return dl.stage
}

// end closes the user's dialog and reports whether one was open.
func (d *dialogs) end(userID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.m[userID]
	delete(d.m, userID)
	return ok
}

func (d *dialogs) open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.m)
}
