// Package state keeps each user's countdown target and optional daily
// notification time for the lifetime of the process.
//
// Every method is safe for concurrent use on its own. Sequences of calls are
// not atomic: a dialog turn and a scheduler callback may interleave between a
// read and the following write, so callers check for absence on every read.
package state

import (
	"sort"
	"sync"
	"time"

	"countdownbot/internal/countdown"
)

type Store interface {
	SetDate(userID int64, target time.Time)
	Date(userID int64) (time.Time, bool)
	HasDate(userID int64) bool

	SetNotification(userID int64, at countdown.TimeOfDay)
	Notification(userID int64) (countdown.TimeOfDay, bool)
	HasNotification(userID int64) bool
	RemoveNotification(userID int64)

	// Clear drops both fields for the user.
	Clear(userID int64)
}

type record struct {
	target    time.Time
	hasTarget bool

	notify    countdown.TimeOfDay
	hasNotify bool
}

// Memory is the in-process Store.
type Memory struct {
	mu    sync.RWMutex
	users map[int64]record
}

func NewMemory() *Memory {
	return &Memory{users: map[int64]record{}}
}

func (m *Memory) SetDate(userID int64, target time.Time) {
	m.mu.Lock()
	r := m.users[userID]
	r.target, r.hasTarget = target, true
	m.users[userID] = r
	m.mu.Unlock()
}

func (m *Memory) Date(userID int64) (time.Time, bool) {
	m.mu.RLock()
	r, ok := m.users[userID]
	m.mu.RUnlock()
	if !ok || !r.hasTarget {
		return time.Time{}, false
	}
	return r.target, true
}

func (m *Memory) HasDate(userID int64) bool {
	_, ok := m.Date(userID)
	return ok
}

func (m *Memory) SetNotification(userID int64, at countdown.TimeOfDay) {
	m.mu.Lock()
	r := m.users[userID]
	r.notify, r.hasNotify = at, true
	m.users[userID] = r
	m.mu.Unlock()
}

func (m *Memory) Notification(userID int64) (countdown.TimeOfDay, bool) {
	m.mu.RLock()
	r, ok := m.users[userID]
	m.mu.RUnlock()
	if !ok || !r.hasNotify {
		return countdown.TimeOfDay{}, false
	}
	return r.notify, true
}

func (m *Memory) HasNotification(userID int64) bool {
	_, ok := m.Notification(userID)
	return ok
}

func (m *Memory) RemoveNotification(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.users[userID]
	if !ok {
		return
	}
	r.notify, r.hasNotify = countdown.TimeOfDay{}, false
	if !r.hasTarget {
		delete(m.users, userID)
		return
	}
	m.users[userID] = r
}

func (m *Memory) Clear(userID int64) {
	m.mu.Lock()
	delete(m.users, userID)
	m.mu.Unlock()
}

// Len returns the number of users with any stored field.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// Stats counts users with a target and users with a notification.
func (m *Memory) Stats() (withDate, withNotification int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.users {
		if r.hasTarget {
			withDate++
		}
		if r.hasNotify {
			withNotification++
		}
	}
	return withDate, withNotification
}

// Users returns the known user ids in ascending order.
func (m *Memory) Users() []int64 {
	m.mu.RLock()
	out := make([]int64, 0, len(m.users))
	for id := range m.users {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
