package ratelimit

import (
	"context"
	"sync"
	"time"
)

const pruneEvery = 256

// Memory keeps one timestamp log per key in this process.
type Memory struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	windows map[string][]time.Time
	calls   int
	now     func() time.Time
}

func NewMemory(max int, window time.Duration) *Memory {
	return &Memory{
		max:     max,
		window:  window,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%pruneEvery == 0 {
		m.prune(now)
	}

	log := evict(m.windows[key], now, m.window)
	if len(log) >= m.max {
		m.windows[key] = log
		return Decision{RetryAfter: log[0].Add(m.window).Sub(now)}, nil
	}

	log = append(log, now)
	m.windows[key] = log
	return Decision{Allowed: true, Remaining: m.max - len(log)}, nil
}

// Keys reports how many identifiers currently hold state.
func (m *Memory) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// prune drops keys whose whole log fell out of the window. Caller holds m.mu.
func (m *Memory) prune(now time.Time) {
	for k, log := range m.windows {
		if log = evict(log, now, m.window); len(log) == 0 {
			delete(m.windows, k)
		} else {
			m.windows[k] = log
		}
	}
}

// evict drops timestamps at least one window old. The log is sorted ascending.
func evict(log []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	return append(log[:0], log[i:]...)
}
