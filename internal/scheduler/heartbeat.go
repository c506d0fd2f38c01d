// Package scheduler implements HeartbeatRunner, AutonomyBudget, CronService,
// and WorkflowRuntime (spec §4.8), grounded on the teacher's cron-lane
// dispatch pattern in cmd/gateway_cron.go and its adhocore/gronx dependency
// for standard cron expressions.
package scheduler

import (
	"sync"
	"time"
)

// HeartbeatState is the adaptive polling interval described in spec §3.
type HeartbeatState struct {
	minMs, maxMs int64

	mu                sync.Mutex
	currentIntervalMs int64
	lastActiveAt      time.Time
	inactiveWindow    time.Duration
}

// NewHeartbeatState starts at maxMs (the most conservative interval) clamped
// to [minMs, maxMs].
func NewHeartbeatState(minMs, maxMs int64, inactiveWindow time.Duration) *HeartbeatState {
	return &HeartbeatState{
		minMs: minMs, maxMs: maxMs, currentIntervalMs: maxMs, inactiveWindow: inactiveWindow,
	}
}

// Adjust applies the multiplicative update rule from unreadEvents pressure:
// >20 unread halves the interval (min-clamped), >8 applies a 0.75 multiplier,
// 0 unread relaxes it by 1.2x (max-clamped). A zero reading that arrives more
// than the configured inactive window after the last nonzero reading
// collapses the interval to maxMs.
func (h *HeartbeatState) Adjust(unreadEvents int) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if unreadEvents > 0 {
		h.lastActiveAt = now
	} else if h.inactiveWindow > 0 && !h.lastActiveAt.IsZero() && now.Sub(h.lastActiveAt) > h.inactiveWindow {
		h.currentIntervalMs = h.maxMs
		return h.currentIntervalMs
	}

	switch {
	case unreadEvents > 20:
		h.currentIntervalMs = clamp(int64(float64(h.currentIntervalMs)*0.5), h.minMs, h.maxMs)
	case unreadEvents > 8:
		h.currentIntervalMs = clamp(int64(float64(h.currentIntervalMs)*0.75), h.minMs, h.maxMs)
	case unreadEvents == 0:
		h.currentIntervalMs = clamp(int64(float64(h.currentIntervalMs)*1.2), h.minMs, h.maxMs)
	}
	return h.currentIntervalMs
}

func (h *HeartbeatState) CurrentIntervalMs() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentIntervalMs
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// HeartbeatRunner ticks at HeartbeatState's adaptive interval, invoking fn
// each time. Scheduled beats always bypass the autonomy budget; other
// proactive calls are expected to check the budget themselves before
// calling RunOnce.
type HeartbeatRunner struct {
	state *HeartbeatState
	fn    func()

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

func NewHeartbeatRunner(state *HeartbeatState, fn func()) *HeartbeatRunner {
	return &HeartbeatRunner{state: state, fn: fn}
}

func (r *HeartbeatRunner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	stop := r.stopCh
	r.mu.Unlock()

	go func() {
		for {
			interval := time.Duration(r.state.CurrentIntervalMs()) * time.Millisecond
			select {
			case <-time.After(interval):
				r.RunOnce()
			case <-stop:
				return
			}
		}
	}()
}

func (r *HeartbeatRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	close(r.stopCh)
	r.running = false
}

// RunOnce invokes fn directly, bypassing the scheduled timer — used for
// scheduled heartbeats (always bypass budget) as well as manual triggers.
func (r *HeartbeatRunner) RunOnce() {
	r.fn()
}
