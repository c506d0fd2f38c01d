package scheduler

import (
	"encoding/json"
	"sync"
	"time"
)

// QuietHours denies admission unconditionally within [StartHourUTC,
// EndHourUTC), wrapping past midnight when Start > End.
type QuietHours struct {
	Enabled      bool
	StartHourUTC int
	EndHourUTC   int
}

func (q QuietHours) contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	return q.containsHour(t.UTC().Hour())
}

func (q QuietHours) containsHour(h int) bool {
	if q.StartHourUTC <= q.EndHourUTC {
		return h >= q.StartHourUTC && h < q.EndHourUTC
	}
	// wraps past midnight, e.g. 22 -> 6
	return h >= q.StartHourUTC || h < q.EndHourUTC
}

type window struct {
	maxPerWindow int
	duration     time.Duration
	timestamps   []time.Time
}

func (w *window) admit(now time.Time) bool {
	filtered := w.timestamps[:0]
	cutoff := now.Add(-w.duration)
	for _, t := range w.timestamps {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	w.timestamps = filtered
	return len(w.timestamps) < w.maxPerWindow
}

// AutonomyBudget gates proactive (non-scheduled) channel activity with an
// hourly and a daily sliding window, plus a quiet-hours blanket deny.
type AutonomyBudget struct {
	quiet QuietHours

	mu       sync.Mutex
	hourly   map[string]*window
	daily    map[string]*window
	maxHour  int
	maxDay   int
}

func NewAutonomyBudget(maxPerHour, maxPerDay int, quiet QuietHours) *AutonomyBudget {
	return &AutonomyBudget{
		quiet:   quiet,
		hourly:  make(map[string]*window),
		daily:   make(map[string]*window),
		maxHour: maxPerHour,
		maxDay:  maxPerDay,
	}
}

func (b *AutonomyBudget) windowsFor(channel string) (*window, *window) {
	h, ok := b.hourly[channel]
	if !ok {
		h = &window{maxPerWindow: b.maxHour, duration: time.Hour}
		b.hourly[channel] = h
	}
	d, ok := b.daily[channel]
	if !ok {
		d = &window{maxPerWindow: b.maxDay, duration: 24 * time.Hour}
		b.daily[channel] = d
	}
	return h, d
}

// Admit reports whether channel may proceed now; if so it atomically
// appends the timestamp to both windows.
func (b *AutonomyBudget) Admit(channel string) bool {
	now := time.Now()
	if b.quiet.contains(now) {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	hourlyWin, dailyWin := b.windowsFor(channel)
	if !hourlyWin.admit(now) || !dailyWin.admit(now) {
		return false
	}
	hourlyWin.timestamps = append(hourlyWin.timestamps, now)
	dailyWin.timestamps = append(dailyWin.timestamps, now)
	return true
}

// UpdateLimits changes the per-window caps applied to new and existing
// channel windows, without resetting their recorded timestamps. Used for
// config hot-reload: a tightened budget takes effect on the next Admit
// call, not retroactively against already-admitted activity.
func (b *AutonomyBudget) UpdateLimits(maxPerHour, maxPerDay int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxHour = maxPerHour
	b.maxDay = maxPerDay
	for _, w := range b.hourly {
		w.maxPerWindow = maxPerHour
	}
	for _, w := range b.daily {
		w.maxPerWindow = maxPerDay
	}
}

// snapshotState is the best-effort export/import shape.
type snapshotState struct {
	Hourly map[string][]time.Time `json:"hourly"`
	Daily  map[string][]time.Time `json:"daily"`
}

func (b *AutonomyBudget) Export() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := snapshotState{Hourly: make(map[string][]time.Time), Daily: make(map[string][]time.Time)}
	for ch, w := range b.hourly {
		s.Hourly[ch] = append([]time.Time(nil), w.timestamps...)
	}
	for ch, w := range b.daily {
		s.Daily[ch] = append([]time.Time(nil), w.timestamps...)
	}
	return json.Marshal(s)
}

// Import restores a prior Export snapshot on a best-effort basis: a
// corrupted or unreadable snapshot leaves the budget at its zero state
// rather than failing startup.
func (b *AutonomyBudget) Import(data []byte) {
	var s snapshotState
	if err := json.Unmarshal(data, &s); err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, ts := range s.Hourly {
		w, _ := b.windowsFor(ch)
		w.timestamps = ts
	}
	for ch, ts := range s.Daily {
		_, w := b.windowsFor(ch)
		w.timestamps = ts
	}
}
