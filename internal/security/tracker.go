// Package security provides the shared enforcement primitives of the
// gateway trust boundary: the sliding-window action tracker, the per-client
// request rate limiter, and log sanitization.
package security

import (
	"errors"
	"sync"
	"time"
)

// Tracker errors. Callers map these onto their own stable reason codes.
var (
	// ErrRateLimited means the action-count window is full.
	ErrRateLimited = errors.New("security: action rate limit exceeded")
	// ErrCostCapped means admitting the action would exceed the daily cost cap.
	ErrCostCapped = errors.New("security: daily cost cap exceeded")
)

// Default tracker budgets, overridable via config.
const (
	DefaultMaxActionsPerWindow = 20
	DefaultActionWindow        = time.Hour
	DefaultDailyCostCapCents   = 500
	DefaultCostWindow          = 24 * time.Hour
)

// actionRecord is one admitted action.
type actionRecord struct {
	at        time.Time
	costCents int
}

// ActionTracker is a sliding-window rate limiter and cumulative cost
// tracker shared across validated actions. Two windows run over the same
// record list: a short window bounding the action count and a rolling 24h
// window bounding total cost. All access is serialized by one mutex, so
// concurrent callers observe a linearized sequence of accept/reject
// decisions. Multiple trackers do not coordinate with each other.
type ActionTracker struct {
	mu      sync.Mutex
	records []actionRecord

	maxActions   int
	actionWindow time.Duration
	costCapCents int
	costWindow   time.Duration

	now func() time.Time
}

// TrackerConfig sets the tracker budgets. Zero values take the defaults.
type TrackerConfig struct {
	MaxActionsPerWindow int
	ActionWindow        time.Duration
	DailyCostCapCents   int
	CostWindow          time.Duration

	// Now overrides the clock for tests.
	Now func() time.Time
}

// NewActionTracker creates a tracker with the given budgets.
func NewActionTracker(cfg TrackerConfig) *ActionTracker {
	t := &ActionTracker{
		maxActions:   cfg.MaxActionsPerWindow,
		actionWindow: cfg.ActionWindow,
		costCapCents: cfg.DailyCostCapCents,
		costWindow:   cfg.CostWindow,
		now:          cfg.Now,
	}
	if t.maxActions <= 0 {
		t.maxActions = DefaultMaxActionsPerWindow
	}
	if t.actionWindow <= 0 {
		t.actionWindow = DefaultActionWindow
	}
	if t.costCapCents <= 0 {
		t.costCapCents = DefaultDailyCostCapCents
	}
	if t.costWindow <= 0 {
		t.costWindow = DefaultCostWindow
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// RecordAndCheck admits one action of the given cost, or returns
// ErrRateLimited / ErrCostCapped without mutating state. Expired records
// are purged lazily before every decision, so the tracker never reports
// more actions than currently fall within the window.
func (t *ActionTracker) RecordAndCheck(costCents int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.purge(now)

	inWindow := 0
	actionCutoff := now.Add(-t.actionWindow)
	costTotal := 0
	for _, rec := range t.records {
		if rec.at.After(actionCutoff) {
			inWindow++
		}
		costTotal += rec.costCents
	}

	if inWindow >= t.maxActions {
		return ErrRateLimited
	}
	if costTotal+costCents > t.costCapCents {
		return ErrCostCapped
	}

	t.records = append(t.records, actionRecord{at: now, costCents: costCents})
	return nil
}

// Stats reports the current window occupancy without admitting anything.
func (t *ActionTracker) Stats() (actions int, costCents int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.purge(now)

	actionCutoff := now.Add(-t.actionWindow)
	for _, rec := range t.records {
		if rec.at.After(actionCutoff) {
			actions++
		}
		costCents += rec.costCents
	}
	return actions, costCents
}

// purge drops records older than the cost window (the longer of the two).
// Records between the action window and the cost window still count toward
// cost but not toward the action budget.
func (t *ActionTracker) purge(now time.Time) {
	cutoff := now.Add(-t.costWindow)
	kept := t.records[:0]
	for _, rec := range t.records {
		if rec.at.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	t.records = kept
}
