// Package budget tracks resource unit consumption across a workflow run and
// enforces a hard ceiling before each step.
package budget

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultEstimate is charged when a step declares no estimated units.
const DefaultEstimate = 1000

// ErrBudgetExceeded classifies a step rejected because the remaining budget
// cannot cover its estimate.
var ErrBudgetExceeded = errors.New("resource budget exceeded")

// UsageRecord is one step's recorded consumption.
type UsageRecord struct {
	StepID     string    `json:"step_id"`
	Units      int       `json:"units"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Manager implements protocol.BudgetGate. A total of zero or less means the
// budget is unlimited.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	total   int
	used    int
	records []UsageRecord
}

func NewManager(totalUnits int, logger *slog.Logger) *Manager {
	return &Manager{
		total:  totalUnits,
		logger: logger.With("module", "budget"),
	}
}

// CanAllocate reports whether the estimate fits in the remaining budget.
func (m *Manager) CanAllocate(estimatedUnits int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.total <= 0 {
		return true
	}

	if estimatedUnits <= 0 {
		estimatedUnits = DefaultEstimate
	}

	return m.used+estimatedUnits <= m.total
}

// RecordUsage charges actual consumption against the budget. Actuals are
// recorded even when they overshoot the total; enforcement happens on the
// next CanAllocate call.
func (m *Manager) RecordUsage(stepID string, units int) {
	if units <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.used += units
	m.records = append(m.records, UsageRecord{
		StepID:     stepID,
		Units:      units,
		RecordedAt: time.Now().UTC(),
	})

	if m.total > 0 && m.used > m.total {
		m.logger.Warn("Resource budget overshot", "step_id", stepID, "used", m.used, "total", m.total)
	}
}

// Used reports total recorded consumption.
func (m *Manager) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.used
}

// Remaining reports the unspent budget, or -1 when unlimited.
func (m *Manager) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.total <= 0 {
		return -1
	}

	remaining := m.total - m.used
	if remaining < 0 {
		remaining = 0
	}

	return remaining
}

// Records returns a copy of the per-step usage history.
func (m *Manager) Records() []UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]UsageRecord, len(m.records))
	copy(out, m.records)

	return out
}
