package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the process-local backend: records live in a mutex-guarded
// map with no cross-process visibility.
type MemoryLimiter struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Acquire(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	windowSeconds := int(window / time.Second)

	record, ok := m.records[key]
	if !ok || !now.Before(record.WindowStart.Add(window)) {
		record = &Record{
			Key:           key,
			WindowStart:   now,
			Count:         1,
			Limit:         limit,
			WindowSeconds: windowSeconds,
		}
		m.records[key] = record
	} else {
		record.Count++
		record.Limit = limit
		record.WindowSeconds = windowSeconds
	}

	return resultFor(record.Count, limit, record.WindowStart, window, now), nil
}

func (m *MemoryLimiter) Current(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[key]
	if !ok {
		return 0, nil
	}

	window := time.Duration(record.WindowSeconds) * time.Second
	if !m.now().UTC().Before(record.WindowStart.Add(window)) {
		return 0, nil
	}

	return record.Count, nil
}

func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)

	return nil
}

func (m *MemoryLimiter) CleanupExpired(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().UTC().Add(-olderThan)
	removed := 0

	for key, record := range m.records {
		if record.WindowStart.Before(cutoff) {
			delete(m.records, key)

			removed++
		}
	}

	return removed, nil
}
