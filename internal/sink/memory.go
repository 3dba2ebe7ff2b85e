package sink

import (
	"context"
	"sync"

	"github.com/park285/cheese-observer/internal/domain"
)

// Memory keeps the most recent records in a bounded ring.
type Memory struct {
	mu    sync.RWMutex
	limit int
	recs  []domain.Record
}

func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = 100
	}
	return &Memory{limit: limit, recs: make([]domain.Record, 0, limit)}
}

func (m *Memory) Deliver(_ context.Context, rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.recs) == m.limit {
		copy(m.recs, m.recs[1:])
		m.recs = m.recs[:len(m.recs)-1]
	}
	m.recs = append(m.recs, rec)
	return nil
}

// Records returns up to limit newest records, oldest first. limit <= 0 means all.
func (m *Memory) Records(limit int) []domain.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if limit > 0 && limit < len(m.recs) {
		start = len(m.recs) - limit
	}
	out := make([]domain.Record, len(m.recs)-start)
	copy(out, m.recs[start:])
	return out
}

func (m *Memory) Latest() (domain.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.recs) == 0 {
		return domain.Record{}, false
	}
	return m.recs[len(m.recs)-1], true
}

func (m *Memory) Clear() {
	m.mu.Lock()
	m.recs = m.recs[:0]
	m.mu.Unlock()
}
