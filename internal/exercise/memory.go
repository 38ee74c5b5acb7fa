package exercise

import (
	"context"
	"fmt"
	"sync"
)

// MemorySource is an in-memory snapshot store keyed by exercise start time.
// It satisfies the uplink's snapshot source without any backing database.
type MemorySource struct {
	mu        sync.RWMutex
	snapshots map[int64]*Snapshot
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		snapshots: make(map[int64]*Snapshot),
	}
}

// Upsert stores s, replacing any snapshot with the same start time.
func (m *MemorySource) Upsert(_ context.Context, s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("exercise: cannot store nil snapshot")
	}
	m.mu.Lock()
	m.snapshots[s.StartTime] = s.Clone()
	m.mu.Unlock()
	return nil
}

// Latest returns the snapshot of the most recently started exercise, or nil
// if nothing has been recorded.
func (m *MemorySource) Latest(_ context.Context) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Snapshot
	for start, s := range m.snapshots {
		if latest == nil || start > latest.StartTime {
			latest = s
		}
	}
	return latest.Clone(), nil
}

func (m *MemorySource) Close() error { return nil }
