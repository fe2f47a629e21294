// ABOUTME: In-memory DispatchStore for tests and for running without a database
// ABOUTME: Mirrors SQLiteStore ordering and limit semantics

package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory DispatchStore implementation.
type MockStore struct {
	mu      sync.RWMutex
	records []DispatchRecord // insertion order
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// RecordDispatch stores a copy of r.
func (m *MockStore) RecordDispatch(_ context.Context, r *DispatchRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.Deliveries == nil {
		r.Deliveries = []Delivery{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := *r
	c.Deliveries = slices.Clone(r.Deliveries)
	m.records = append(m.records, c)
	return nil
}

// GetDispatch returns a copy of the record with id.
func (m *MockStore) GetDispatch(_ context.Context, id string) (*DispatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records {
		if r.ID == id {
			c := r
			c.Deliveries = slices.Clone(r.Deliveries)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListDispatches returns records newest first.
func (m *MockStore) ListDispatches(_ context.Context, limit int) ([]DispatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = NormalizeLimit(limit)
	out := make([]DispatchRecord, 0, min(limit, len(m.records)))
	// Stable sort on a reversed copy keeps later inserts first among equal timestamps.
	rev := slices.Clone(m.records)
	slices.Reverse(rev)
	slices.SortStableFunc(rev, func(a, b DispatchRecord) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	for _, r := range rev {
		if len(out) == limit {
			break
		}
		r.Deliveries = slices.Clone(r.Deliveries)
		out = append(out, r)
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure both implementations satisfy the interface.
var (
	_ DispatchStore = (*SQLiteStore)(nil)
	_ DispatchStore = (*MockStore)(nil)
)
