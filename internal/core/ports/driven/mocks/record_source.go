package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// MockRecordSource is an in-memory RecordSource. Records are kept per type and
// sorted by id; Hidden ids are excluded from the eligible set.
type MockRecordSource struct {
	mu      sync.RWMutex
	records map[string][]domain.Record
	Hidden  map[int64]bool

	// ListErr is returned by List when set
	ListErr error
	// Queries records every List call
	Queries []driven.RecordQuery
}

// NewMockRecordSource creates a new MockRecordSource
func NewMockRecordSource() *MockRecordSource {
	return &MockRecordSource{
		records: make(map[string][]domain.Record),
		Hidden:  make(map[int64]bool),
	}
}

// Add stores records under their record type.
func (m *MockRecordSource) Add(records ...domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.RecordType()] = append(m.records[r.RecordType()], r)
	}
}

// Remove deletes a record.
func (m *MockRecordSource) Remove(recordType string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[recordType][:0]
	for _, r := range m.records[recordType] {
		if r.RecordID() != id {
			kept = append(kept, r)
		}
	}
	m.records[recordType] = kept
}

func (m *MockRecordSource) eligible(recordType string, dir driven.SortDirection) []domain.Record {
	var out []domain.Record
	for _, r := range m.records[recordType] {
		if !m.Hidden[r.RecordID()] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if dir == driven.SortDesc {
			return out[i].RecordID() > out[j].RecordID()
		}
		return out[i].RecordID() < out[j].RecordID()
	})
	return out
}

func (m *MockRecordSource) List(ctx context.Context, query driven.RecordQuery) ([]domain.Record, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, query)
	m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.eligible(query.RecordType, query.Direction)
	if query.Offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if query.Limit > 0 && query.Offset+query.Limit < end {
		end = query.Offset + query.Limit
	}
	return all[query.Offset:end], nil
}

func (m *MockRecordSource) Count(ctx context.Context, recordType string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.eligible(recordType, driven.SortAsc)), nil
}

func (m *MockRecordSource) Get(ctx context.Context, recordType string, id int64) (domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.eligible(recordType, driven.SortAsc) {
		if r.RecordID() == id {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}
