// Package memory provides an in-memory record store for tests and
// one-shot local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/solovyov/newswire/internal/news"
)

// defaultQueryLimit bounds unpaginated queries.
const defaultQueryLimit = 50

// RecordStore keeps records in a mutex-guarded map keyed by ID.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]news.NewsRecord
}

// NewRecordStore creates an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]news.NewsRecord)}
}

// Upsert stores the record, overwriting any previous row with the same ID.
func (s *RecordStore) Upsert(_ context.Context, record news.NewsRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

// Query returns matching records, newest first.
func (s *RecordStore) Query(_ context.Context, filter news.RecordFilter) ([]news.NewsRecord, error) {
	matched := s.matching(filter)

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].PublishedAt.Equal(matched[j].PublishedAt) {
			return matched[i].PublishedAt.After(matched[j].PublishedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	offset := filter.Offset
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count reports how many records match the filter, ignoring pagination.
func (s *RecordStore) Count(_ context.Context, filter news.RecordFilter) (int, error) {
	return len(s.matching(filter)), nil
}

// Len reports the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get returns the record with the given ID.
func (s *RecordStore) Get(id string) (news.NewsRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

func (s *RecordStore) matching(filter news.RecordFilter) []news.NewsRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []news.NewsRecord
	for _, r := range s.records {
		if filter.Category != "" &&
			!strings.Contains(strings.ToLower(r.Category), strings.ToLower(filter.Category)) {
			continue
		}
		if !filter.From.IsZero() && r.PublishedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && r.PublishedAt.After(filter.To) {
			continue
		}
		matched = append(matched, r)
	}
	return matched
}
