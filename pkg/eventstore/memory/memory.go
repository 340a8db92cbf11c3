package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/leadwatch/leadwatch/pkg/event"
	"github.com/leadwatch/leadwatch/pkg/eventstore"
)

// Store keeps the event log in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	events []event.Event
	mu     sync.RWMutex
}

// New creates an in-memory event store.
func New() *Store {
	return &Store{
		events: make([]event.Event, 0, 10000),
	}
}

// Append adds events to the log.
func (s *Store) Append(ctx context.Context, events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	return nil
}

// Query retrieves events matching the request, enforcing the per-call row
// ceiling the same way the production backend does.
func (s *Store) Query(ctx context.Context, req eventstore.QueryRequest) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	candidates := make([]event.Event, len(s.events))
	copy(candidates, s.events)
	s.mu.RUnlock()

	if req.Ascending {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Timestamp.Before(candidates[j].Timestamp)
		})
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Timestamp.After(candidates[j].Timestamp)
		})
	}

	limit := req.EffectiveLimit()
	var results []event.Event
	for _, e := range candidates {
		if !eventstore.Matches(e, req) {
			continue
		}
		results = append(results, e)
		if len(results) >= limit {
			break
		}
	}

	return results, nil
}

// Stats returns log statistics.
func (s *Store) Stats(ctx context.Context) (*eventstore.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &eventstore.Stats{
		TotalEvents: uint64(len(s.events)),
	}
	if len(s.events) == 0 {
		return stats, nil
	}

	oldest := s.events[0].Timestamp
	newest := s.events[0].Timestamp
	for _, e := range s.events {
		switch e.Kind {
		case event.KindSubmission:
			stats.Submissions++
		case event.KindConsensus:
			stats.Consensus++
		}
		if e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
		if e.Timestamp.After(newest) {
			newest = e.Timestamp
		}
	}
	stats.OldestEvent = oldest
	stats.NewestEvent = newest

	// Rough size estimate (each event ~200 bytes)
	stats.SizeBytes = uint64(len(s.events)) * 200

	return stats, nil
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}
