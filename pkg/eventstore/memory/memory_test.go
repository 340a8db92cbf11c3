package memory

import (
	"context"
	"testing"
	"time"

	"github.com/leadwatch/leadwatch/pkg/config"
	"github.com/leadwatch/leadwatch/pkg/event"
	"github.com/leadwatch/leadwatch/pkg/eventstore"
)

func seed(t *testing.T, s *Store, events []event.Event) {
	t.Helper()
	if err := s.Append(context.Background(), events); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func makeEvents(n int) []event.Event {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	events := make([]event.Event, n)
	for i := 0; i < n; i++ {
		kind := event.KindSubmission
		if i%2 == 1 {
			kind = event.KindConsensus
		}
		e := event.Event{
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Kind:       kind,
			ContentKey: "k",
			ActorKey:   "hot1",
		}
		if kind == event.KindSubmission {
			e.Submission = &event.SubmissionPayload{LeadIdentifier: "lead"}
		} else {
			e.Consensus = &event.ConsensusPayload{EpochID: int64(i % 3), Decision: "approved"}
		}
		events[i] = e
	}
	return events
}

func TestQuery_NewestFirstByDefault(t *testing.T) {
	s := New()
	seed(t, s, makeEvents(10))

	rows, err := s.Query(context.Background(), eventstore.QueryRequest{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Timestamp.After(rows[i-1].Timestamp) {
			t.Fatalf("not newest-first at index %d", i)
		}
	}
}

func TestQuery_AscendingForJourneys(t *testing.T) {
	s := New()
	seed(t, s, makeEvents(10))

	rows, err := s.Query(context.Background(), eventstore.QueryRequest{Ascending: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Timestamp.Before(rows[i-1].Timestamp) {
			t.Fatalf("not oldest-first at index %d", i)
		}
	}
}

func TestQuery_RowCeilingEnforced(t *testing.T) {
	s := New()
	seed(t, s, makeEvents(config.StoreRowCeiling+200))

	rows, err := s.Query(context.Background(), eventstore.QueryRequest{Limit: config.StoreRowCeiling * 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != config.StoreRowCeiling {
		t.Errorf("ceiling not enforced: got %d rows", len(rows))
	}
}

func TestQuery_KindFilter(t *testing.T) {
	s := New()
	seed(t, s, makeEvents(10))

	rows, err := s.Query(context.Background(), eventstore.QueryRequest{Kind: event.KindConsensus})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 5 {
		t.Errorf("expected 5 consensus rows, got %d", len(rows))
	}
	for _, e := range rows {
		if e.Kind != event.KindConsensus {
			t.Fatalf("kind filter leaked a %v", e.Kind)
		}
	}
}

func TestQuery_BeforeCursorExclusive(t *testing.T) {
	s := New()
	events := makeEvents(10)
	seed(t, s, events)

	cut := events[5].Timestamp
	rows, err := s.Query(context.Background(), eventstore.QueryRequest{Before: cut})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 5 {
		t.Errorf("expected 5 rows strictly below the cursor, got %d", len(rows))
	}
	for _, e := range rows {
		if !e.Timestamp.Before(cut) {
			t.Fatalf("cursor must be exclusive; got row at %v", e.Timestamp)
		}
	}
}

func TestQuery_EpochPredicate(t *testing.T) {
	s := New()
	seed(t, s, makeEvents(12))

	epoch := int64(1)
	rows, err := s.Query(context.Background(), eventstore.QueryRequest{EpochID: &epoch})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, e := range rows {
		got, ok := e.EpochID()
		if !ok || got != epoch {
			t.Fatalf("epoch predicate leaked %+v", e)
		}
	}
	if len(rows) == 0 {
		t.Error("expected at least one epoch match")
	}
}

func TestQuery_LeadIdentSubstring(t *testing.T) {
	s := New()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seed(t, s, []event.Event{
		{
			Timestamp:  base,
			Kind:       event.KindSubmission,
			ContentKey: "k1",
			Submission: &event.SubmissionPayload{LeadIdentifier: "Acme Corporation"},
		},
		{
			Timestamp:  base.Add(time.Second),
			Kind:       event.KindSubmission,
			ContentKey: "k2",
			Submission: &event.SubmissionPayload{LeadIdentifier: "Globex"},
		},
	})

	rows, err := s.Query(context.Background(), eventstore.QueryRequest{LeadIdentSubstring: "acme"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0].ContentKey != "k1" {
		t.Errorf("substring match wrong: %+v", rows)
	}
}

func TestQuery_CanceledContext(t *testing.T) {
	s := New()
	seed(t, s, makeEvents(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Query(ctx, eventstore.QueryRequest{}); err == nil {
		t.Error("expected an error for a canceled context")
	}
}

func TestStats_Counts(t *testing.T) {
	s := New()
	seed(t, s, makeEvents(10))

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalEvents != 10 {
		t.Errorf("total = %d", stats.TotalEvents)
	}
	if stats.Submissions != 5 || stats.Consensus != 5 {
		t.Errorf("split = %d/%d", stats.Submissions, stats.Consensus)
	}
	if !stats.NewestEvent.After(stats.OldestEvent) {
		t.Error("timestamp range wrong")
	}
}
