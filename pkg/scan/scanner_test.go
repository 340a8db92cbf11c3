package scan

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/leadwatch/leadwatch/pkg/event"
	"github.com/leadwatch/leadwatch/pkg/eventstore"
	"github.com/leadwatch/leadwatch/pkg/fetch"
)

// sliceStore is a minimal in-memory Store over a fixed slice.
type sliceStore struct {
	events []event.Event
}

func (s *sliceStore) Query(ctx context.Context, req eventstore.QueryRequest) ([]event.Event, error) {
	matched := make([]event.Event, 0, len(s.events))
	for _, e := range s.events {
		if eventstore.Matches(e, req) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if req.Ascending {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit := req.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *sliceStore) Append(ctx context.Context, events []event.Event) error { return nil }
func (s *sliceStore) Stats(ctx context.Context) (*eventstore.Stats, error) {
	return &eventstore.Stats{}, nil
}
func (s *sliceStore) Close() error { return nil }

func consensusEvent(i int, epoch int64) event.Event {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return event.Event{
		Timestamp:  base.Add(time.Duration(i) * time.Second),
		Kind:       event.KindConsensus,
		ContentKey: "key",
		Consensus:  &event.ConsensusPayload{EpochID: epoch, Decision: "approved"},
	}
}

func submissionEvent(i int, ident string) event.Event {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return event.Event{
		Timestamp:  base.Add(time.Duration(i) * time.Second),
		Kind:       event.KindSubmission,
		ContentKey: "key",
		ActorKey:   "hot1",
		Submission: &event.SubmissionPayload{LeadIdentifier: ident},
	}
}

func newScanner(store eventstore.Store, cfg Config) *Scanner {
	f := fetch.New(store, fetch.Policy{MaxAttempts: 1})
	return New(f, cfg)
}

func TestScan_ZeroMatchNeverGivesUpEarly(t *testing.T) {
	// 200 consensus events, none in the wanted epoch, with a tight
	// empty-window limit. The scan must ignore the limit while zero matches
	// are in hand and walk the stream to its true end.
	store := &sliceStore{}
	for i := 0; i < 200; i++ {
		store.events = append(store.events, consensusEvent(i, 1))
	}

	s := newScanner(store, Config{WindowSize: 10, EmptyWindowLimit: 2, MaxWindows: 100})
	res, err := s.ScanEpoch(context.Background(), 99, time.Time{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Events) != 0 {
		t.Fatalf("expected no matches, got %d", len(res.Events))
	}
	if !res.Exhausted {
		t.Error("zero-match scan must run to exhaustion, not give up early")
	}
	if res.Windows < 20 {
		t.Errorf("expected the scan to walk all ~20 windows, got %d", res.Windows)
	}
}

func TestScan_EmptyRunStopsOnceMatchesFound(t *testing.T) {
	// Matches only in the newest window, then a long quiet stretch. With a
	// match in hand the empty-window limit may stop the scan early, and the
	// result must then NOT claim exhaustion.
	store := &sliceStore{}
	for i := 0; i < 500; i++ {
		store.events = append(store.events, consensusEvent(i, 1))
	}
	// Newest rows carry the wanted epoch.
	for i := 500; i < 505; i++ {
		store.events = append(store.events, consensusEvent(i, 7))
	}

	s := newScanner(store, Config{WindowSize: 10, EmptyWindowLimit: 3, MaxWindows: 100})
	res, err := s.ScanEpoch(context.Background(), 7, time.Time{}, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Events) != 5 {
		t.Errorf("expected 5 matches, got %d", len(res.Events))
	}
	if res.Exhausted {
		t.Error("an early stop must not be reported as exhaustion")
	}
	if res.Windows > 5 {
		t.Errorf("expected the empty-run heuristic to stop within ~5 windows, got %d", res.Windows)
	}
}

func TestScan_StopsAtTarget(t *testing.T) {
	store := &sliceStore{}
	for i := 0; i < 300; i++ {
		store.events = append(store.events, consensusEvent(i, 7))
	}

	s := newScanner(store, Config{WindowSize: 50, EmptyWindowLimit: 5, MaxWindows: 100})
	res, err := s.ScanEpoch(context.Background(), 7, time.Time{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// want+1 signals has-more without another window.
	if len(res.Events) < 11 {
		t.Errorf("expected at least want+1 matches, got %d", len(res.Events))
	}
	if res.Windows != 1 {
		t.Errorf("expected a single window to satisfy the target, got %d", res.Windows)
	}
	if res.Exhausted {
		t.Error("target-limited scan must not claim exhaustion")
	}
}

func TestScan_WindowCeiling(t *testing.T) {
	store := &sliceStore{}
	for i := 0; i < 400; i++ {
		store.events = append(store.events, consensusEvent(i, 1))
	}

	s := newScanner(store, Config{WindowSize: 10, EmptyWindowLimit: 50, MaxWindows: 3})
	res, err := s.ScanEpoch(context.Background(), 99, time.Time{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Windows != 3 {
		t.Errorf("expected the ceiling to stop at 3 windows, got %d", res.Windows)
	}
	if res.Exhausted {
		t.Error("ceiling-limited scan must not claim exhaustion")
	}
}

func TestScan_RespectsBeforeCursor(t *testing.T) {
	store := &sliceStore{}
	for i := 0; i < 100; i++ {
		store.events = append(store.events, consensusEvent(i, 7))
	}

	cut := store.events[50].Timestamp
	s := newScanner(store, Config{WindowSize: 200, EmptyWindowLimit: 5, MaxWindows: 10})
	res, err := s.ScanEpoch(context.Background(), 7, cut, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Events) != 50 {
		t.Errorf("expected 50 matches below the cursor, got %d", len(res.Events))
	}
	for _, e := range res.Events {
		if !e.Timestamp.Before(cut) {
			t.Fatalf("row at %v violates the exclusive cursor", e.Timestamp)
		}
	}
}

func TestScan_TiedTimestampsAcrossWindows(t *testing.T) {
	// Five submissions on one nanosecond pulled through three-row windows:
	// the window cursor must re-admit the tied nanosecond and return each
	// row exactly once.
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &sliceStore{}
	for i := 0; i < 5; i++ {
		store.events = append(store.events, event.Event{
			Timestamp:  ts,
			Kind:       event.KindSubmission,
			ContentKey: "t" + string(rune('a'+i)),
			ActorKey:   "hot1",
		})
	}

	s := newScanner(store, Config{WindowSize: 3, EmptyWindowLimit: 5, MaxWindows: 10})
	res, err := s.Scan(context.Background(), event.KindSubmission, nil, time.Time{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Events) != 5 {
		t.Fatalf("expected all 5 tied rows, got %d", len(res.Events))
	}
	keys := make(map[string]bool, len(res.Events))
	for _, e := range res.Events {
		if keys[e.ContentKey] {
			t.Fatalf("row %s returned more than once", e.ContentKey)
		}
		keys[e.ContentKey] = true
	}
	if !res.Exhausted {
		t.Error("expected exhaustion after the full tie was consumed")
	}
}

func TestScanLeadIdent_SubstringCaseInsensitive(t *testing.T) {
	store := &sliceStore{
		events: []event.Event{
			submissionEvent(0, "Acme Corporation"),
			submissionEvent(1, "Globex"),
			submissionEvent(2, "acme subsidiary"),
		},
	}

	s := newScanner(store, DefaultConfig())
	res, err := s.ScanLeadIdent(context.Background(), "ACME", time.Time{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 substring matches, got %d", len(res.Events))
	}
	if !res.Exhausted {
		t.Error("a short window means the stream ended")
	}
}
