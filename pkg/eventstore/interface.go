package eventstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/leadwatch/leadwatch/pkg/config"
	"github.com/leadwatch/leadwatch/pkg/event"
)

// ErrTimeout marks a transient store failure. The retry policy in pkg/fetch
// retries calls that fail with (or wrap) this error; anything else aborts
// the fetch immediately.
var ErrTimeout = errors.New("eventstore: timeout")

// Store is the read interface over the append-only event log.
// Implementations: memory (testing/dev), badger (production).
type Store interface {
	// Query returns events matching the request, newest-first unless
	// req.Ascending. Every implementation truncates the result to the
	// per-call row ceiling regardless of req.Limit.
	Query(ctx context.Context, req QueryRequest) ([]event.Event, error)

	// Append adds events to the log. The production write path lives
	// upstream; this exists for seeding, tests and the dev binary.
	Append(ctx context.Context, events []event.Event) error

	// Stats returns log statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the store.
	Close() error
}

// QueryRequest specifies which events to retrieve. Zero values mean
// "no constraint". One event kind per call; there is no join primitive.
type QueryRequest struct {
	Kind event.Kind

	// Time range. Zero = unbounded.
	Start time.Time
	End   time.Time

	// Before is an exclusive upper cursor on timestamp, used by the batched
	// fetcher to stitch descending pages without gaps or duplicates.
	Before time.Time

	// In-set predicates.
	ContentKeys []string
	ActorKeys   []string

	// WithContentKey keeps only events that carry a content key.
	WithContentKey bool

	// LeadIdentSubstring matches case-insensitively against the submission
	// payload's lead identifier. Expensive: forces a payload decode per row.
	LeadIdentSubstring string

	// EpochID matches against the consensus payload's epoch id.
	EpochID *int64

	// Limit caps returned rows. 0 or anything above the ceiling means
	// "the ceiling".
	Limit int

	// Ascending returns oldest-first order (journey reads). Default is
	// newest-first.
	Ascending bool
}

// EffectiveLimit clamps the requested limit to the store row ceiling.
func (r QueryRequest) EffectiveLimit() int {
	if r.Limit <= 0 || r.Limit > config.StoreRowCeiling {
		return config.StoreRowCeiling
	}
	return r.Limit
}

// Matches reports whether a single event satisfies every predicate of the
// request. Shared by backends; ordering and limits are the backend's job.
func Matches(e event.Event, req QueryRequest) bool {
	if req.Kind != "" && e.Kind != req.Kind {
		return false
	}
	if !req.Start.IsZero() && e.Timestamp.Before(req.Start) {
		return false
	}
	if !req.End.IsZero() && e.Timestamp.After(req.End) {
		return false
	}
	if !req.Before.IsZero() && !e.Timestamp.Before(req.Before) {
		return false
	}
	if req.WithContentKey && e.ContentKey == "" {
		return false
	}
	if len(req.ContentKeys) > 0 && !containsString(req.ContentKeys, e.ContentKey) {
		return false
	}
	if len(req.ActorKeys) > 0 && !containsString(req.ActorKeys, e.ActorKey) {
		return false
	}
	if req.LeadIdentSubstring != "" {
		ident := e.LeadIdentifier()
		if ident == "" || !strings.Contains(strings.ToLower(ident), strings.ToLower(req.LeadIdentSubstring)) {
			return false
		}
	}
	if req.EpochID != nil {
		epoch, ok := e.EpochID()
		if !ok || epoch != *req.EpochID {
			return false
		}
	}
	return true
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Stats provides log health and usage info.
type Stats struct {
	TotalEvents uint64
	Submissions uint64
	Consensus   uint64
	SizeBytes   uint64
	OldestEvent time.Time
	NewestEvent time.Time
}
