package stats

import (
	"context"
	"time"

	"github.com/leadwatch/leadwatch/pkg/correlate"
	"github.com/leadwatch/leadwatch/pkg/event"
	"github.com/leadwatch/leadwatch/pkg/eventstore"
	"github.com/leadwatch/leadwatch/pkg/fetch"
	"github.com/leadwatch/leadwatch/pkg/identity"
)

// StoreSource materializes a snapshot directly from the event log. It exists
// for self-contained deployments without the upstream rollup job; the hosted
// deployment reads the upstream blob instead. Cost is a full batched sweep
// of both event kinds, which is why it only ever runs behind the cache and
// the scheduled refresher, never on the request path.
type StoreSource struct {
	fetcher  *fetch.Fetcher
	resolver identity.Resolver

	// Window bounds how far back the sweep reaches. Zero means the
	// fetcher's batch ceiling is the only bound.
	Window time.Duration

	// ScoreBonus is the flat score adjustment applied to decided leads,
	// matching the search path so rollups agree with search results.
	ScoreBonus float64
}

// NewStoreSource creates a store-backed snapshot source.
func NewStoreSource(fetcher *fetch.Fetcher, resolver identity.Resolver) *StoreSource {
	return &StoreSource{fetcher: fetcher, resolver: resolver}
}

// Fetch sweeps both event kinds and builds the rollup.
func (s *StoreSource) Fetch(ctx context.Context) (*Snapshot, error) {
	var start time.Time
	if s.Window > 0 {
		start = time.Now().Add(-s.Window)
	}

	subs, err := s.sweep(ctx, event.KindSubmission, start)
	if err != nil {
		return nil, err
	}
	cons, err := s.sweep(ctx, event.KindConsensus, start)
	if err != nil {
		return nil, err
	}

	leads := correlate.Leads(subs, cons, correlate.WithScoreBonus(s.ScoreBonus))

	uids := make(map[string]int64)
	for _, l := range leads {
		if _, seen := uids[l.ActorKey]; seen {
			continue
		}
		if uid, ok := s.resolver.UID(l.ActorKey); ok {
			uids[l.ActorKey] = uid
		}
	}

	return Build(leads, uids, time.Now()), nil
}

func (s *StoreSource) sweep(ctx context.Context, kind event.Kind, start time.Time) ([]event.Event, error) {
	// Target far above any realistic row count; the fetcher's batch
	// ceiling bounds the sweep.
	res, err := s.fetcher.Fetch(ctx, eventstore.QueryRequest{
		Kind:           kind,
		Start:          start,
		WithContentKey: true,
	}, 1<<20)
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}
