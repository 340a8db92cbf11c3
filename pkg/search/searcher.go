package search

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leadwatch/leadwatch/pkg/cache"
	"github.com/leadwatch/leadwatch/pkg/config"
	"github.com/leadwatch/leadwatch/pkg/correlate"
	"github.com/leadwatch/leadwatch/pkg/event"
	"github.com/leadwatch/leadwatch/pkg/eventstore"
	"github.com/leadwatch/leadwatch/pkg/fetch"
	"github.com/leadwatch/leadwatch/pkg/identity"
	"github.com/leadwatch/leadwatch/pkg/scan"
)

// Response is the result of one search.
type Response struct {
	Results  []correlate.Lead `json:"results"`
	Total    int              `json:"total"`
	Returned int              `json:"returned"`
	HasMore  bool             `json:"has_more"`

	// Complete is false when a batch failed mid-fetch and the result set
	// may be missing rows. Distinct from an error: the rows present are
	// real.
	Complete bool `json:"complete"`

	// NextCursor is the opaque pagination cursor (oldest primary-stream
	// timestamp across this page, unix nanoseconds). Zero when there is
	// nothing to page.
	NextCursor int64 `json:"next_cursor,omitempty"`
}

// Searcher executes search plans against the event log. Identical concurrent
// filters are coalesced into one execution; settled results live in a short
// stale-while-revalidate cache so rapid refilter round-trips stay cheap.
type Searcher struct {
	planner    Planner
	fetcher    *fetch.Fetcher
	scanner    *scan.Scanner
	resolver   identity.Resolver
	coalescer  *cache.Coalescer
	results    *cache.SWRCache
	scoreBonus float64
}

// NewSearcher wires the searcher. The cache handles are injected so their
// lifecycle belongs to the caller (constructed at process start).
func NewSearcher(fetcher *fetch.Fetcher, scanner *scan.Scanner, resolver identity.Resolver, coalescer *cache.Coalescer, results *cache.SWRCache) *Searcher {
	return &Searcher{
		fetcher:   fetcher,
		scanner:   scanner,
		resolver:  resolver,
		coalescer: coalescer,
		results:   results,
	}
}

// WithScoreBonus sets a flat score bonus applied to every decided lead.
// Deployments run zero unless an incentive adjustment is active.
func (s *Searcher) WithScoreBonus(bonus float64) *Searcher {
	s.scoreBonus = bonus
	return s
}

// Search plans and executes a filtered lead search. Concurrent identical
// requests share one execution. The shared execution runs on a detached
// context: a caller abandoning the request does not cancel it, the result is
// cached and available to the next caller.
func (s *Searcher) Search(ctx context.Context, f Filter) (*Response, error) {
	plan, err := s.planner.Plan(f)
	if err != nil {
		return nil, err
	}

	v, _, err := s.coalescer.Do(f.Key(), func() (interface{}, error) {
		return s.results.Get(ctx, f.Key(), func(context.Context) (interface{}, error) {
			execCtx, cancel := context.WithTimeout(context.Background(), config.SearchExecTimeout)
			defer cancel()
			return s.execute(execCtx, plan, f)
		})
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// Latest returns the newest correlated leads with no required filters.
func (s *Searcher) Latest(ctx context.Context, limit int) (*Response, error) {
	if limit <= 0 {
		limit = config.LatestDefaultLimit
	}
	if limit > config.SearchMaxLimit {
		limit = config.SearchMaxLimit
	}

	res, err := s.fetcher.Fetch(ctx, eventstore.QueryRequest{
		Kind:           event.KindSubmission,
		WithContentKey: true,
	}, limit+1)
	if err != nil {
		return nil, err
	}

	cons, partial, err := s.consensusForKeys(ctx, correlate.EventContentKeys(res.Events))
	if err != nil {
		return nil, err
	}

	leads := s.resolveIdentity(correlate.Leads(res.Events, cons, correlate.WithScoreBonus(s.scoreBonus)), false)
	return paginate(leads, limit, !res.Exhausted, !res.Partial && !partial, primaryTimestamps(res.Events)), nil
}

// Journey returns every event for a content key in ascending time order.
// Trails longer than one store call are stitched batch by batch, same as
// descending reads.
func (s *Searcher) Journey(ctx context.Context, contentKey string) ([]event.Event, error) {
	res, err := s.fetcher.Fetch(ctx, eventstore.QueryRequest{
		ContentKeys: []string{contentKey},
		Ascending:   true,
	}, 1<<20)
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// execute runs one planned search to completion.
func (s *Searcher) execute(ctx context.Context, plan Plan, f Filter) (*Response, error) {
	limit := f.PageSize()

	var (
		subs, cons []event.Event
		hasMore    bool
		complete   = true
	)

	switch plan.Strategy {
	case StrategyEpochFirst:
		res, err := s.scanner.ScanEpoch(ctx, plan.Epoch, f.Before, limit)
		if err != nil {
			return nil, err
		}
		// Truncation-driven has-more is paginate's call; here only the scan
		// stopping short of the stream end implies more rows.
		cons = res.Events
		hasMore = !res.Exhausted
		complete = !res.Partial

		var partial bool
		subs, partial, err = s.submissionsForKeys(ctx, correlate.EventContentKeys(cons))
		if err != nil {
			return nil, err
		}
		complete = complete && !partial

	case StrategyActorFirst:
		actors := plan.ActorKeys
		if plan.UID != nil {
			hotkey, ok := s.resolver.Hotkey(*plan.UID)
			if !ok {
				// Unknown uid: a normal empty result, not an error.
				return paginate(nil, limit, false, true, nil), nil
			}
			actors = []string{hotkey}
		}

		res, err := s.fetcher.Fetch(ctx, eventstore.QueryRequest{
			Kind:           event.KindSubmission,
			ActorKeys:      actors,
			WithContentKey: true,
			Before:         f.Before,
		}, limit+1)
		if err != nil {
			return nil, err
		}
		subs = res.Events
		hasMore = !res.Exhausted
		complete = !res.Partial

		var partial bool
		cons, partial, err = s.consensusForKeys(ctx, correlate.EventContentKeys(subs))
		if err != nil {
			return nil, err
		}
		complete = complete && !partial

	case StrategyLeadIdent:
		var err error
		subs, cons, hasMore, complete, err = s.executeLeadIdent(ctx, plan.LeadIdent, f.Before, limit)
		if err != nil {
			return nil, err
		}
	}

	leads := correlate.Leads(subs, cons, correlate.WithScoreBonus(s.scoreBonus))
	leads = applyPostFilters(leads, plan)
	leads = s.resolveIdentity(leads, f.Raw)
	if plan.PostUID != nil {
		leads = filterByUID(leads, *plan.PostUID)
	}

	// The pagination cursor must track the stream the strategy actually
	// walks: epoch-first pages over consensus timestamps, everything else
	// over submission timestamps. Lead timestamps are submission times, so
	// for epoch-first they would rewind the cursor past consensus rows and
	// starve later pages.
	primary := subs
	if plan.Strategy == StrategyEpochFirst {
		primary = cons
	}

	return paginate(leads, limit, hasMore, complete, primaryTimestamps(primary)), nil
}

// executeLeadIdent probes the cheap exact content-key match first and falls
// back to the expensive substring scan only when the probe comes up empty.
func (s *Searcher) executeLeadIdent(ctx context.Context, ident string, before time.Time, limit int) (subs, cons []event.Event, hasMore, complete bool, err error) {
	exact, err := s.fetcher.Fetch(ctx, eventstore.QueryRequest{
		Kind:        event.KindSubmission,
		ContentKeys: []string{ident},
		Before:      before,
	}, limit+1)
	if err != nil {
		return nil, nil, false, false, err
	}

	if len(exact.Events) > 0 {
		cons, partial, err := s.consensusForKeys(ctx, correlate.EventContentKeys(exact.Events))
		if err != nil {
			return nil, nil, false, false, err
		}
		return exact.Events, cons, !exact.Exhausted, !exact.Partial && !partial, nil
	}

	// Fallback: substring match against the lead identifier payload field.
	res, err := s.scanner.ScanLeadIdent(ctx, ident, before, limit)
	if err != nil {
		return nil, nil, false, false, err
	}
	cons, partial, err := s.consensusForKeys(ctx, correlate.EventContentKeys(res.Events))
	if err != nil {
		return nil, nil, false, false, err
	}
	return res.Events, cons, !res.Exhausted, !res.Partial && !partial, nil
}

// consensusForKeys fetches CONSENSUS_RESULT rows for a key set, fanning out
// in bounded batches so a wide key set cannot overwhelm the store.
func (s *Searcher) consensusForKeys(ctx context.Context, keys []string) ([]event.Event, bool, error) {
	return s.fetchForKeys(ctx, event.KindConsensus, keys)
}

// submissionsForKeys fetches SUBMISSION rows for a key set, same fan-out.
func (s *Searcher) submissionsForKeys(ctx context.Context, keys []string) ([]event.Event, bool, error) {
	return s.fetchForKeys(ctx, event.KindSubmission, keys)
}

func (s *Searcher) fetchForKeys(ctx context.Context, kind event.Kind, keys []string) ([]event.Event, bool, error) {
	if len(keys) == 0 {
		return nil, false, nil
	}

	var (
		mu      sync.Mutex
		events  []event.Event
		partial bool
	)

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(keys); start += config.CorrelateKeyBatch {
		end := start + config.CorrelateKeyBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		g.Go(func() error {
			res, err := s.fetcher.Fetch(gctx, eventstore.QueryRequest{
				Kind:        kind,
				ContentKeys: batch,
			}, len(batch)*4)
			if err != nil {
				// One key batch exhausting its retry budget degrades the
				// join, not the request: sibling batches keep going and the
				// caller learns through Complete=false. Anything else
				// (cancellation) still aborts.
				var storeErr *fetch.StoreError
				if errors.As(err, &storeErr) {
					log.Printf("search: %s lookup for %d keys failed after retries, degrading to partial: %v", kind, len(batch), err)
					mu.Lock()
					partial = true
					mu.Unlock()
					return nil
				}
				return err
			}
			mu.Lock()
			events = append(events, res.Events...)
			partial = partial || res.Partial
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	return events, partial, nil
}

// resolveIdentity fills uids from the identity snapshot. Leads without a
// resolvable uid are excluded from default views; raw keeps them with -1.
func (s *Searcher) resolveIdentity(leads []correlate.Lead, raw bool) []correlate.Lead {
	out := leads[:0]
	for _, l := range leads {
		if uid, ok := s.resolver.UID(l.ActorKey); ok {
			l.UID = uid
		} else if !raw {
			continue
		}
		out = append(out, l)
	}
	return out
}

func applyPostFilters(leads []correlate.Lead, plan Plan) []correlate.Lead {
	if plan.PostUID == nil && plan.PostIdent == "" && len(plan.PostActors) == 0 {
		return leads
	}

	actorSet := make(map[string]struct{}, len(plan.PostActors))
	for _, k := range plan.PostActors {
		actorSet[k] = struct{}{}
	}

	out := leads[:0]
	for _, l := range leads {
		if plan.PostIdent != "" &&
			!strings.Contains(strings.ToLower(l.LeadIdentifier), strings.ToLower(plan.PostIdent)) &&
			l.ContentKey != plan.PostIdent {
			continue
		}
		if len(actorSet) > 0 {
			if _, ok := actorSet[l.ActorKey]; !ok {
				continue
			}
		}
		out = append(out, l)
	}
	return out
}

// filterByUID runs after identity resolution so the uid is populated.
func filterByUID(leads []correlate.Lead, uid int64) []correlate.Lead {
	out := leads[:0]
	for _, l := range leads {
		if l.UID == uid {
			out = append(out, l)
		}
	}
	return out
}

// primaryTimestamps maps each content key to the newest timestamp it carries
// in the strategy's primary event stream.
func primaryTimestamps(events []event.Event) map[string]time.Time {
	out := make(map[string]time.Time, len(events))
	for _, e := range events {
		if e.ContentKey == "" {
			continue
		}
		if cur, ok := out[e.ContentKey]; !ok || e.Timestamp.After(cur) {
			out[e.ContentKey] = e.Timestamp
		}
	}
	return out
}

// paginate truncates to the page size and fills the response envelope. The
// cursor is the minimum primary-stream timestamp across the returned page:
// strictly-older rows in that stream are exactly the ones not yet shown, so
// passing the cursor back yields the next page without gaps or duplicates.
//
// That only holds if the page is cut along the primary stream, so the cut is
// made in primary-timestamp order before the page is re-sorted for display,
// and a run of leads tied on the boundary timestamp is never split: the
// cursor is exclusive, and a split would strand the rows left behind. The
// page may exceed the nominal size by the width of the tie.
func paginate(leads []correlate.Lead, limit int, hasMore, complete bool, primary map[string]time.Time) *Response {
	pts := func(l correlate.Lead) time.Time {
		if ts, ok := primary[l.ContentKey]; ok {
			return ts
		}
		return l.Timestamp
	}

	sort.SliceStable(leads, func(i, j int) bool {
		return pts(leads[i]).After(pts(leads[j]))
	})

	total := len(leads)
	if len(leads) > limit {
		cut := limit
		boundary := pts(leads[limit-1])
		for cut < len(leads) && pts(leads[cut]).Equal(boundary) {
			cut++
		}
		if cut < len(leads) {
			hasMore = true
		}
		leads = leads[:cut]
	}

	resp := &Response{
		Results:  leads,
		Total:    total,
		Returned: len(leads),
		HasMore:  hasMore,
		Complete: complete,
	}
	for _, l := range leads {
		if ts := pts(l).UnixNano(); resp.NextCursor == 0 || ts < resp.NextCursor {
			resp.NextCursor = ts
		}
	}

	// Display order is newest-first by lead timestamp.
	sort.SliceStable(leads, func(i, j int) bool {
		return leads[i].Timestamp.After(leads[j].Timestamp)
	})

	return resp
}
