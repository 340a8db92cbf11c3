package sdk

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/leadwatch/leadwatch/pkg/correlate"
	"github.com/leadwatch/leadwatch/pkg/search"
)

// SortColumn names a displayed column the fetched set can be re-sorted by.
type SortColumn string

const (
	SortByTimestamp SortColumn = "timestamp"
	SortByUID       SortColumn = "uid"
	SortByEpoch     SortColumn = "epoch"
	SortByScore     SortColumn = "score"
	SortByDecision  SortColumn = "decision"
	SortByIdent     SortColumn = "ident"
)

// pageState is the cached pagination state for one filter tuple.
type pageState struct {
	// cursor is the oldest timestamp seen so far; the next page is
	// requested strictly below it.
	cursor time.Time

	// results is the locally cached set in original fetch order.
	results []correlate.Lead

	hasMore  bool
	complete bool
}

// Pager pages through search results with an opaque timestamp cursor,
// keeping a per-filter-tuple result cache across UI navigation. Not safe for
// concurrent use; it models one dashboard view.
type Pager struct {
	client *Client

	filter search.Filter
	states map[string]*pageState

	// page indexes into the cached result list in units of PageSize.
	page int
}

// NewPager creates a pager over the client.
func NewPager(client *Client) *Pager {
	return &Pager{
		client: client,
		states: make(map[string]*pageState),
	}
}

// SetFilter switches the active filter tuple. Cursor and page position
// reset; previously fetched tuples keep their cached results so navigating
// back is free.
func (p *Pager) SetFilter(f search.Filter) {
	f.Before = time.Time{}
	p.filter = f
	p.page = 0
}

// stateKey identifies the filter tuple independent of cursor position.
func (p *Pager) stateKey() string {
	f := p.filter
	f.Before = time.Time{}
	return f.Key()
}

func (p *Pager) state() *pageState {
	key := p.stateKey()
	st, ok := p.states[key]
	if !ok {
		st = &pageState{hasMore: true, complete: true}
		p.states[key] = st
	}
	return st
}

// Results returns the locally cached result set in its current order.
func (p *Pager) Results() []correlate.Lead {
	return p.state().results
}

// HasMore reports whether the server likely holds older results.
func (p *Pager) HasMore() bool {
	return p.state().hasMore
}

// Complete reports whether every fetch so far returned a complete result set.
func (p *Pager) Complete() bool {
	return p.state().complete
}

// Page returns the current page of the cached set, advancing fetches as
// needed. Page indices are zero-based.
func (p *Pager) Page(ctx context.Context, page int) ([]correlate.Lead, error) {
	size := p.filter.PageSize()
	needed := (page + 1) * size

	st := p.state()
	for len(st.results) < needed && st.hasMore {
		if err := p.LoadMore(ctx); err != nil {
			return nil, err
		}
	}

	start := page * size
	if start >= len(st.results) {
		return nil, nil
	}
	end := start + size
	if end > len(st.results) {
		end = len(st.results)
	}
	p.page = page
	return st.results[start:end], nil
}

// LoadMore fetches the next page below the cursor and appends it to the
// local cache.
func (p *Pager) LoadMore(ctx context.Context) error {
	st := p.state()

	f := p.filter
	f.Before = st.cursor

	resp, err := p.client.Search(ctx, f)
	if err != nil {
		return err
	}

	st.results = append(st.results, resp.Results...)
	st.hasMore = resp.HasMore
	st.complete = st.complete && resp.Complete
	if resp.NextCursor > 0 {
		st.cursor = time.Unix(0, resp.NextCursor)
	}
	return nil
}

// SortBy re-sorts the already-fetched set by a displayed column without
// another fetch. Ties keep their original fetch order (stable), so repeated
// re-sorts are deterministic.
func (p *Pager) SortBy(column SortColumn, descending bool) {
	st := p.state()

	less := func(a, b correlate.Lead) bool {
		switch column {
		case SortByUID:
			return a.UID < b.UID
		case SortByEpoch:
			return a.EpochID < b.EpochID
		case SortByScore:
			return a.Score < b.Score
		case SortByDecision:
			return a.Decision < b.Decision
		case SortByIdent:
			return strings.ToLower(a.LeadIdentifier) < strings.ToLower(b.LeadIdentifier)
		default:
			return a.Timestamp.Before(b.Timestamp)
		}
	}

	sort.SliceStable(st.results, func(i, j int) bool {
		if descending {
			return less(st.results[j], st.results[i])
		}
		return less(st.results[i], st.results[j])
	})
}
