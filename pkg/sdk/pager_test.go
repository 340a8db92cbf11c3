package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leadwatch/leadwatch/pkg/correlate"
	"github.com/leadwatch/leadwatch/pkg/search"
)

// newPagedServer serves n leads newest-first in pages, honoring the
// before cursor and limit like the real search endpoint.
func newPagedServer(t *testing.T, n int, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	all := make([]correlate.Lead, n)
	for i := 0; i < n; i++ {
		all[i] = correlate.Lead{
			ContentKey: string(rune('a' + i)),
			ActorKey:   "hot1",
			UID:        int64(n - i), // descending uid so re-sorts are visible
			EpochID:    7,
			Decision:   correlate.Accepted,
			Score:      float64(i),
			Timestamp:  base.Add(time.Duration(n-i) * time.Minute), // newest first
		}
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		var req struct {
			Before int64 `json:"before"`
			Limit  int   `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = 50
		}

		matched := make([]correlate.Lead, 0, len(all))
		for _, l := range all {
			if req.Before > 0 && !l.Timestamp.Before(time.Unix(0, req.Before)) {
				continue
			}
			matched = append(matched, l)
		}

		resp := search.Response{Complete: true}
		if len(matched) > limit {
			resp.Results = matched[:limit]
			resp.HasMore = true
		} else {
			resp.Results = matched
		}
		resp.Total = len(matched)
		resp.Returned = len(resp.Results)
		if len(resp.Results) > 0 {
			resp.NextCursor = resp.Results[len(resp.Results)-1].Timestamp.UnixNano()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestPager(t *testing.T, server *httptest.Server, f search.Filter) *Pager {
	t.Helper()
	client, err := New(ClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	p := NewPager(client)
	p.SetFilter(f)
	return p
}

func TestPager_WalksPagesWithCursor(t *testing.T) {
	var requests atomic.Int64
	server := newPagedServer(t, 5, &requests)
	defer server.Close()

	p := newTestPager(t, server, search.Filter{EpochID: int64p(7), Limit: 2})

	page0, err := p.Page(context.Background(), 0)
	if err != nil {
		t.Fatalf("page 0: %v", err)
	}
	if len(page0) != 2 {
		t.Fatalf("page 0 size = %d", len(page0))
	}
	if requests.Load() != 1 {
		t.Errorf("expected 1 request, got %d", requests.Load())
	}

	page1, err := p.Page(context.Background(), 1)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page 1 size = %d", len(page1))
	}

	page2, err := p.Page(context.Background(), 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 1 {
		t.Fatalf("page 2 size = %d", len(page2))
	}
	if p.HasMore() {
		t.Error("all 5 leads fetched; has-more must be false")
	}

	// No duplicates across pages.
	seen := map[string]bool{}
	for _, page := range [][]correlate.Lead{page0, page1, page2} {
		for _, l := range page {
			if seen[l.ContentKey] {
				t.Errorf("lead %s repeated across pages", l.ContentKey)
			}
			seen[l.ContentKey] = true
		}
	}
}

func TestPager_BackNavigationIsFree(t *testing.T) {
	var requests atomic.Int64
	server := newPagedServer(t, 6, &requests)
	defer server.Close()

	p := newTestPager(t, server, search.Filter{EpochID: int64p(7), Limit: 2})

	if _, err := p.Page(context.Background(), 1); err != nil {
		t.Fatalf("page 1: %v", err)
	}
	before := requests.Load()

	if _, err := p.Page(context.Background(), 0); err != nil {
		t.Fatalf("page 0: %v", err)
	}
	if requests.Load() != before {
		t.Error("navigating back must serve from the local cache")
	}
}

func TestPager_SortByIsStableAndLocal(t *testing.T) {
	var requests atomic.Int64
	server := newPagedServer(t, 4, &requests)
	defer server.Close()

	p := newTestPager(t, server, search.Filter{EpochID: int64p(7), Limit: 10})
	if _, err := p.Page(context.Background(), 0); err != nil {
		t.Fatalf("page: %v", err)
	}
	before := requests.Load()

	p.SortBy(SortByUID, false)
	results := p.Results()
	if !sort.SliceIsSorted(results, func(i, j int) bool { return results[i].UID < results[j].UID }) {
		t.Error("ascending uid sort failed")
	}

	p.SortBy(SortByUID, true)
	results = p.Results()
	if !sort.SliceIsSorted(results, func(i, j int) bool { return results[i].UID > results[j].UID }) {
		t.Error("descending uid sort failed")
	}

	if requests.Load() != before {
		t.Error("re-sorting must not fetch")
	}
}

func TestPager_FilterChangeResetsCursorKeepsCaches(t *testing.T) {
	var requests atomic.Int64
	server := newPagedServer(t, 4, &requests)
	defer server.Close()

	client, err := New(ClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	p := NewPager(client)

	fA := search.Filter{EpochID: int64p(7), Limit: 2}
	fB := search.Filter{UID: int64p(42), Limit: 2}

	p.SetFilter(fA)
	if _, err := p.Page(context.Background(), 0); err != nil {
		t.Fatalf("filter A: %v", err)
	}

	p.SetFilter(fB)
	if _, err := p.Page(context.Background(), 0); err != nil {
		t.Fatalf("filter B: %v", err)
	}
	afterB := requests.Load()

	// Switching back to A reuses its cached tuple state.
	p.SetFilter(fA)
	if _, err := p.Page(context.Background(), 0); err != nil {
		t.Fatalf("back to A: %v", err)
	}
	if requests.Load() != afterB {
		t.Error("returning to a previously fetched tuple must not refetch")
	}
}

func int64p(v int64) *int64 { return &v }
