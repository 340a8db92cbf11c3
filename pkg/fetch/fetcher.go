package fetch

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/leadwatch/leadwatch/pkg/config"
	"github.com/leadwatch/leadwatch/pkg/event"
	"github.com/leadwatch/leadwatch/pkg/eventstore"
)

// Result is the outcome of a batched fetch.
type Result struct {
	Events []event.Event

	// Batches is the number of store calls issued.
	Batches int

	// FailedBatches counts batches that exhausted their retry budget. The
	// fetch continues past a failed batch; the caller learns the result set
	// may be incomplete through Partial.
	FailedBatches int

	// Partial is true when at least one batch failed after retries.
	Partial bool

	// Exhausted is true when the store ran out of matching rows (a batch
	// came back short), as opposed to the target or batch ceiling stopping
	// the fetch.
	Exhausted bool
}

// HasMore reports whether more matching rows likely remain past the fetched set.
func (r Result) HasMore() bool {
	return !r.Exhausted
}

// Counters exposes batch-progress totals for observability.
type Counters struct {
	BatchesIssued int64 `json:"batches_issued"`
	RowsFetched   int64 `json:"rows_fetched"`
	RetriesSpent  int64 `json:"retries_spent"`
	FailedBatches int64 `json:"failed_batches"`
}

// Fetcher stitches range-limited store calls into result sets larger than the
// store's per-call row ceiling, walking a timestamp cursor newest-first or,
// for ascending requests, oldest-first.
type Fetcher struct {
	store      eventstore.Store
	policy     Policy
	batchSize  int
	maxBatches int

	batchesIssued atomic.Int64
	rowsFetched   atomic.Int64
	retriesSpent  atomic.Int64
	failedBatches atomic.Int64
}

// New creates a fetcher with production batch limits.
func New(store eventstore.Store, policy Policy) *Fetcher {
	return &Fetcher{
		store:      store,
		policy:     policy,
		batchSize:  config.FetchBatchSize,
		maxBatches: config.FetchMaxBatches,
	}
}

// WithBatchSize overrides the per-call batch size (tests).
func (f *Fetcher) WithBatchSize(n int) *Fetcher {
	if n > 0 {
		f.batchSize = n
	}
	return f
}

// WithMaxBatches overrides the batch-count ceiling (tests).
func (f *Fetcher) WithMaxBatches(n int) *Fetcher {
	if n > 0 {
		f.maxBatches = n
	}
	return f
}

// Fetch returns up to target rows matching req, issuing as many batches as
// needed. Batches are sequential by construction: each batch resumes at the
// timestamp of the last row the previous batch consumed, re-admitting that
// nanosecond and dropping the rows already taken from it. Rows tied on a
// timestamp that straddles a batch boundary are neither skipped nor
// duplicated.
//
// target <= 0 means "one batch". Descending requests walk the Before cursor;
// req.Ascending walks Start instead (journey reads).
func (f *Fetcher) Fetch(ctx context.Context, req eventstore.QueryRequest, target int) (Result, error) {
	var res Result

	if target <= 0 {
		target = f.batchSize
	}

	cursor := req.Before
	if req.Ascending {
		cursor = req.Start
	}
	first := true
	var consumed map[uint64]struct{} // rows already taken at the cursor timestamp

	for res.Batches < f.maxBatches && len(res.Events) < target {
		batchReq := req
		batchReq.Limit = f.batchSize
		if remaining := target - len(res.Events); remaining < batchReq.Limit {
			batchReq.Limit = remaining
		}
		if req.Ascending {
			batchReq.Start = cursor
		} else {
			batchReq.Before = cursor
		}
		if !first {
			// Resume inclusive of the boundary nanosecond: Start already
			// is, Before needs a nudge. Pad the limit so re-fetched boundary
			// rows cannot crowd out new ones.
			if !req.Ascending {
				batchReq.Before = cursor.Add(time.Nanosecond)
			}
			if padded := batchReq.Limit + len(consumed); padded <= config.StoreRowCeiling {
				batchReq.Limit = padded
			} else {
				batchReq.Limit = config.StoreRowCeiling
			}
		}

		var rows []event.Event
		attempt := 0
		err := f.policy.Do(ctx, func(ctx context.Context) error {
			attempt++
			if attempt > 1 {
				f.retriesSpent.Add(1)
			}
			var qerr error
			rows, qerr = f.store.Query(ctx, batchReq)
			return qerr
		})
		res.Batches++
		f.batchesIssued.Add(1)

		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			f.failedBatches.Add(1)
			// First batch failing means we have nothing to return; surface
			// the store error. A later batch failing degrades to a partial
			// result instead of sinking the whole request.
			if res.Batches == 1 {
				return res, err
			}
			log.Printf("fetch: batch %d failed after retries, continuing with partial result: %v", res.Batches, err)
			res.FailedBatches++
			res.Partial = true
			break
		}

		fresh := rows
		if !first && len(consumed) > 0 {
			fresh = make([]event.Event, 0, len(rows))
			for _, e := range rows {
				if e.Timestamp.Equal(cursor) {
					if _, dup := consumed[event.Identity(e)]; dup {
						continue
					}
				}
				fresh = append(fresh, e)
			}
		}

		res.Events = append(res.Events, fresh...)
		f.rowsFetched.Add(int64(len(fresh)))

		// A short batch means the store ran out of matching rows.
		if len(rows) < batchReq.Limit {
			res.Exhausted = true
			break
		}

		if len(fresh) == 0 {
			// A full store-ceiling batch of nothing but already-consumed
			// ties: more rows share this nanosecond than one call can
			// return. Skip past it so the fetch keeps moving.
			log.Printf("fetch: over %d rows share timestamp %v, skipping the remainder of the tie", len(consumed), cursor)
			if req.Ascending {
				cursor = cursor.Add(time.Nanosecond)
			}
			first = true
			consumed = nil
			continue
		}

		cursor = fresh[len(fresh)-1].Timestamp
		consumed = make(map[uint64]struct{})
		for i := len(res.Events) - 1; i >= 0 && res.Events[i].Timestamp.Equal(cursor); i-- {
			consumed[event.Identity(res.Events[i])] = struct{}{}
		}
		first = false
	}

	return res, nil
}

// Counters returns a snapshot of the progress counters.
func (f *Fetcher) Counters() Counters {
	return Counters{
		BatchesIssued: f.batchesIssued.Load(),
		RowsFetched:   f.rowsFetched.Load(),
		RetriesSpent:  f.retriesSpent.Load(),
		FailedBatches: f.failedBatches.Load(),
	}
}
