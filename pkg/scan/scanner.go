// Package scan implements a best-effort substitute for an attribute index:
// selective filter values that live inside the semi-structured payload (the
// consensus epoch id, the submission lead identifier) are not queryable
// columns at the store, so the scanner walks backward through time in
// fixed-size windows and filters each window in memory.
//
// Cost is proportional to how far back the matching records lie, not to how
// many match. Results carry an Exhausted flag so callers can tell a true
// "nothing in the stream" from a heuristic early stop.
package scan

import (
	"context"
	"time"

	"github.com/leadwatch/leadwatch/pkg/config"
	"github.com/leadwatch/leadwatch/pkg/event"
	"github.com/leadwatch/leadwatch/pkg/eventstore"
	"github.com/leadwatch/leadwatch/pkg/fetch"
)

// Config tunes the backward scan.
type Config struct {
	// WindowSize is the number of rows pulled per window.
	WindowSize int

	// EmptyWindowLimit stops the scan after this many consecutive windows
	// without a match, but only once at least one match has been found.
	// This is a tuned heuristic with no derivation; treat it as a knob,
	// not a constant of nature.
	EmptyWindowLimit int

	// MaxWindows is the absolute ceiling on windows per scan.
	MaxWindows int
}

// DefaultConfig returns the production scan tuning.
func DefaultConfig() Config {
	return Config{
		WindowSize:       config.ScanWindowSize,
		EmptyWindowLimit: config.ScanEmptyWindowLimit,
		MaxWindows:       config.ScanMaxWindows,
	}
}

// Result is the outcome of a scan.
type Result struct {
	Events []event.Event

	// Windows is how many windows were pulled.
	Windows int

	// Exhausted is true when the scan saw the end of the stream. False
	// means it gave up early (empty-window run or window ceiling) and a
	// zero-match result is "unknown", not "definitely empty".
	Exhausted bool

	// Partial is true when an underlying fetch degraded to a partial batch.
	Partial bool
}

// Scanner finds events whose match predicate depends on payload fields.
type Scanner struct {
	fetcher *fetch.Fetcher
	cfg     Config
}

// New creates a scanner over the given fetcher.
func New(fetcher *fetch.Fetcher, cfg Config) *Scanner {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = config.ScanWindowSize
	}
	if cfg.EmptyWindowLimit <= 0 {
		cfg.EmptyWindowLimit = config.ScanEmptyWindowLimit
	}
	if cfg.MaxWindows <= 0 {
		cfg.MaxWindows = config.ScanMaxWindows
	}
	return &Scanner{fetcher: fetcher, cfg: cfg}
}

// ScanEpoch finds consensus events for one epoch, newest-first starting
// below the before cursor (zero = newest). want+1 events are accumulated
// when available so the caller can derive a has-more signal.
func (s *Scanner) ScanEpoch(ctx context.Context, epochID int64, before time.Time, want int) (Result, error) {
	return s.Scan(ctx, event.KindConsensus, func(e event.Event) bool {
		epoch, ok := e.EpochID()
		return ok && epoch == epochID
	}, before, want)
}

// ScanLeadIdent finds submission events whose lead identifier contains the
// given substring, newest-first. Used as the free-text fallback path.
// The substring predicate is pushed down to the store; the scan loop only
// bounds the per-window cost.
func (s *Scanner) ScanLeadIdent(ctx context.Context, substring string, before time.Time, want int) (Result, error) {
	req := eventstore.QueryRequest{
		Kind:               event.KindSubmission,
		LeadIdentSubstring: substring,
		Before:             before,
	}
	return s.scan(ctx, req, nil, want)
}

// Scan walks kind backward in time, keeping events for which match returns
// true, until want+1 matches accumulate, the stream is exhausted, an
// empty-window run exceeds the limit with at least one match in hand, or the
// window ceiling is hit.
func (s *Scanner) Scan(ctx context.Context, kind event.Kind, match func(event.Event) bool, before time.Time, want int) (Result, error) {
	return s.scan(ctx, eventstore.QueryRequest{Kind: kind, Before: before}, match, want)
}

func (s *Scanner) scan(ctx context.Context, req eventstore.QueryRequest, match func(event.Event) bool, want int) (Result, error) {
	var res Result

	if want <= 0 {
		want = config.SearchDefaultLimit
	}
	// One extra match signals "has more" without another window.
	target := want + 1

	cursor := req.Before
	emptyRun := 0
	first := true
	var consumed map[uint64]struct{} // rows already taken at the cursor timestamp

	for res.Windows < s.cfg.MaxWindows {
		windowReq := req
		windowReq.Before = cursor
		windowTarget := s.cfg.WindowSize
		if !first {
			// Resume inclusive of the boundary nanosecond so rows tied on
			// it are not lost between windows; the re-fetched boundary rows
			// are dropped below and the target padded to make room for them.
			windowReq.Before = cursor.Add(time.Nanosecond)
			windowTarget += len(consumed)
		}

		fres, err := s.fetcher.Fetch(ctx, windowReq, windowTarget)
		if err != nil {
			return res, err
		}
		res.Windows++
		res.Partial = res.Partial || fres.Partial

		rows := fres.Events
		if !first && len(consumed) > 0 {
			rows = make([]event.Event, 0, len(fres.Events))
			for _, e := range fres.Events {
				if e.Timestamp.Equal(cursor) {
					if _, dup := consumed[event.Identity(e)]; dup {
						continue
					}
				}
				rows = append(rows, e)
			}
		}

		matched := 0
		for _, e := range rows {
			if match == nil || match(e) {
				res.Events = append(res.Events, e)
				matched++
			}
		}

		if fres.Partial {
			// A failed batch truncated the window; the short read does not
			// prove the stream ended.
			return res, nil
		}
		if len(fres.Events) < windowTarget || fres.Exhausted {
			res.Exhausted = true
			return res, nil
		}

		if len(res.Events) >= target {
			return res, nil
		}

		if matched == 0 {
			emptyRun++
		} else {
			emptyRun = 0
		}

		// Give up after a long quiet stretch, but never on a zero-match
		// scan: with nothing found yet we cannot distinguish a quiet
		// period from genuinely empty data, so we keep going until the
		// stream ends or the window ceiling stops us.
		if emptyRun >= s.cfg.EmptyWindowLimit && len(res.Events) > 0 {
			return res, nil
		}

		next := rows[len(rows)-1].Timestamp
		if first || !next.Equal(cursor) {
			consumed = make(map[uint64]struct{})
		}
		for i := len(rows) - 1; i >= 0 && rows[i].Timestamp.Equal(next); i-- {
			consumed[event.Identity(rows[i])] = struct{}{}
		}
		cursor = next
		first = false
	}

	return res, nil
}
