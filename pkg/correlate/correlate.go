// Package correlate joins submission and consensus events by content key
// into logical leads. Everything here is a pure function of its inputs; a
// lead is a read-time projection, never stored.
package correlate

import (
	"sort"
	"strings"
	"time"

	"github.com/leadwatch/leadwatch/pkg/event"
)

// Decision is the normalized consensus outcome for a lead.
type Decision string

const (
	Accepted Decision = "ACCEPTED"
	Rejected Decision = "REJECTED"
	Pending  Decision = "PENDING"
)

// Lead is the derived entity produced by correlating a SUBMISSION with its
// CONSENSUS_RESULT. UID is -1 until identity resolution fills it in.
type Lead struct {
	ContentKey      string    `json:"content_key"`
	ActorKey        string    `json:"actor_key"`
	UID             int64     `json:"uid"`
	LeadIdentifier  string    `json:"lead_identifier,omitempty"`
	EpochID         int64     `json:"epoch_id,omitempty"`
	Decision        Decision  `json:"decision"`
	Score           float64   `json:"score"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// NormalizeDecision maps the raw validator decision string to a Decision.
// Unrecognized or absent values are PENDING.
func NormalizeDecision(raw string) Decision {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "deny", "denied", "reject", "rejected":
		return Rejected
	case "allow", "allowed", "accept", "accepted", "approve", "approved":
		return Accepted
	default:
		return Pending
	}
}

// AdjustScore applies an additive bonus, then clamps to a non-negative floor.
func AdjustScore(score, bonus float64) float64 {
	adjusted := score + bonus
	if adjusted < 0 {
		return 0
	}
	return adjusted
}

// Option adjusts how leads are derived from the joined events.
type Option func(*joinOptions)

type joinOptions struct {
	scoreBonus float64
}

// WithScoreBonus adds a flat bonus to every decided lead's score before the
// non-negative clamp. Pending leads carry no score and are unaffected.
func WithScoreBonus(bonus float64) Option {
	return func(o *joinOptions) { o.scoreBonus = bonus }
}

// Leads outer-joins submissions and consensus results by content key.
//
// Both inputs are reduced to one row per key with first-seen-wins after a
// newest-first sort, so a resubmission keeps the newest submission and the
// authoritative consensus is the newest one. A key present only in
// submissions yields a PENDING lead; consensus rows without a matching
// submission are dropped (there is no lead to attach them to). Events with
// no content key are never joined.
//
// Output is ordered newest-first by submission timestamp.
func Leads(subs, cons []event.Event, opts ...Option) []Lead {
	var cfg joinOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	latestSubs := latestByKey(subs, event.KindSubmission)
	latestCons := latestByKey(cons, event.KindConsensus)

	leads := make([]Lead, 0, len(latestSubs))
	for key, sub := range latestSubs {
		lead := Lead{
			ContentKey:     key,
			ActorKey:       sub.ActorKey,
			UID:            -1,
			LeadIdentifier: sub.LeadIdentifier(),
			Decision:       Pending,
			Timestamp:      sub.Timestamp,
		}

		if con, ok := latestCons[key]; ok && con.Consensus != nil {
			lead.EpochID = con.Consensus.EpochID
			lead.Decision = NormalizeDecision(con.Consensus.Decision)
			lead.Score = AdjustScore(con.Consensus.Score, cfg.scoreBonus)
			lead.RejectionReason = con.Consensus.RejectionReason
		}

		leads = append(leads, lead)
	}

	sort.SliceStable(leads, func(i, j int) bool {
		return leads[i].Timestamp.After(leads[j].Timestamp)
	})

	return leads
}

// latestByKey keeps the newest event per content key for one kind.
// Input order does not matter; ties keep the first seen after the sort,
// which makes the reduction deterministic.
func latestByKey(events []event.Event, kind event.Kind) map[string]event.Event {
	sorted := make([]event.Event, 0, len(events))
	for _, e := range events {
		if e.Kind == kind && e.ContentKey != "" {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	latest := make(map[string]event.Event, len(sorted))
	for _, e := range sorted {
		if _, seen := latest[e.ContentKey]; !seen {
			latest[e.ContentKey] = e
		}
	}
	return latest
}

// ContentKeys returns the distinct content keys of a lead set, in order.
func ContentKeys(leads []Lead) []string {
	keys := make([]string, 0, len(leads))
	seen := make(map[string]struct{}, len(leads))
	for _, l := range leads {
		if _, ok := seen[l.ContentKey]; !ok {
			seen[l.ContentKey] = struct{}{}
			keys = append(keys, l.ContentKey)
		}
	}
	return keys
}

// EventContentKeys returns the distinct content keys of an event set, in order.
func EventContentKeys(events []event.Event) []string {
	keys := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e.ContentKey == "" {
			continue
		}
		if _, ok := seen[e.ContentKey]; !ok {
			seen[e.ContentKey] = struct{}{}
			keys = append(keys, e.ContentKey)
		}
	}
	return keys
}
