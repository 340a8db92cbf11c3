package search

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/leadwatch/leadwatch/pkg/config"
)

// ErrInvalidFilter is returned when a search request carries no usable
// predicate. Caller error; never retried.
var ErrInvalidFilter = errors.New("search: no usable filter predicate")

// Filter is the set of search predicates a caller may combine. At least one
// of UID, EpochID, LeadIdent or ActorKeys must be present.
type Filter struct {
	// UID filters by the miner's numeric id (resolved to a hotkey through
	// the identity snapshot before querying).
	UID *int64 `json:"uid,omitempty"`

	// EpochID filters by the validation epoch embedded in consensus payloads.
	EpochID *int64 `json:"epoch_id,omitempty"`

	// LeadIdent is free text: tried as an exact content-key match first,
	// then as a case-insensitive substring of the lead identifier.
	LeadIdent string `json:"lead_ident,omitempty"`

	// ActorKeys filters by a set of hotkeys ("all leads under a coldkey").
	ActorKeys []string `json:"actor_keys,omitempty"`

	// Before is the pagination cursor: only leads strictly older are
	// returned. Zero means newest page.
	Before time.Time `json:"before,omitempty"`

	// Limit is the page size. Clamped to [1, SearchMaxLimit]; zero means
	// the default page size.
	Limit int `json:"limit,omitempty"`

	// Raw includes leads whose actor has no uid in the identity snapshot.
	Raw bool `json:"raw,omitempty"`
}

// Empty reports whether no filter predicate is present.
func (f Filter) Empty() bool {
	return f.UID == nil && f.EpochID == nil && f.LeadIdent == "" && len(f.ActorKeys) == 0
}

// PageSize returns the clamped page size.
func (f Filter) PageSize() int {
	if f.Limit <= 0 {
		return config.SearchDefaultLimit
	}
	if f.Limit > config.SearchMaxLimit {
		return config.SearchMaxLimit
	}
	return f.Limit
}

// Key returns the coalescing identity of the filter: a hash over every
// active predicate plus page size and cursor. Two requests share one
// execution only when they are exact-match equivalent.
func (f Filter) Key() string {
	var b strings.Builder
	if f.UID != nil {
		fmt.Fprintf(&b, "uid=%d;", *f.UID)
	}
	if f.EpochID != nil {
		fmt.Fprintf(&b, "epoch=%d;", *f.EpochID)
	}
	if f.LeadIdent != "" {
		fmt.Fprintf(&b, "ident=%s;", f.LeadIdent)
	}
	if len(f.ActorKeys) > 0 {
		keys := append([]string(nil), f.ActorKeys...)
		sort.Strings(keys)
		fmt.Fprintf(&b, "actors=%s;", strings.Join(keys, ","))
	}
	if !f.Before.IsZero() {
		fmt.Fprintf(&b, "before=%d;", f.Before.UnixNano())
	}
	fmt.Fprintf(&b, "limit=%d;raw=%t", f.PageSize(), f.Raw)
	return fmt.Sprintf("search:%016x", xxhash.Sum64String(b.String()))
}

// Strategy names which event kind is queried first. Each extra event-kind
// round-trip multiplies store cost, so the planner leads with the filter
// expected to be most selective.
type Strategy int

const (
	// StrategyEpochFirst scans CONSENSUS_RESULT by epoch, then resolves
	// submissions for the matched keys.
	StrategyEpochFirst Strategy = iota

	// StrategyActorFirst queries SUBMISSION by actor key(s), then resolves
	// consensus for the matched keys. Used for uid and actor-set filters.
	StrategyActorFirst

	// StrategyLeadIdent probes content-key equality first (cheap), then
	// falls back to the substring scan over submissions (expensive).
	StrategyLeadIdent
)

// Plan is the ordered execution recipe for one search: the primary strategy,
// its parameters, and the predicates left to apply in memory after the join.
type Plan struct {
	Strategy Strategy

	// Epoch is set for StrategyEpochFirst.
	Epoch int64

	// UID is set when the actor set must be resolved from a numeric id.
	UID *int64

	// ActorKeys is set for StrategyActorFirst with an explicit key set.
	ActorKeys []string

	// LeadIdent is set for StrategyLeadIdent.
	LeadIdent string

	// PostUID narrows the joined leads to one uid in memory (combined
	// uid+epoch filter).
	PostUID *int64

	// PostIdent narrows the joined leads by identifier substring in memory.
	PostIdent string

	// PostActors narrows the joined leads to an actor-key set in memory.
	PostActors []string
}

// Planner chooses the cheapest execution order for a filter set. Pure: no
// store access, no side effects.
type Planner struct{}

// Plan builds the execution plan, or ErrInvalidFilter when the filter
// carries no usable predicate.
func (Planner) Plan(f Filter) (Plan, error) {
	if f.Empty() {
		return Plan{}, ErrInvalidFilter
	}

	switch {
	case f.EpochID != nil:
		// Epoch is the most selective handle we have: consensus carries
		// it, and the scanner bounds the cost.
		return Plan{
			Strategy:   StrategyEpochFirst,
			Epoch:      *f.EpochID,
			PostUID:    f.UID,
			PostIdent:  f.LeadIdent,
			PostActors: f.ActorKeys,
		}, nil

	case f.UID != nil:
		return Plan{
			Strategy:   StrategyActorFirst,
			UID:        f.UID,
			PostIdent:  f.LeadIdent,
			PostActors: f.ActorKeys,
		}, nil

	case f.LeadIdent != "":
		return Plan{
			Strategy:  StrategyLeadIdent,
			LeadIdent: f.LeadIdent,
		}, nil

	default:
		return Plan{
			Strategy:  StrategyActorFirst,
			ActorKeys: f.ActorKeys,
		}, nil
	}
}
