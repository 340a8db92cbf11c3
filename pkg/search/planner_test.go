package search

import (
	"errors"
	"testing"
	"time"
)

func int64p(v int64) *int64 { return &v }

func TestPlan_EmptyFilterRejected(t *testing.T) {
	_, err := Planner{}.Plan(Filter{})
	if !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}

	// Cursor and limit alone are not predicates.
	_, err = Planner{}.Plan(Filter{Limit: 10, Before: time.Now()})
	if !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter for predicate-free filter, got %v", err)
	}
}

func TestPlan_EpochLeads(t *testing.T) {
	plan, err := Planner{}.Plan(Filter{EpochID: int64p(7)})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Strategy != StrategyEpochFirst {
		t.Errorf("strategy = %v, want epoch-first", plan.Strategy)
	}
	if plan.Epoch != 7 {
		t.Errorf("epoch = %d", plan.Epoch)
	}
}

func TestPlan_CombinedUIDAndEpoch(t *testing.T) {
	plan, err := Planner{}.Plan(Filter{UID: int64p(42), EpochID: int64p(7)})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Strategy != StrategyEpochFirst {
		t.Errorf("epoch must lead the combined plan, got %v", plan.Strategy)
	}
	if plan.PostUID == nil || *plan.PostUID != 42 {
		t.Error("uid must survive as an in-memory post filter")
	}
}

func TestPlan_UIDOnly(t *testing.T) {
	plan, err := Planner{}.Plan(Filter{UID: int64p(42)})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Strategy != StrategyActorFirst {
		t.Errorf("strategy = %v, want actor-first", plan.Strategy)
	}
	if plan.UID == nil || *plan.UID != 42 {
		t.Error("uid must drive the actor resolution")
	}
}

func TestPlan_LeadIdentOnly(t *testing.T) {
	plan, err := Planner{}.Plan(Filter{LeadIdent: "acme"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Strategy != StrategyLeadIdent {
		t.Errorf("strategy = %v, want lead-ident", plan.Strategy)
	}
}

func TestPlan_ActorKeysOnly(t *testing.T) {
	plan, err := Planner{}.Plan(Filter{ActorKeys: []string{"hotA", "hotB"}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Strategy != StrategyActorFirst {
		t.Errorf("strategy = %v, want actor-first", plan.Strategy)
	}
	if len(plan.ActorKeys) != 2 {
		t.Error("actor keys must drive the query")
	}
}

func TestFilterKey_ExactMatchSemantics(t *testing.T) {
	a := Filter{UID: int64p(42), EpochID: int64p(7)}
	b := Filter{UID: int64p(42), EpochID: int64p(7)}
	if a.Key() != b.Key() {
		t.Error("identical filters must share a key")
	}

	c := Filter{UID: int64p(42), EpochID: int64p(8)}
	if a.Key() == c.Key() {
		t.Error("differing epoch must change the key")
	}

	d := Filter{UID: int64p(42), EpochID: int64p(7), Before: time.Now()}
	if a.Key() == d.Key() {
		t.Error("differing cursor must change the key")
	}

	e := Filter{UID: int64p(42), EpochID: int64p(7), Raw: true}
	if a.Key() == e.Key() {
		t.Error("raw toggle must change the key")
	}
}

func TestFilterKey_ActorOrderInsensitive(t *testing.T) {
	a := Filter{ActorKeys: []string{"hotA", "hotB"}}
	b := Filter{ActorKeys: []string{"hotB", "hotA"}}
	if a.Key() != b.Key() {
		t.Error("actor key order must not change the coalescing key")
	}
}

func TestPageSize_Clamps(t *testing.T) {
	if got := (Filter{}).PageSize(); got <= 0 {
		t.Errorf("default page size must be positive, got %d", got)
	}
	if got := (Filter{Limit: 1 << 20}).PageSize(); got > 500 {
		t.Errorf("page size must be clamped, got %d", got)
	}
	if got := (Filter{Limit: 7}).PageSize(); got != 7 {
		t.Errorf("in-range limit must pass through, got %d", got)
	}
}
