// Package identity wraps the external metagraph snapshot: the mapping from
// participant hotkeys to numeric uids, coldkeys and chain weights. The
// snapshot is an opaque, periodically refreshed lookup table; a missing
// entry means "not currently an active participant" and is not an error.
package identity

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Weights carries the chain-side weight values for one participant.
type Weights struct {
	Incentive float64 `json:"incentive"`
	Emission  float64 `json:"emission"`
	Stake     float64 `json:"stake"`
}

// Snapshot is one point-in-time copy of the metagraph.
type Snapshot struct {
	HotkeyToUID      map[string]int64   `json:"hotkeyToUid"`
	UIDToHotkey      map[int64]string   `json:"uidToHotkey"`
	Coldkeys         map[string]string  `json:"coldkeys"`
	Incentives       map[string]float64 `json:"incentives"`
	Emissions        map[string]float64 `json:"emissions"`
	Stakes           map[string]float64 `json:"stakes"`
	ValidatorPermits map[string]bool    `json:"isValidator"`
	FetchedAt        time.Time          `json:"fetched_at"`
}

// Resolver answers identity lookups against the current snapshot.
type Resolver interface {
	// UID resolves a hotkey to its numeric uid.
	UID(hotkey string) (int64, bool)

	// Hotkey resolves a numeric uid back to its hotkey.
	Hotkey(uid int64) (string, bool)

	// Coldkey resolves a hotkey to its wallet-style grouping key.
	Coldkey(hotkey string) (string, bool)

	// Weights returns incentive/emission/stake for a hotkey.
	Weights(hotkey string) (Weights, bool)
}

// StaticResolver serves a fixed snapshot. Used in tests and as the inner
// state of RefreshingResolver.
type StaticResolver struct {
	snap *Snapshot
}

// NewStatic creates a resolver over a fixed snapshot.
func NewStatic(snap *Snapshot) *StaticResolver {
	if snap == nil {
		snap = &Snapshot{}
	}
	return &StaticResolver{snap: snap}
}

func (r *StaticResolver) UID(hotkey string) (int64, bool) {
	uid, ok := r.snap.HotkeyToUID[hotkey]
	return uid, ok
}

func (r *StaticResolver) Hotkey(uid int64) (string, bool) {
	hotkey, ok := r.snap.UIDToHotkey[uid]
	return hotkey, ok
}

func (r *StaticResolver) Coldkey(hotkey string) (string, bool) {
	coldkey, ok := r.snap.Coldkeys[hotkey]
	return coldkey, ok
}

func (r *StaticResolver) Weights(hotkey string) (Weights, bool) {
	if _, ok := r.snap.HotkeyToUID[hotkey]; !ok {
		return Weights{}, false
	}
	return Weights{
		Incentive: r.snap.Incentives[hotkey],
		Emission:  r.snap.Emissions[hotkey],
		Stake:     r.snap.Stakes[hotkey],
	}, true
}

// Loader fetches a fresh snapshot from the upstream identity service.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (*Snapshot, error)

func (f LoaderFunc) Load(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

// RefreshingResolver keeps the snapshot current on a fixed interval. Lookups
// read an atomically swapped pointer, so a refresh never blocks readers and
// readers never observe a half-written snapshot.
type RefreshingResolver struct {
	loader   Loader
	interval time.Duration
	current  atomic.Pointer[Snapshot]
}

// NewRefreshing creates a refreshing resolver. Call Run to start the
// refresh loop; until the first successful load, lookups miss.
func NewRefreshing(loader Loader, interval time.Duration) *RefreshingResolver {
	r := &RefreshingResolver{loader: loader, interval: interval}
	r.current.Store(&Snapshot{})
	return r
}

// Run refreshes the snapshot until ctx is cancelled. The first load happens
// immediately. A failed refresh keeps the previous snapshot serving.
func (r *RefreshingResolver) Run(ctx context.Context) {
	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *RefreshingResolver) refresh(ctx context.Context) {
	snap, err := r.loader.Load(ctx)
	if err != nil {
		log.Printf("identity: snapshot refresh failed, keeping previous: %v", err)
		return
	}
	snap.FetchedAt = time.Now()
	r.current.Store(snap)
	log.Printf("identity: snapshot refreshed (%d participants)", len(snap.HotkeyToUID))
}

func (r *RefreshingResolver) snapshot() *StaticResolver {
	return NewStatic(r.current.Load())
}

func (r *RefreshingResolver) UID(hotkey string) (int64, bool) {
	return r.snapshot().UID(hotkey)
}

func (r *RefreshingResolver) Hotkey(uid int64) (string, bool) {
	return r.snapshot().Hotkey(uid)
}

func (r *RefreshingResolver) Coldkey(hotkey string) (string, bool) {
	return r.snapshot().Coldkey(hotkey)
}

func (r *RefreshingResolver) Weights(hotkey string) (Weights, bool) {
	return r.snapshot().Weights(hotkey)
}
