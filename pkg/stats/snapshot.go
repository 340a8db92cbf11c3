// Package stats serves precomputed aggregate statistics: per-miner and
// per-epoch rollups materialized by an upstream job and read here as a
// single versioned blob. The engine never recomputes these on the live
// request path; readers hit a stale-while-revalidate cache refreshed on a
// schedule phase-aligned to the upstream cadence.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/leadwatch/leadwatch/pkg/correlate"
)

// MinerStats is the per-participant rollup.
type MinerStats struct {
	UID              int64            `json:"uid"`
	Total            int64            `json:"total"`
	Accepted         int64            `json:"accepted"`
	Rejected         int64            `json:"rejected"`
	Pending          int64            `json:"pending"`
	AcceptRate       float64          `json:"accept_rate"`
	AvgScore         float64          `json:"avg_score"`
	ByEpoch          map[int64]int64  `json:"by_epoch,omitempty"`
	RejectionReasons map[string]int64 `json:"rejection_reasons,omitempty"`
}

// EpochStats is the per-epoch rollup.
type EpochStats struct {
	Total      int64            `json:"total"`
	Accepted   int64            `json:"accepted"`
	AcceptRate float64          `json:"accept_rate"`
	ByMiner    map[string]int64 `json:"by_miner,omitempty"`
}

// Inventory carries the daily/weekly submission counters.
type Inventory struct {
	Daily  map[string]int64 `json:"daily,omitempty"`
	Weekly map[string]int64 `json:"weekly,omitempty"`
}

// Snapshot is one versioned copy of the materialized aggregates. It is
// applied whole or not at all; counts are monotonically non-decreasing
// within a refresh cycle.
type Snapshot struct {
	UpdatedAt time.Time             `json:"updated_at"`
	Miners    map[string]MinerStats `json:"miners"`
	Epochs    map[int64]EpochStats  `json:"epochs"`
	Inventory Inventory             `json:"inventory"`
}

// Source fetches the latest materialized snapshot.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (*Snapshot, error)

func (f SourceFunc) Fetch(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

// Build computes a snapshot from a correlated lead set. Used by the
// store-backed fallback source in deployments without the upstream
// materialization job; the shape matches the upstream blob exactly.
func Build(leads []correlate.Lead, uids map[string]int64, now time.Time) *Snapshot {
	snap := &Snapshot{
		UpdatedAt: now,
		Miners:    make(map[string]MinerStats),
		Epochs:    make(map[int64]EpochStats),
		Inventory: Inventory{
			Daily:  make(map[string]int64),
			Weekly: make(map[string]int64),
		},
	}

	scoreSums := make(map[string]float64)
	scoreCounts := make(map[string]int64)

	for _, l := range leads {
		ms := snap.Miners[l.ActorKey]
		if uid, ok := uids[l.ActorKey]; ok {
			ms.UID = uid
		} else {
			ms.UID = -1
		}
		if ms.ByEpoch == nil {
			ms.ByEpoch = make(map[int64]int64)
		}
		if ms.RejectionReasons == nil {
			ms.RejectionReasons = make(map[string]int64)
		}

		ms.Total++
		switch l.Decision {
		case correlate.Accepted:
			ms.Accepted++
		case correlate.Rejected:
			ms.Rejected++
			if l.RejectionReason != "" {
				ms.RejectionReasons[l.RejectionReason]++
			}
		default:
			ms.Pending++
		}
		if l.Decision != correlate.Pending {
			ms.ByEpoch[l.EpochID]++
			scoreSums[l.ActorKey] += l.Score
			scoreCounts[l.ActorKey]++

			es := snap.Epochs[l.EpochID]
			if es.ByMiner == nil {
				es.ByMiner = make(map[string]int64)
			}
			es.Total++
			if l.Decision == correlate.Accepted {
				es.Accepted++
			}
			es.ByMiner[l.ActorKey]++
			snap.Epochs[l.EpochID] = es
		}
		snap.Miners[l.ActorKey] = ms

		day := l.Timestamp.UTC().Format("2006-01-02")
		snap.Inventory.Daily[day]++
		year, week := l.Timestamp.UTC().ISOWeek()
		snap.Inventory.Weekly[fmt.Sprintf("%d-W%02d", year, week)]++
	}

	for hotkey, ms := range snap.Miners {
		decided := ms.Accepted + ms.Rejected
		if decided > 0 {
			ms.AcceptRate = float64(ms.Accepted) / float64(decided)
		}
		if n := scoreCounts[hotkey]; n > 0 {
			ms.AvgScore = scoreSums[hotkey] / float64(n)
		}
		snap.Miners[hotkey] = ms
	}
	for epoch, es := range snap.Epochs {
		if es.Total > 0 {
			es.AcceptRate = float64(es.Accepted) / float64(es.Total)
		}
		snap.Epochs[epoch] = es
	}

	return snap
}
