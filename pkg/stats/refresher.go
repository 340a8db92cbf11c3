package stats

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/leadwatch/leadwatch/pkg/cache"
	"github.com/leadwatch/leadwatch/pkg/config"
)

const cacheKey = "aggregate_snapshot"

// Service serves aggregate snapshots through the stale-while-revalidate
// cache. Reads never block on a refresh unless the cache is empty or the
// entry crossed the staleness ceiling.
type Service struct {
	source Source
	cache  *cache.SWRCache
}

// NewService creates a stats service over the given source and cache handle.
func NewService(source Source, c *cache.SWRCache) *Service {
	return &Service{source: source, cache: c}
}

// Latest returns the current snapshot per the cache's SWR state machine.
func (s *Service) Latest(ctx context.Context) (*Snapshot, error) {
	v, err := s.cache.Get(ctx, cacheKey, func(ctx context.Context) (interface{}, error) {
		return s.source.Fetch(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch aggregate snapshot: %w", err)
	}
	return v.(*Snapshot), nil
}

// Refresh forces a fetch and replaces the cached snapshot whole. Used by the
// scheduled refresher; an error leaves the previous snapshot serving.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	snap, err := s.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cacheKey, snap)
	return snap, nil
}

// Refresher re-runs Service.Refresh on a wall-clock schedule phase-aligned
// to the upstream materialization job: it computes the time until the next
// period boundary plus a fixed offset, fires, then re-arms. Re-arming from
// the boundary each cycle avoids the drift a naive fixed interval collects.
type Refresher struct {
	service *Service
	period  time.Duration
	offset  time.Duration

	// OnRefresh, if set, observes each successfully refreshed snapshot
	// (used to push updates to live dashboard clients).
	OnRefresh func(*Snapshot)
}

// NewRefresher creates a refresher with the production cadence.
func NewRefresher(service *Service) *Refresher {
	return &Refresher{
		service: service,
		period:  config.StatsRefreshPeriod,
		offset:  config.StatsRefreshOffset,
	}
}

// WithSchedule overrides the cadence (tests).
func (r *Refresher) WithSchedule(period, offset time.Duration) *Refresher {
	r.period = period
	r.offset = offset
	return r
}

// NextFire returns the next aligned fire time strictly after now:
// the upcoming period boundary plus the offset.
func (r *Refresher) NextFire(now time.Time) time.Time {
	boundary := now.Truncate(r.period)
	next := boundary.Add(r.offset)
	for !next.After(now) {
		next = next.Add(r.period)
	}
	return next
}

// Run refreshes on the aligned schedule until ctx is cancelled. A failed
// refresh is logged and swallowed; readers keep seeing the prior snapshot.
func (r *Refresher) Run(ctx context.Context) {
	timer := time.NewTimer(time.Until(r.NextFire(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			start := time.Now()
			snap, err := r.service.Refresh(ctx)
			if err != nil {
				log.Printf("stats: scheduled refresh failed, previous snapshot remains servable: %v", err)
			} else {
				log.Printf("stats: snapshot refreshed in %v (%d miners, %d epochs)",
					time.Since(start).Round(time.Millisecond), len(snap.Miners), len(snap.Epochs))
				if r.OnRefresh != nil {
					r.OnRefresh(snap)
				}
			}
			timer.Reset(time.Until(r.NextFire(time.Now())))
		}
	}
}
