package stats

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leadwatch/leadwatch/pkg/cache"
)

func TestNextFire_Alignment(t *testing.T) {
	r := (&Refresher{}).WithSchedule(5*time.Minute, 30*time.Second)

	cases := []struct {
		now  string
		want string
	}{
		// Before this period's offset: fire at boundary+offset.
		{"2025-06-01T12:00:10Z", "2025-06-01T12:00:30Z"},
		// Past this period's offset: fire in the next period.
		{"2025-06-01T12:00:30Z", "2025-06-01T12:05:30Z"},
		{"2025-06-01T12:03:00Z", "2025-06-01T12:05:30Z"},
		// Exactly on a boundary.
		{"2025-06-01T12:05:00Z", "2025-06-01T12:05:30Z"},
	}

	for _, tc := range cases {
		now, _ := time.Parse(time.RFC3339, tc.now)
		want, _ := time.Parse(time.RFC3339, tc.want)
		if got := r.NextFire(now); !got.Equal(want) {
			t.Errorf("NextFire(%s) = %s, want %s", tc.now, got.UTC().Format(time.RFC3339), tc.want)
		}
	}
}

func TestNextFire_StrictlyAfterNow(t *testing.T) {
	r := (&Refresher{}).WithSchedule(time.Minute, 0)

	now, _ := time.Parse(time.RFC3339, "2025-06-01T12:00:00Z")
	next := r.NextFire(now)
	if !next.After(now) {
		t.Errorf("NextFire must be strictly after now, got %v", next)
	}
	if next.Sub(now) != time.Minute {
		t.Errorf("on-boundary fire must land on the next boundary, got +%v", next.Sub(now))
	}
}

func TestService_LatestCachesSnapshot(t *testing.T) {
	var fetches atomic.Int64
	source := SourceFunc(func(ctx context.Context) (*Snapshot, error) {
		fetches.Add(1)
		return &Snapshot{UpdatedAt: time.Now()}, nil
	})

	svc := NewService(source, cache.NewSWR(time.Minute, 10*time.Minute))

	for i := 0; i < 5; i++ {
		if _, err := svc.Latest(context.Background()); err != nil {
			t.Fatalf("latest: %v", err)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fresh reads must share one fetch, got %d", got)
	}
}

func TestService_RefreshReplacesWhole(t *testing.T) {
	calls := 0
	source := SourceFunc(func(ctx context.Context) (*Snapshot, error) {
		calls++
		return &Snapshot{Miners: map[string]MinerStats{"hotA": {Total: int64(calls)}}}, nil
	})

	svc := NewService(source, cache.NewSWR(time.Minute, 10*time.Minute))

	if _, err := svc.Latest(context.Background()); err != nil {
		t.Fatalf("latest: %v", err)
	}
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	snap, err := svc.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if snap.Miners["hotA"].Total != 2 {
		t.Errorf("refresh did not replace the cached snapshot: %+v", snap.Miners)
	}
}

func TestService_RefreshFailureKeepsPrevious(t *testing.T) {
	healthy := true
	source := SourceFunc(func(ctx context.Context) (*Snapshot, error) {
		if !healthy {
			return nil, errors.New("store down")
		}
		return &Snapshot{Miners: map[string]MinerStats{"hotA": {Total: 1}}}, nil
	})

	svc := NewService(source, cache.NewSWR(time.Minute, 10*time.Minute))

	if _, err := svc.Latest(context.Background()); err != nil {
		t.Fatalf("latest: %v", err)
	}

	healthy = false
	if _, err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("expected the refresh to fail")
	}

	snap, err := svc.Latest(context.Background())
	if err != nil {
		t.Fatalf("previous snapshot must keep serving: %v", err)
	}
	if snap.Miners["hotA"].Total != 1 {
		t.Errorf("previous snapshot lost: %+v", snap.Miners)
	}
}

func TestRefresher_RunFiresAndNotifies(t *testing.T) {
	var fetches atomic.Int64
	source := SourceFunc(func(ctx context.Context) (*Snapshot, error) {
		fetches.Add(1)
		return &Snapshot{UpdatedAt: time.Now()}, nil
	})

	svc := NewService(source, cache.NewSWR(time.Minute, 10*time.Minute))
	r := NewRefresher(svc).WithSchedule(50*time.Millisecond, 0)

	notified := make(chan *Snapshot, 10)
	r.OnRefresh = func(snap *Snapshot) { notified <- snap }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	select {
	case snap := <-notified:
		if snap == nil {
			t.Error("nil snapshot notified")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresher never fired")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop on cancel")
	}

	if fetches.Load() == 0 {
		t.Error("no fetch recorded")
	}
}
