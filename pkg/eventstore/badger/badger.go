package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/leadwatch/leadwatch/pkg/event"
	"github.com/leadwatch/leadwatch/pkg/eventstore"
)

// Store implements eventstore.Store using BadgerDB (LSM tree).
//
// Keys are [timestamp (8 bytes, big-endian)][record hash (8 bytes)], so a
// forward iteration is oldest-first and a reverse iteration is newest-first.
// The hash suffix disambiguates events sharing a nanosecond.
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = defaults).
	MaxMemoryMB int64
}

// New creates a BadgerDB event store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Conservative memory limits: BadgerDB defaults assume a dedicated box.
	var memTableSize int64
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	} else {
		memTableSize = 16 * 1024 * 1024
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db}, nil
}

// Append writes events to the log.
func (s *Store) Append(ctx context.Context, events []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for i, e := range events {
				// Check context periodically (every 100 events)
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				value, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("failed to encode event: %w", err)
				}

				if err := txn.Set(makeKey(e), value); err != nil {
					return fmt.Errorf("failed to write event: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("append operation cancelled: %w", ctx.Err())
	}
}

// Query retrieves events matching the request. Iteration runs in timestamp
// order (reverse for the default newest-first), so it stops as soon as the
// limit is reached or the cursor bound is crossed.
func (s *Store) Query(ctx context.Context, req eventstore.QueryRequest) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		events []event.Event
		err    error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		limit := req.EffectiveLimit()

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			opts.Reverse = !req.Ascending

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for seek(it, req); it.Valid(); it.Next() {
				iterCount++

				// Check for context cancellation every 1000 iterations so
				// long scans cannot block shutdown.
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()

				// Key-level range checks let us stop without decoding.
				ts := keyTimestamp(item.Key())
				if !req.Ascending {
					if !req.Start.IsZero() && ts.Before(req.Start) {
						break
					}
				} else if !req.End.IsZero() && ts.After(req.End) {
					break
				}

				err := item.Value(func(val []byte) error {
					var e event.Event
					if err := json.Unmarshal(val, &e); err != nil {
						return err
					}
					if eventstore.Matches(e, req) {
						res.events = append(res.events, e)
					}
					return nil
				})
				if err != nil {
					return err
				}

				if len(res.events) >= limit {
					break
				}
			}

			return nil
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.events, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// seek positions the iterator at the first candidate key for the request.
func seek(it *badger.Iterator, req eventstore.QueryRequest) {
	if req.Ascending {
		if !req.Start.IsZero() {
			it.Seek(timeKey(req.Start, 0))
			return
		}
		it.Rewind()
		return
	}

	// Descending: start just below the cursor (exclusive) or the range end.
	upper := req.End
	if !req.Before.IsZero() && (upper.IsZero() || req.Before.Before(upper)) {
		upper = req.Before
	}
	if !upper.IsZero() {
		it.Seek(timeKey(upper, ^uint64(0)))
		return
	}
	it.Rewind()
}

// Stats returns log statistics.
func (s *Store) Stats(ctx context.Context) (*eventstore.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *eventstore.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		var res statsResult
		stats := &eventstore.Stats{}

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				stats.TotalEvents++
				ts := keyTimestamp(it.Item().Key())
				if stats.OldestEvent.IsZero() || ts.Before(stats.OldestEvent) {
					stats.OldestEvent = ts
				}
				if stats.NewestEvent.IsZero() || ts.After(stats.NewestEvent) {
					stats.NewestEvent = ts
				}
			}
			return nil
		})

		if res.err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}

		res.stats = stats
		done <- res
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection to reclaim disk space.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// makeKey creates a time-sortable key: [timestamp (8 bytes)][record hash (8 bytes)].
func makeKey(e event.Event) []byte {
	return timeKey(e.Timestamp, event.Identity(e))
}

func timeKey(ts time.Time, hash uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], hash)
	return key
}

// keyTimestamp extracts the timestamp from a storage key.
func keyTimestamp(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[0:8])))
}
