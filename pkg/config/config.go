package config

import "time"

// Server defaults
const (
	DefaultPort     = "8080"
	DefaultDataDir  = "./data/leadwatch"
	DefaultMemoryMB = 48
)

// Backing store limits
const (
	// StoreRowCeiling is the hard per-call row cap the backing store
	// enforces. Callers that need more rows go through fetch.Fetcher.
	StoreRowCeiling = 1000

	StoreCallTimeout = 10 * time.Second
)

// Batched fetch limits
const (
	FetchBatchSize  = 1000
	FetchMaxBatches = 30

	RetryMaxAttempts = 3
	RetryBaseDelay   = 100 * time.Millisecond
	RetryMaxDelay    = 2 * time.Second
	RetryJitter      = 50 * time.Millisecond
)

// Iterative scan tuning. ScanEmptyWindowLimit is a tuned heuristic carried
// over from production; it is configurable per scanner and should not be
// assumed optimal.
const (
	ScanWindowSize       = 500
	ScanEmptyWindowLimit = 15
	ScanMaxWindows       = 40
)

// Correlation
const (
	// CorrelateKeyBatch bounds the fan-out of keyed lookups issued while
	// resolving the other event kind for a set of content keys.
	CorrelateKeyBatch = 50
)

// Search result cache (stale-while-revalidate thresholds)
const (
	SearchCacheFresh = 60 * time.Second
	SearchCacheStale = 10 * time.Minute
)

// Aggregate stats cache and refresh schedule. The refresher fires
// StatsRefreshOffset after each StatsRefreshPeriod boundary so readers see
// newly materialized rollups promptly.
const (
	StatsCacheFresh    = 5 * time.Minute
	StatsCacheStale    = 30 * time.Minute
	StatsRefreshPeriod = 5 * time.Minute
	StatsRefreshOffset = 30 * time.Second
)

// Identity snapshot refresh
const (
	IdentityRefreshInterval = 10 * time.Minute
)

// Search defaults and limits
const (
	SearchDefaultLimit = 50
	SearchMaxLimit     = 500
	LatestDefaultLimit = 25

	// SearchExecTimeout bounds one coalesced search execution end to end.
	// Coalesced work runs detached from any single caller's context, so
	// this is its only deadline.
	SearchExecTimeout = 60 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
