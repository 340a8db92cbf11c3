package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/leadwatch/leadwatch/pkg/cache"
	"github.com/leadwatch/leadwatch/pkg/config"
	"github.com/leadwatch/leadwatch/pkg/eventstore"
	badgerstore "github.com/leadwatch/leadwatch/pkg/eventstore/badger"
	"github.com/leadwatch/leadwatch/pkg/eventstore/memory"
	"github.com/leadwatch/leadwatch/pkg/fetch"
	"github.com/leadwatch/leadwatch/pkg/identity"
	"github.com/leadwatch/leadwatch/pkg/live"
	"github.com/leadwatch/leadwatch/pkg/scan"
	"github.com/leadwatch/leadwatch/pkg/search"
	"github.com/leadwatch/leadwatch/pkg/stats"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
	badgerGCInterval   = 10 * time.Minute
)

var startTime = time.Now()

func main() {
	inMemory := flag.Bool("mem", false, "use the in-memory event store (dev)")
	flag.Parse()

	log.Println("Starting leadwatch server...")

	dataDir := getEnv("LEADWATCH_DATA_DIR", config.DefaultDataDir)
	port := getEnv("PORT", config.DefaultPort)
	maxMemoryMB := getEnvInt64("LEADWATCH_MAX_MEMORY_MB", config.DefaultMemoryMB)

	// Event store
	var store eventstore.Store
	if *inMemory {
		store = memory.New()
		log.Println("Using in-memory event store")
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
		bs, err := badgerstore.New(badgerstore.Config{
			Path:        dataDir,
			MaxMemoryMB: maxMemoryMB,
		})
		if err != nil {
			log.Fatalf("Failed to initialize event store: %v", err)
		}
		store = bs
		log.Printf("BadgerDB event store initialized at %s", dataDir)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Identity snapshot, refreshed on a fixed interval. The loader reads a
	// snapshot file produced by the metagraph fetch job.
	snapshotPath := getEnv("LEADWATCH_METAGRAPH_SNAPSHOT", "")
	resolver := identity.NewRefreshing(identity.FileLoader(snapshotPath), config.IdentityRefreshInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		resolver.Run(ctx)
	}()
	log.Printf("Identity resolver started (refresh every %v)", config.IdentityRefreshInterval)

	// One retry policy and one fetcher shared by every store consumer.
	fetcher := fetch.New(store, fetch.DefaultPolicy())
	scanner := scan.New(fetcher, scan.DefaultConfig())

	// Caches are constructed here and injected; they live for the process.
	coalescer := cache.NewCoalescer()
	resultCache := cache.NewSWR(config.SearchCacheFresh, config.SearchCacheStale)
	statsCache := cache.NewSWR(config.StatsCacheFresh, config.StatsCacheStale)

	// Flat score adjustment, applied identically on the search and stats
	// paths. Zero outside incentive-adjustment periods.
	scoreBonus := getEnvFloat("LEADWATCH_SCORE_BONUS", 0)

	searcher := search.NewSearcher(fetcher, scanner, resolver, coalescer, resultCache).WithScoreBonus(scoreBonus)
	searchHandler := search.NewHandler(searcher)
	log.Println("Search engine ready (coalescing + result cache enabled)")

	// WebSocket hub for live stats pushes
	hub := live.NewHub()
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	// Aggregate stats: store-backed source behind the SWR cache, refreshed
	// phase-aligned to the upstream materialization cadence.
	statsSource := stats.NewStoreSource(fetcher, resolver)
	statsSource.ScoreBonus = scoreBonus
	statsService := stats.NewService(statsSource, statsCache)
	statsHandler := stats.NewHandler(statsService)

	refresher := stats.NewRefresher(statsService)
	refresher.OnRefresh = func(snap *stats.Snapshot) {
		if !hub.HasClients() {
			return
		}
		if err := hub.Broadcast(map[string]interface{}{
			"type":       "stats_update",
			"updated_at": snap.UpdatedAt,
		}); err != nil {
			log.Printf("Failed to broadcast stats update: %v", err)
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		refresher.Run(ctx)
	}()
	log.Printf("Stats refresher started (every %v, offset %v)", config.StatsRefreshPeriod, config.StatsRefreshOffset)

	// BadgerDB garbage collection reclaims value-log disk space.
	if bs, ok := store.(*badgerstore.Store); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runBadgerGC(ctx, bs)
		}()
	}

	router := setupRouter(searchHandler, statsHandler, hub)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received...")

	// Cancel first so background goroutines stop before wg.Wait.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("leadwatch server exited cleanly")
}

// setupRouter wires the HTTP surface. Shared with the integration tests.
func setupRouter(searchHandler *search.Handler, statsHandler *stats.Handler, hub *live.Hub) *mux.Router {
	router := mux.NewRouter()

	// CORS middleware for dashboard access
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/leads/search", searchHandler.HandleSearch).Methods("POST")
	api.HandleFunc("/leads/latest", searchHandler.HandleLatest).Methods("GET")
	api.HandleFunc("/leads/{key}/journey", searchHandler.HandleJourney).Methods("GET")
	api.HandleFunc("/stats", statsHandler.HandleStats).Methods("GET")
	api.HandleFunc("/stats/fetch", searchHandler.HandleFetchCounters).Methods("GET")
	api.HandleFunc("/health", handleHealth).Methods("GET")
	api.HandleFunc("/ws", hub.HandleWebSocket).Methods("GET")

	return router
}

// handleHealth returns service health status.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","uptime":"` + time.Since(startTime).Round(time.Second).String() + `"}`))
}

// runBadgerGC runs value log garbage collection periodically.
func runBadgerGC(ctx context.Context, store *badgerstore.Store) {
	ticker := time.NewTicker(badgerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := store.RunGC(0.5); err != nil {
				// Not an error if no GC was needed.
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		}
	}
}

// getEnv gets a string from an environment variable or returns the default.
func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvFloat gets a float64 from an environment variable or returns the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %g", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from an environment variable or returns the default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}
