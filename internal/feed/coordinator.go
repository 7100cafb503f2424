package feed

import (
	"context"
	"sort"
	"sync"

	crerr "github.com/cockroachdb/errors"
	"github.com/grandarena/contest-api/internal/platform/logging"
)

const (
	cacheKeyManifest   = "manifest"
	cacheKeyCumulative = "cumulative"
	partitionKeyPrefix = "partition:"
)

// Fetcher is the retrieval surface the Coordinator drives.
type Fetcher interface {
	FetchManifest(ctx context.Context) (Manifest, error)
	FetchPartition(ctx context.Context, partitionURL string) ([]MatchEnvelope, error)
	FetchCumulative(ctx context.Context) ([]CumulativeRow, error)
	BaseURL() string
	Close()
}

// Coordinator orchestrates the refresh cycle: manifest, partition
// selection, store reload, cumulative stats, aggregate rebuild. One
// Coordinator is constructed at process start and handed to every
// consumer; there is no package-level instance.
type Coordinator struct {
	client        Fetcher
	cache         *Cache
	store         *Store
	maxPartitions int
	logger        *logging.Logger

	initMu      sync.Mutex
	initialized bool
}

// HealthInfo is a read-only operational snapshot.
type HealthInfo struct {
	Initialized        bool     `json:"initialized"`
	MatchesLoaded      int      `json:"matches_loaded"`
	ScheduledMatches   int      `json:"scheduled_matches"`
	ScoredMatches      int      `json:"scored_matches"`
	ChampionsTracked   int      `json:"champions_tracked"`
	CumulativeTokens   int      `json:"cumulative_tokens"`
	CacheKeys          []string `json:"cache_keys"`
	ManifestAgeSeconds *float64 `json:"manifest_age_seconds"`
	ManifestFresh      bool     `json:"manifest_fresh"`
	FeedBaseURL        string   `json:"feed_base_url"`
}

func NewCoordinator(client Fetcher, cache *Cache, store *Store, maxPartitions int, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	if maxPartitions < 1 {
		maxPartitions = 1
	}
	return &Coordinator{
		client:        client,
		cache:         cache,
		store:         store,
		maxPartitions: maxPartitions,
		logger:        logger,
	}
}

func (c *Coordinator) Store() *Store { return c.store }

// Initialize performs the first refresh. It is idempotent; concurrent
// and repeated calls after a successful run are no-ops. A failed first
// refresh leaves the coordinator uninitialized so the next call retries.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.initialized {
		return nil
	}

	c.logger.InfoContext(ctx, "initializing feed coordinator", "feed_base_url", c.client.BaseURL())
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	c.initialized = true

	matches, scheduled, scored, _, _ := c.store.Counts()
	c.logger.InfoContext(ctx, "feed coordinator initialized",
		"matches", matches,
		"scheduled", scheduled,
		"scored", scored,
	)
	return nil
}

// Refresh reloads the store from the feed. A manifest failure with no
// usable cache aborts the cycle; a single partition or the cumulative
// fetch failing is logged and skipped so one broken resource cannot
// take down the rest of the dataset. Aggregates are rebuilt over
// whatever subset loaded.
func (c *Coordinator) Refresh(ctx context.Context) error {
	manifestVal, err := c.cache.GetOrFetch(ctx, cacheKeyManifest, 0, func(ctx context.Context) (any, error) {
		return c.client.FetchManifest(ctx)
	})
	if err != nil {
		return err
	}
	manifest, ok := manifestVal.(Manifest)
	if !ok {
		return parseFailure(cacheKeyManifest, errUnexpectedCacheType)
	}

	selected := selectPartitions(manifest.Partitions, c.maxPartitions)
	c.logger.InfoContext(ctx, "refreshing feed data",
		"partitions_selected", len(selected),
		"partitions_available", len(manifest.Partitions),
	)

	// Unconditional clear. The reload below spans one fetch per
	// partition, so a concurrent reader can observe a partially loaded
	// store until the rebuild at the end of this cycle.
	c.store.Clear()

	for _, partition := range selected {
		partition := partition
		value, err := c.cache.GetOrFetch(ctx, partitionKeyPrefix+partition.Date, 0, func(ctx context.Context) (any, error) {
			return c.client.FetchPartition(ctx, partition.URL)
		})
		if err != nil {
			c.logger.WarnContext(ctx, "partition load failed, continuing", "date", partition.Date, "error", err)
			continue
		}
		if envelopes, ok := value.([]MatchEnvelope); ok {
			c.store.LoadPartition(envelopes)
		}
	}

	cumulativeVal, err := c.cache.GetOrFetch(ctx, cacheKeyCumulative, 0, func(ctx context.Context) (any, error) {
		return c.client.FetchCumulative(ctx)
	})
	if err != nil {
		c.logger.WarnContext(ctx, "cumulative stats load failed, falling back to defaults", "error", err)
	} else if rows, ok := cumulativeVal.([]CumulativeRow); ok {
		c.store.LoadCumulative(rows)
	}

	c.store.RebuildAggregates()

	matches, _, _, _, _ := c.store.Counts()
	c.logger.InfoContext(ctx, "feed refresh complete", "matches", matches)
	return nil
}

// ForceRefresh drops every cache entry and runs a full refresh cycle,
// bypassing TTLs. This is the operator escape hatch behind the internal
// refresh endpoint.
func (c *Coordinator) ForceRefresh(ctx context.Context) error {
	c.logger.InfoContext(ctx, "forced refresh requested")
	c.cache.InvalidateAll()
	return c.Refresh(ctx)
}

// EnsureReady lazily initializes, then reports manifest staleness.
// A stale manifest is not repaired here: the next GetOrFetch against
// the manifest key refreshes it transparently.
func (c *Coordinator) EnsureReady(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}

	if info, ok := c.cache.EntryInfo(cacheKeyManifest); ok && !info.Fresh {
		c.logger.InfoContext(ctx, "manifest cache stale, next fetch refreshes", "age", info.Age.String())
	}
	return nil
}

// HealthInfo snapshots store and cache state for monitoring.
func (c *Coordinator) HealthInfo() HealthInfo {
	c.initMu.Lock()
	initialized := c.initialized
	c.initMu.Unlock()

	matches, scheduled, scored, champions, cumulative := c.store.Counts()

	info := HealthInfo{
		Initialized:      initialized,
		MatchesLoaded:    matches,
		ScheduledMatches: scheduled,
		ScoredMatches:    scored,
		ChampionsTracked: champions,
		CumulativeTokens: cumulative,
		CacheKeys:        c.cache.Keys(),
		FeedBaseURL:      c.client.BaseURL(),
	}
	if entry, ok := c.cache.EntryInfo(cacheKeyManifest); ok {
		age := entry.Age.Seconds()
		info.ManifestAgeSeconds = &age
		info.ManifestFresh = entry.Fresh
	}
	return info
}

// Shutdown releases the fetcher's connection resources.
func (c *Coordinator) Shutdown() {
	c.logger.Info("shutting down feed coordinator")
	c.client.Close()
}

// selectPartitions keeps the most recent limit partitions by date.
func selectPartitions(partitions []PartitionRef, limit int) []PartitionRef {
	sorted := make([]PartitionRef, len(partitions))
	copy(sorted, partitions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date > sorted[j].Date })

	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

var errUnexpectedCacheType = crerr.New("unexpected cached value type")
