package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grandarena/contest-api/internal/platform/logging"
)

// stubFetcher scripts feed responses per resource.
type stubFetcher struct {
	manifest    Manifest
	manifestErr error

	partitions   map[string][]MatchEnvelope
	partitionErr map[string]error

	cumulative    []CumulativeRow
	cumulativeErr error

	manifestCalls  atomic.Int64
	partitionCalls atomic.Int64
	closed         atomic.Bool
}

func (f *stubFetcher) FetchManifest(ctx context.Context) (Manifest, error) {
	f.manifestCalls.Add(1)
	if f.manifestErr != nil {
		return Manifest{}, f.manifestErr
	}
	return f.manifest, nil
}

func (f *stubFetcher) FetchPartition(ctx context.Context, partitionURL string) ([]MatchEnvelope, error) {
	f.partitionCalls.Add(1)
	if err := f.partitionErr[partitionURL]; err != nil {
		return nil, err
	}
	return f.partitions[partitionURL], nil
}

func (f *stubFetcher) FetchCumulative(ctx context.Context) ([]CumulativeRow, error) {
	if f.cumulativeErr != nil {
		return nil, f.cumulativeErr
	}
	return f.cumulative, nil
}

func (f *stubFetcher) BaseURL() string { return "http://feeds.test/data" }
func (f *stubFetcher) Close()          { f.closed.Store(true) }

func newTestCoordinator(t *testing.T, fetcher *stubFetcher, maxPartitions int) *Coordinator {
	t.Helper()
	logger := logging.NewNop()
	cache := NewCache(10*time.Minute, 5*time.Minute, logger)
	return NewCoordinator(fetcher, cache, NewStore(logger), maxPartitions, logger)
}

func manifestOf(dates ...string) Manifest {
	m := Manifest{}
	for _, date := range dates {
		m.Partitions = append(m.Partitions, PartitionRef{
			Date: date,
			URL:  "partitions/raw_matches_" + date + ".json.gz",
		})
	}
	return m
}

func TestCoordinator_SelectsNewestPartitions(t *testing.T) {
	t.Parallel()

	// Twenty available days, deliberately unordered, limit fourteen.
	var dates []string
	for day := 1; day <= 20; day++ {
		dates = append(dates, fmt.Sprintf("2026-08-%02d", day))
	}
	dates[0], dates[19] = dates[19], dates[0]

	fetcher := &stubFetcher{
		manifest:   manifestOf(dates...),
		partitions: map[string][]MatchEnvelope{},
	}
	for day := 1; day <= 20; day++ {
		date := fmt.Sprintf("2026-08-%02d", day)
		fetcher.partitions["partitions/raw_matches_"+date+".json.gz"] = []MatchEnvelope{
			scoredDuel("m-"+date, date, 7, 8),
		}
	}

	coord := newTestCoordinator(t, fetcher, 14)
	if err := coord.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	matches, _, _, _, _ := coord.Store().Counts()
	if matches != 14 {
		t.Fatalf("expected 14 matches (one per selected partition), got %d", matches)
	}
	if got := fetcher.partitionCalls.Load(); got != 14 {
		t.Fatalf("expected 14 partition fetches, got %d", got)
	}

	// The oldest six days must be absent; days 7..20 present.
	if got := coord.Store().CareerStatsBefore(7, "2026-08-07"); got.Elims != 1.0 {
		t.Fatalf("days before 08-07 should be unloaded and fall to defaults, got %+v", got)
	}
	if got := coord.Store().ChampionWinrateBefore(7, "2026-08-21"); got != 100.0 {
		t.Fatalf("loaded window should cover days 7..20, got %v", got)
	}
}

func TestCoordinator_PartitionFailureLoadsSubset(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{
		manifest: manifestOf("2026-08-10", "2026-08-11", "2026-08-12"),
		partitions: map[string][]MatchEnvelope{
			"partitions/raw_matches_2026-08-10.json.gz": {scoredDuel("m1", "2026-08-10", 7, 8)},
			"partitions/raw_matches_2026-08-12.json.gz": {scoredDuel("m3", "2026-08-12", 7, 8)},
		},
		partitionErr: map[string]error{
			"partitions/raw_matches_2026-08-11.json.gz": unavailable("partitions/raw_matches_2026-08-11.json.gz", errors.New("gone")),
		},
	}

	coord := newTestCoordinator(t, fetcher, 14)
	if err := coord.Initialize(context.Background()); err != nil {
		t.Fatalf("one broken partition must not fail the refresh: %v", err)
	}

	matches, _, scored, _, _ := coord.Store().Counts()
	if matches != 2 || scored != 2 {
		t.Fatalf("expected the two good partitions loaded, got matches=%d scored=%d", matches, scored)
	}
	if !coord.HealthInfo().Initialized {
		t.Fatalf("coordinator must report initialized despite the partial load")
	}
}

func TestCoordinator_CumulativeFailureTolerated(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{
		manifest: manifestOf("2026-08-10"),
		partitions: map[string][]MatchEnvelope{
			"partitions/raw_matches_2026-08-10.json.gz": {scoredDuel("m1", "2026-08-10", 7, 8)},
		},
		cumulativeErr: unavailable(cumulativePath, errors.New("gone")),
	}

	coord := newTestCoordinator(t, fetcher, 14)
	if err := coord.Initialize(context.Background()); err != nil {
		t.Fatalf("cumulative failure must not fail the refresh: %v", err)
	}

	_, _, _, _, cumulative := coord.Store().Counts()
	if cumulative != 0 {
		t.Fatalf("expected no cumulative rows, got %d", cumulative)
	}
	// Career stats degrade to defaults rather than erroring.
	got := coord.Store().CareerStats(7)
	if got.Elims != 1.0 || got.Deps != 1.5 || got.Wart != 0.0 {
		t.Fatalf("expected default career stats, got %+v", got)
	}
}

func TestCoordinator_ManifestFailureAborts(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{
		manifestErr: unavailable(manifestPath, errors.New("gone")),
	}

	coord := newTestCoordinator(t, fetcher, 14)
	err := coord.Initialize(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	info := coord.HealthInfo()
	if info.Initialized {
		t.Fatalf("failed first refresh must leave coordinator uninitialized")
	}

	// Recovery: the feed comes back and the next Initialize succeeds.
	fetcher.manifestErr = nil
	fetcher.manifest = manifestOf("2026-08-10")
	fetcher.partitions = map[string][]MatchEnvelope{
		"partitions/raw_matches_2026-08-10.json.gz": {scoredDuel("m1", "2026-08-10", 7, 8)},
	}
	if err := coord.Initialize(context.Background()); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if !coord.HealthInfo().Initialized {
		t.Fatalf("coordinator must be initialized after successful retry")
	}
}

func TestCoordinator_InitializeIsIdempotent(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{
		manifest: manifestOf("2026-08-10"),
		partitions: map[string][]MatchEnvelope{
			"partitions/raw_matches_2026-08-10.json.gz": {scoredDuel("m1", "2026-08-10", 7, 8)},
		},
	}

	coord := newTestCoordinator(t, fetcher, 14)
	for i := 0; i < 3; i++ {
		if err := coord.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize %d: %v", i+1, err)
		}
	}
	if got := fetcher.manifestCalls.Load(); got != 1 {
		t.Fatalf("repeated Initialize must refresh once, got %d manifest fetches", got)
	}
}

func TestCoordinator_RefreshUsesFreshCache(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{
		manifest: manifestOf("2026-08-10"),
		partitions: map[string][]MatchEnvelope{
			"partitions/raw_matches_2026-08-10.json.gz": {scoredDuel("m1", "2026-08-10", 7, 8)},
		},
	}

	coord := newTestCoordinator(t, fetcher, 14)
	if err := coord.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := coord.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Both cycles served from the still-fresh cache entries.
	if got := fetcher.manifestCalls.Load(); got != 1 {
		t.Fatalf("fresh manifest must not be refetched, got %d fetches", got)
	}
	if got := fetcher.partitionCalls.Load(); got != 1 {
		t.Fatalf("fresh partition must not be refetched, got %d fetches", got)
	}

	// The store is rebuilt from cached payloads, not duplicated.
	matches, _, _, _, _ := coord.Store().Counts()
	if matches != 1 {
		t.Fatalf("expected 1 match after second refresh, got %d", matches)
	}
}

func TestCoordinator_ForceRefreshBypassesCache(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{
		manifest: manifestOf("2026-08-10"),
		partitions: map[string][]MatchEnvelope{
			"partitions/raw_matches_2026-08-10.json.gz": {scoredDuel("m1", "2026-08-10", 7, 8)},
		},
	}

	coord := newTestCoordinator(t, fetcher, 14)
	if err := coord.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := coord.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}

	if got := fetcher.manifestCalls.Load(); got != 2 {
		t.Fatalf("forced refresh must refetch the manifest, got %d fetches", got)
	}
	if got := fetcher.partitionCalls.Load(); got != 2 {
		t.Fatalf("forced refresh must refetch partitions, got %d fetches", got)
	}
}

func TestCoordinator_HealthInfo(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{
		manifest: manifestOf("2026-08-10"),
		partitions: map[string][]MatchEnvelope{
			"partitions/raw_matches_2026-08-10.json.gz": {
				scoredDuel("m1", "2026-08-10", 7, 8),
				scoredDuel("m2", "2026-08-10", 7, 8, withState("scheduled")),
			},
		},
		cumulative: []CumulativeRow{{TokenID: 7, GamesPlayedCum: 2, EliminationsCum: 4, DepositsCum: 2, WartDistanceCum: 8}},
	}

	coord := newTestCoordinator(t, fetcher, 14)
	if err := coord.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}

	info := coord.HealthInfo()
	if !info.Initialized {
		t.Fatalf("expected initialized")
	}
	if info.MatchesLoaded != 2 || info.ScheduledMatches != 1 || info.ScoredMatches != 1 {
		t.Fatalf("unexpected counts: %+v", info)
	}
	if info.CumulativeTokens != 1 || info.ChampionsTracked != 2 {
		t.Fatalf("unexpected aggregate counts: %+v", info)
	}
	if info.ManifestAgeSeconds == nil || !info.ManifestFresh {
		t.Fatalf("expected fresh manifest entry: %+v", info)
	}
	if info.FeedBaseURL != "http://feeds.test/data" {
		t.Fatalf("unexpected base url %q", info.FeedBaseURL)
	}
	if len(info.CacheKeys) != 3 {
		t.Fatalf("expected manifest, partition and cumulative cache keys, got %v", info.CacheKeys)
	}
}

func TestCoordinator_ShutdownClosesFetcher(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{}
	coord := newTestCoordinator(t, fetcher, 14)
	coord.Shutdown()
	if !fetcher.closed.Load() {
		t.Fatalf("shutdown must close the fetcher")
	}
}

func TestSelectPartitions(t *testing.T) {
	t.Parallel()

	refs := manifestOf("2026-08-03", "2026-08-01", "2026-08-05", "2026-08-04", "2026-08-02").Partitions
	selected := selectPartitions(refs, 3)

	if len(selected) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(selected))
	}
	want := []string{"2026-08-05", "2026-08-04", "2026-08-03"}
	for i, date := range want {
		if selected[i].Date != date {
			t.Fatalf("position %d: got %s, want %s", i, selected[i].Date, date)
		}
	}

	// Limit above the available count returns everything.
	if got := selectPartitions(refs, 99); len(got) != 5 {
		t.Fatalf("expected all 5, got %d", len(got))
	}
}
