package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/grandarena/contest-api/internal/domain/match"
	"github.com/grandarena/contest-api/internal/platform/logging"
	"github.com/panjf2000/ants/v2"
)

const defaultInsightsWorkers = 8

// MatchStore is the read surface the insights layer consumes.
type MatchStore interface {
	ScheduledRecords() []match.Record
	ScoredRecords() []match.Record
	CareerStats(tokenID int64) match.CareerStats
	CareerStatsBefore(tokenID int64, beforeDate string) match.CareerStats
	ChampionWinrateBefore(tokenID int64, beforeDate string) float64
	ClassMatchup(myClass, oppClass string) float64
	ChampionInfo(tokenID int64) (match.ChampionAggregate, bool)
	Champions() []match.ChampionAggregate
	ClassChanges() []match.ClassChange
}

// Readiness gates queries on the feed having been loaded at least once.
type Readiness interface {
	EnsureReady(ctx context.Context) error
}

type InsightsService struct {
	store   MatchStore
	ready   Readiness
	workers int
	logger  *logging.Logger
}

func NewInsightsService(store MatchStore, ready Readiness, workers int, logger *logging.Logger) *InsightsService {
	if workers < 1 {
		workers = defaultInsightsWorkers
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &InsightsService{
		store:   store,
		ready:   ready,
		workers: workers,
		logger:  logger,
	}
}

// UpcomingChampion carries one champion's pre-match context: lifetime
// averages, overall win rate, and the class matchup against the
// opposing champion.
type UpcomingChampion struct {
	TokenID    int64             `json:"token_id"`
	Name       string            `json:"name"`
	Class      string            `json:"class"`
	Team       int               `json:"team"`
	Career     match.CareerStats `json:"career"`
	WinPct     float64           `json:"win_pct"`
	MatchupPct float64           `json:"matchup_pct"`
}

type UpcomingMatch struct {
	MatchID   string             `json:"match_id"`
	MatchDate string             `json:"match_date"`
	Champions []UpcomingChampion `json:"champions"`
}

// ChampionOverview is the champion detail view.
type ChampionOverview struct {
	TokenID int64             `json:"token_id"`
	Name    string            `json:"name"`
	Class   string            `json:"class"`
	Games   int               `json:"games"`
	Wins    int               `json:"wins"`
	WinPct  float64           `json:"win_pct"`
	Career  match.CareerStats `json:"career"`
}

// FormEntry pairs a champion's pre-match baseline with what actually
// happened in one scored match. The baseline is computed over matches
// strictly before the match date, so each entry reflects only what was
// knowable at the time.
type FormEntry struct {
	MatchID        string            `json:"match_id"`
	MatchDate      string            `json:"match_date"`
	BaselineCareer match.CareerStats `json:"baseline_career"`
	BaselineWinPct float64           `json:"baseline_win_pct"`
	Eliminations   float64           `json:"eliminations"`
	Deposits       float64           `json:"deposits"`
	WartDistance   float64           `json:"wart_distance"`
	Won            bool              `json:"won"`
}

// ChampionForm is one champion's chronological form history.
type ChampionForm struct {
	TokenID int64       `json:"token_id"`
	Name    string      `json:"name"`
	Entries []FormEntry `json:"entries"`
}

// UpcomingMatches summarizes every scheduled match with pre-match
// context for its champions. Matchup context is only meaningful for a
// two-champion match; other rosters get the neutral rate.
func (s *InsightsService) UpcomingMatches(ctx context.Context) ([]UpcomingMatch, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.InsightsService.UpcomingMatches")
	defer span.End()

	if err := s.ready.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
	}

	scheduled := s.store.ScheduledRecords()
	out := make([]UpcomingMatch, 0, len(scheduled))
	for _, record := range scheduled {
		var champions []match.Player
		for _, player := range record.Players {
			if player.IsChampion {
				champions = append(champions, player)
			}
		}

		summary := UpcomingMatch{MatchID: record.MatchID, MatchDate: record.MatchDate}
		for i, champion := range champions {
			row := UpcomingChampion{
				TokenID: champion.TokenID,
				Name:    champion.Name,
				Class:   champion.Class,
				Team:    champion.Team,
				Career:  s.store.CareerStats(champion.TokenID),
				WinPct:  50.0,
			}
			if agg, ok := s.store.ChampionInfo(champion.TokenID); ok {
				row.WinPct = agg.WinPct
				if row.Name == "" {
					row.Name = agg.Name
				}
				if row.Class == "" {
					row.Class = agg.Class
				}
			}
			row.MatchupPct = 50.0
			if len(champions) == 2 {
				opp := champions[1-i]
				row.MatchupPct = s.store.ClassMatchup(row.Class, opp.Class)
			}
			summary.Champions = append(summary.Champions, row)
		}
		out = append(out, summary)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MatchDate != out[j].MatchDate {
			return out[i].MatchDate < out[j].MatchDate
		}
		return out[i].MatchID < out[j].MatchID
	})
	return out, nil
}

// Champion returns the overview for one champion token.
func (s *InsightsService) Champion(ctx context.Context, tokenID int64) (ChampionOverview, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.InsightsService.Champion")
	defer span.End()

	if tokenID <= 0 {
		return ChampionOverview{}, fmt.Errorf("%w: token id must be positive", ErrInvalidInput)
	}
	if err := s.ready.EnsureReady(ctx); err != nil {
		return ChampionOverview{}, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
	}

	agg, ok := s.store.ChampionInfo(tokenID)
	if !ok {
		return ChampionOverview{}, fmt.Errorf("%w: champion %d", ErrNotFound, tokenID)
	}
	return ChampionOverview{
		TokenID: agg.TokenID,
		Name:    agg.Name,
		Class:   agg.Class,
		Games:   agg.Games,
		Wins:    agg.Wins,
		WinPct:  agg.WinPct,
		Career:  s.store.CareerStats(tokenID),
	}, nil
}

// Champions lists every tracked champion overview.
func (s *InsightsService) Champions(ctx context.Context) ([]ChampionOverview, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.InsightsService.Champions")
	defer span.End()

	if err := s.ready.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
	}

	aggs := s.store.Champions()
	out := make([]ChampionOverview, 0, len(aggs))
	for _, agg := range aggs {
		out = append(out, ChampionOverview{
			TokenID: agg.TokenID,
			Name:    agg.Name,
			Class:   agg.Class,
			Games:   agg.Games,
			Wins:    agg.Wins,
			WinPct:  agg.WinPct,
			Career:  s.store.CareerStats(agg.TokenID),
		})
	}
	return out, nil
}

// ClassChanges lists detected class reassignments, newest first.
func (s *InsightsService) ClassChanges(ctx context.Context) ([]match.ClassChange, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.InsightsService.ClassChanges")
	defer span.End()

	if err := s.ready.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
	}
	return s.store.ClassChanges(), nil
}

// Form builds one champion's chronological form history.
func (s *InsightsService) Form(ctx context.Context, tokenID int64) (ChampionForm, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.InsightsService.Form")
	defer span.End()

	if tokenID <= 0 {
		return ChampionForm{}, fmt.Errorf("%w: token id must be positive", ErrInvalidInput)
	}
	if err := s.ready.EnsureReady(ctx); err != nil {
		return ChampionForm{}, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
	}

	agg, ok := s.store.ChampionInfo(tokenID)
	if !ok {
		return ChampionForm{}, fmt.Errorf("%w: champion %d", ErrNotFound, tokenID)
	}
	return ChampionForm{
		TokenID: tokenID,
		Name:    agg.Name,
		Entries: s.formEntries(tokenID),
	}, nil
}

// EvaluateHistory builds form histories for a set of champions in
// parallel over a bounded worker pool. Output order follows the input
// token order; unknown tokens are skipped.
func (s *InsightsService) EvaluateHistory(ctx context.Context, tokenIDs []int64) ([]ChampionForm, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.InsightsService.EvaluateHistory")
	defer span.End()

	if len(tokenIDs) == 0 {
		return nil, fmt.Errorf("%w: no token ids given", ErrInvalidInput)
	}
	if err := s.ready.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	start := time.Now()
	results := make([]*ChampionForm, len(tokenIDs))

	var workers sync.WaitGroup
	for i, tokenID := range tokenIDs {
		i, tokenID := i, tokenID
		workers.Add(1)
		if err := pool.Submit(func() {
			defer workers.Done()

			agg, ok := s.store.ChampionInfo(tokenID)
			if !ok {
				return
			}
			results[i] = &ChampionForm{
				TokenID: tokenID,
				Name:    agg.Name,
				Entries: s.formEntries(tokenID),
			}
		}); err != nil {
			workers.Done()
			return nil, fmt.Errorf("submit task to worker pool: %w", err)
		}
	}
	workers.Wait()

	out := make([]ChampionForm, 0, len(tokenIDs))
	for _, form := range results {
		if form != nil {
			out = append(out, *form)
		}
	}

	s.logger.InfoContext(ctx, "history evaluation complete",
		"requested", len(tokenIDs),
		"resolved", len(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (s *InsightsService) formEntries(tokenID int64) []FormEntry {
	var entries []FormEntry
	for _, record := range s.store.ScoredRecords() {
		var player *match.Player
		for i := range record.Players {
			if record.Players[i].TokenID == tokenID && record.Players[i].IsChampion {
				player = &record.Players[i]
				break
			}
		}
		if player == nil {
			continue
		}

		entry := FormEntry{
			MatchID:        record.MatchID,
			MatchDate:      record.MatchDate,
			BaselineCareer: s.store.CareerStatsBefore(tokenID, record.MatchDate),
			BaselineWinPct: s.store.ChampionWinrateBefore(tokenID, record.MatchDate),
			Won:            record.TeamWon != nil && *record.TeamWon == player.Team,
		}
		for _, perf := range record.Performances {
			if perf.TokenID == tokenID {
				entry.Eliminations = perf.Eliminations
				entry.Deposits = perf.Deposits
				entry.WartDistance = perf.WartDistance
				break
			}
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].MatchDate != entries[j].MatchDate {
			return entries[i].MatchDate < entries[j].MatchDate
		}
		return entries[i].MatchID < entries[j].MatchID
	})
	return entries
}
