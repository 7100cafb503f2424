package feed

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/grandarena/contest-api/internal/domain/match"
	"github.com/grandarena/contest-api/internal/platform/logging"
)

// classMatchupMinGames is the minimum scored-game sample below which a
// class pair is absent from the matchup table rather than reported as 0.
const classMatchupMinGames = 10

const neutralWinPct = 50.0

// ClassPair keys the matchup table: Mine's win percentage against Opp.
type ClassPair struct {
	Mine string
	Opp  string
}

// Store is the in-memory, indexed snapshot of feed data. Writes happen
// only on the Coordinator's refresh path; reads are pure functions over
// current state and never fail on missing data. Unknown inputs degrade
// to documented neutral defaults so the scoring layer stays available
// against a sparse or partially loaded store.
type Store struct {
	mu sync.RWMutex

	matches    map[string]*match.Record
	cumulative map[int64]match.CumulativeStat

	matchesByDate  map[string][]string
	matchesByToken map[int64][]string
	scheduled      []string
	scored         []string

	championWinrates map[int64]match.ChampionAggregate
	classMatchups    map[ClassPair]float64

	classHistory map[int64][]match.ClassHistoryEntry

	validate *validator.Validate
	logger   *logging.Logger
}

func NewStore(logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		validate: validator.New(),
		logger:   logger,
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.matches = make(map[string]*match.Record)
	s.cumulative = make(map[int64]match.CumulativeStat)
	s.matchesByDate = make(map[string][]string)
	s.matchesByToken = make(map[int64][]string)
	s.scheduled = nil
	s.scored = nil
	s.championWinrates = make(map[int64]match.ChampionAggregate)
	s.classMatchups = make(map[ClassPair]float64)
	s.classHistory = make(map[int64][]match.ClassHistoryEntry)
}

// Clear resets every collection: matches, indices, aggregates, history.
func (s *Store) Clear() {
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
}

// LoadPartition ingests a partition payload. Loading is idempotent and
// first-writer-wins: an envelope whose match id is already present is
// skipped, so overlapping partitions never conflict. Envelopes failing
// boundary validation are skipped and counted, never stored.
func (s *Store) LoadPartition(envelopes []MatchEnvelope) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	invalid := 0
	for i := range envelopes {
		envelope := &envelopes[i]
		if err := s.validate.Struct(envelope); err != nil {
			invalid++
			continue
		}
		if _, exists := s.matches[envelope.Match.MatchID]; exists {
			continue
		}

		record := &match.Record{
			MatchID:      envelope.Match.MatchID,
			MatchDate:    envelope.Match.MatchDate,
			TeamWon:      envelope.Match.TeamWon,
			WinType:      envelope.Match.WinType,
			State:        envelope.Match.State,
			Players:      envelope.Players,
			Performances: envelope.Performances,
		}
		s.matches[record.MatchID] = record
		s.indexMatch(record)
		loaded++
	}

	s.logger.Info("partition loaded", "new_matches", loaded, "invalid_envelopes", invalid)
	return loaded
}

func (s *Store) indexMatch(record *match.Record) {
	s.matchesByDate[record.MatchDate] = append(s.matchesByDate[record.MatchDate], record.MatchID)

	for _, player := range record.Players {
		s.matchesByToken[player.TokenID] = append(s.matchesByToken[player.TokenID], record.MatchID)

		// Class history feeds reassignment detection: champions of
		// scored matches only.
		if player.IsChampion && record.State == match.StateScored && player.Class != "" {
			s.classHistory[player.TokenID] = append(s.classHistory[player.TokenID], match.ClassHistoryEntry{
				Date:  record.MatchDate,
				Class: player.Class,
			})
		}
	}

	switch record.State {
	case match.StateScheduled:
		s.scheduled = append(s.scheduled, record.MatchID)
	case match.StateScored:
		s.scored = append(s.scored, record.MatchID)
	}
}

// LoadCumulative replaces lifetime totals keyed by token. Per-game
// averages are precomputed with safe division: zero games falls back to
// the documented defaults instead of dividing.
func (s *Store) LoadCumulative(rows []CumulativeRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defaults := match.DefaultCareerStats()
	for _, row := range rows {
		if err := s.validate.Struct(row); err != nil {
			continue
		}

		stat := match.CumulativeStat{
			GamesPlayed:  row.GamesPlayedCum,
			Wins:         row.WinsCum,
			Eliminations: row.EliminationsCum,
			Deposits:     row.DepositsCum,
			WartDistance: row.WartDistanceCum,
			AvgElims:     defaults.Elims,
			AvgDeps:      defaults.Deps,
			AvgWart:      defaults.Wart,
		}
		if row.GamesPlayedCum > 0 {
			games := float64(row.GamesPlayedCum)
			stat.AvgElims = row.EliminationsCum / games
			stat.AvgDeps = row.DepositsCum / games
			stat.AvgWart = row.WartDistanceCum / games
		}
		s.cumulative[row.TokenID] = stat
	}

	s.logger.Info("cumulative stats loaded", "tokens", len(s.cumulative))
}

// RebuildAggregates recomputes champion winrates and class matchups
// from scratch over the currently loaded scored matches. Aggregates are
// a pure function of store contents at rebuild time; nothing survives a
// Clear.
func (s *Store) RebuildAggregates() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rebuildChampionWinrates()
	s.rebuildClassMatchups()

	s.logger.Info("aggregates rebuilt",
		"champions", len(s.championWinrates),
		"class_matchups", len(s.classMatchups),
	)
}

func (s *Store) rebuildChampionWinrates() {
	aggregates := make(map[int64]match.ChampionAggregate)

	// Seed name/class from every match, scheduled included, so a
	// champion with zero scored games still resolves.
	for _, record := range s.matches {
		for _, player := range record.Players {
			if !player.IsChampion {
				continue
			}
			agg, ok := aggregates[player.TokenID]
			if !ok {
				agg = match.ChampionAggregate{TokenID: player.TokenID}
			}
			if agg.Name == "" {
				agg.Name = player.Name
				agg.Class = player.Class
			}
			aggregates[player.TokenID] = agg
		}
	}

	for _, matchID := range s.scored {
		record := s.matches[matchID]
		for _, player := range record.Players {
			if !player.IsChampion {
				continue
			}
			agg := aggregates[player.TokenID]
			agg.TokenID = player.TokenID
			agg.Games++
			if record.TeamWon != nil && *record.TeamWon == player.Team {
				agg.Wins++
			}
			// Scored-match roster data wins over the scheduled seed.
			if player.Name != "" {
				agg.Name = player.Name
			}
			if player.Class != "" {
				agg.Class = player.Class
			}
			aggregates[player.TokenID] = agg
		}
	}

	for tokenID, agg := range aggregates {
		if agg.Games > 0 {
			agg.WinPct = round1(100 * float64(agg.Wins) / float64(agg.Games))
		} else {
			agg.WinPct = neutralWinPct
		}
		aggregates[tokenID] = agg
	}

	s.championWinrates = aggregates
}

func (s *Store) rebuildClassMatchups() {
	type tally struct {
		wins  int
		games int
	}
	tallies := make(map[ClassPair]*tally)

	bump := func(pair ClassPair, won bool) {
		row := tallies[pair]
		if row == nil {
			row = &tally{}
			tallies[pair] = row
		}
		row.games++
		if won {
			row.wins++
		}
	}

	for _, matchID := range s.scored {
		record := s.matches[matchID]

		var champions []match.Player
		for _, player := range record.Players {
			if player.IsChampion {
				champions = append(champions, player)
			}
		}
		if len(champions) != 2 {
			continue
		}

		first, second := champions[0], champions[1]
		if first.Team > second.Team {
			first, second = second, first
		}

		// Record both directions off the canonical team ordering so
		// neither direction is double counted.
		firstWon := record.TeamWon != nil && *record.TeamWon == first.Team
		secondWon := record.TeamWon != nil && *record.TeamWon == second.Team
		bump(ClassPair{Mine: first.Class, Opp: second.Class}, firstWon)
		bump(ClassPair{Mine: second.Class, Opp: first.Class}, secondWon)
	}

	matchups := make(map[ClassPair]float64)
	for pair, row := range tallies {
		if row.games < classMatchupMinGames {
			continue
		}
		matchups[pair] = round1(100 * float64(row.wins) / float64(row.games))
	}

	s.classMatchups = matchups
}

// CareerStats returns lifetime per-game averages for a token, or the
// documented defaults when the token is unknown.
func (s *Store) CareerStats(tokenID int64) match.CareerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if stat, ok := s.cumulative[tokenID]; ok {
		return match.CareerStats{Elims: stat.AvgElims, Deps: stat.AvgDeps, Wart: stat.AvgWart}
	}
	return match.DefaultCareerStats()
}

// CareerStatsBefore computes per-game averages over the token's scored
// matches dated strictly before the cutoff. This is the no-look-ahead
// basis for point-in-time analysis: a match dated on or after the
// cutoff is never included.
func (s *Store) CareerStatsBefore(tokenID int64, beforeDate string) match.CareerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var elims, deps, wart float64
	count := 0

	for _, matchID := range s.matchesByToken[tokenID] {
		record, ok := s.matches[matchID]
		if !ok || record.State != match.StateScored || record.MatchDate >= beforeDate {
			continue
		}
		for _, perf := range record.Performances {
			if perf.TokenID != tokenID {
				continue
			}
			elims += perf.Eliminations
			deps += perf.Deposits
			wart += perf.WartDistance
			count++
		}
	}

	if count == 0 {
		return match.DefaultCareerStats()
	}
	n := float64(count)
	return match.CareerStats{Elims: elims / n, Deps: deps / n, Wart: wart / n}
}

// ChampionWinrateBefore computes the token's champion win rate over
// scored matches dated strictly before the cutoff; 50.0 neutral prior
// when no games qualify.
func (s *Store) ChampionWinrateBefore(tokenID int64, beforeDate string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wins, games := 0, 0
	for _, matchID := range s.matchesByToken[tokenID] {
		record, ok := s.matches[matchID]
		if !ok || record.State != match.StateScored || record.MatchDate >= beforeDate {
			continue
		}
		for _, player := range record.Players {
			if player.TokenID != tokenID || !player.IsChampion {
				continue
			}
			games++
			if record.TeamWon != nil && *record.TeamWon == player.Team {
				wins++
			}
			break
		}
	}

	if games == 0 {
		return neutralWinPct
	}
	return round1(100 * float64(wins) / float64(games))
}

// ClassMatchup returns the win rate of myClass against oppClass, or
// 50.0 when the pair is below the sample threshold or unseen.
func (s *Store) ClassMatchup(myClass, oppClass string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pct, ok := s.classMatchups[ClassPair{Mine: myClass, Opp: oppClass}]; ok {
		return pct
	}
	return neutralWinPct
}

// ChampionInfo looks up the rebuilt aggregate row for a champion.
func (s *Store) ChampionInfo(tokenID int64) (match.ChampionAggregate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.championWinrates[tokenID]
	return agg, ok
}

// Champions returns the rebuilt aggregate rows sorted by token id.
func (s *Store) Champions() []match.ChampionAggregate {
	s.mu.RLock()
	out := make([]match.ChampionAggregate, 0, len(s.championWinrates))
	for _, agg := range s.championWinrates {
		out = append(out, agg)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// ClassChanges detects class reassignments: for every token with at
// least two history entries, adjacent date-sorted entries with
// differing non-empty classes emit one event. Events are sorted by
// change date descending.
func (s *Store) ClassChanges() []match.ClassChange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var changes []match.ClassChange
	for tokenID, history := range s.classHistory {
		if len(history) < 2 {
			continue
		}

		sorted := make([]match.ClassHistoryEntry, len(history))
		copy(sorted, history)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

		for i := 1; i < len(sorted); i++ {
			prev, curr := sorted[i-1], sorted[i]
			if prev.Class == curr.Class || prev.Class == "" || curr.Class == "" {
				continue
			}
			name := fmt.Sprintf("#%d", tokenID)
			if agg, ok := s.championWinrates[tokenID]; ok && agg.Name != "" {
				name = agg.Name
			}
			changes = append(changes, match.ClassChange{
				TokenID:        tokenID,
				Name:           name,
				OldClass:       prev.Class,
				NewClass:       curr.Class,
				ChangeDate:     curr.Date,
				LastMatchAsOld: prev.Date,
			})
		}
	}

	sort.SliceStable(changes, func(i, j int) bool { return changes[i].ChangeDate > changes[j].ChangeDate })
	return changes
}

// ScheduledRecords returns copies of scheduled matches in load order.
func (s *Store) ScheduledRecords() []match.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.scheduled)
}

// ScoredRecords returns copies of scored matches in load order.
func (s *Store) ScoredRecords() []match.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.scored)
}

func (s *Store) collect(ids []string) []match.Record {
	out := make([]match.Record, 0, len(ids))
	for _, id := range ids {
		if record, ok := s.matches[id]; ok {
			out = append(out, *record)
		}
	}
	return out
}

// Counts reports collection sizes for health reporting.
func (s *Store) Counts() (matches, scheduled, scored, champions, cumulative int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches), len(s.scheduled), len(s.scored), len(s.championWinrates), len(s.cumulative)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
