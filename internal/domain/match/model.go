package match

const (
	StateScheduled = "scheduled"
	StateScored    = "scored"
)

// Player is one participant entry on a match roster.
type Player struct {
	TokenID    int64  `json:"token_id" validate:"gt=0"`
	Name       string `json:"name"`
	Class      string `json:"class"`
	Team       int    `json:"team"`
	IsChampion bool   `json:"is_champion"`
}

// Performance carries one participant's per-match counters.
type Performance struct {
	TokenID      int64   `json:"token_id" validate:"gt=0"`
	Eliminations float64 `json:"eliminations"`
	Deposits     float64 `json:"deposits"`
	WartDistance float64 `json:"wart_distance"`
}

// Record is a normalized match. Records are immutable once stored:
// loading never updates an existing match id.
type Record struct {
	MatchID      string
	MatchDate    string
	TeamWon      *int
	WinType      *string
	State        string
	Players      []Player
	Performances []Performance
}

// CumulativeStat holds lifetime totals for one token plus precomputed
// per-game averages.
type CumulativeStat struct {
	GamesPlayed  int
	Wins         int
	Eliminations float64
	Deposits     float64
	WartDistance float64
	AvgElims     float64
	AvgDeps      float64
	AvgWart      float64
}

// CareerStats are per-game averages consumed by scoring.
type CareerStats struct {
	Elims float64 `json:"elims"`
	Deps  float64 `json:"deps"`
	Wart  float64 `json:"wart"`
}

// DefaultCareerStats is the baseline substituted for unknown tokens.
// Downstream scoring depends on these exact values.
func DefaultCareerStats() CareerStats {
	return CareerStats{Elims: 1.0, Deps: 1.5, Wart: 0.0}
}

// ChampionAggregate is the rebuilt per-champion winrate row.
type ChampionAggregate struct {
	TokenID int64
	Name    string
	Class   string
	Games   int
	Wins    int
	WinPct  float64
}

// ClassHistoryEntry records the class a champion fielded on a given date.
type ClassHistoryEntry struct {
	Date  string
	Class string
}

// ClassChange is one detected class reassignment event.
type ClassChange struct {
	TokenID        int64  `json:"token_id"`
	Name           string `json:"name"`
	OldClass       string `json:"old_class"`
	NewClass       string `json:"new_class"`
	ChangeDate     string `json:"change_date"`
	LastMatchAsOld string `json:"last_match_as_old"`
}
