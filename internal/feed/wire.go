package feed

import "github.com/grandarena/contest-api/internal/domain/match"

// Manifest indexes the partitions currently published by the feed.
// It is refetched each refresh cycle, never persisted.
type Manifest struct {
	Partitions []PartitionRef `json:"partitions"`
}

// PartitionRef points at one dated partition file.
type PartitionRef struct {
	Date string `json:"date" validate:"required"`
	URL  string `json:"url" validate:"required"`
}

// MatchEnvelope is one element of a partition payload: a match summary
// plus its roster and per-participant performance figures.
type MatchEnvelope struct {
	Match        MatchSummary        `json:"match"`
	Players      []match.Player      `json:"players" validate:"dive"`
	Performances []match.Performance `json:"performances" validate:"dive"`
}

type MatchSummary struct {
	MatchID   string  `json:"match_id" validate:"required"`
	MatchDate string  `json:"match_date" validate:"required"`
	TeamWon   *int    `json:"team_won"`
	WinType   *string `json:"win_type"`
	State     string  `json:"state" validate:"oneof=scheduled scored"`
}

// CumulativeRow is one element of the lifetime-totals payload.
type CumulativeRow struct {
	TokenID         int64   `json:"token_id" validate:"gt=0"`
	GamesPlayedCum  int     `json:"games_played_cum"`
	WinsCum         int     `json:"wins_cum"`
	EliminationsCum float64 `json:"eliminations_cum"`
	DepositsCum     float64 `json:"deposits_cum"`
	WartDistanceCum float64 `json:"wart_distance_cum"`
}
