// Package matchstats turns the round-indexed match payload returned by the game coordinator
// into per-player totals and derived ratios.
package matchstats

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var (
	// ErrNoRounds indicates the payload carries no round statistics.
	ErrNoRounds = errors.New("match has no rounds")
	// ErrSubjectOutOfRange indicates the requested subject slot has no data in the match.
	ErrSubjectOutOfRange = errors.New("subject slot out of range")
	// ErrMissingScores indicates the final round carries no team scores.
	ErrMissingScores = errors.New("match is missing final team scores")
)

// DefaultMap is used when the coordinator omits the map name.
const DefaultMap = "de_unknown"

// RoundStats is one entry of the coordinator's per-round statistics. Every slice is indexed by
// player slot and holds the value for that round only.
type RoundStats struct {
	RoundResult    int   `json:"round_result"`
	TeamScores     []int `json:"team_scores"`
	Kills          []int `json:"kills"`
	Assists        []int `json:"assists"`
	Deaths         []int `json:"deaths"`
	Scores         []int `json:"scores"`
	EnemyHeadshots []int `json:"enemy_headshots"`
	Damage         []int `json:"damage"`
	Enemy2Ks       []int `json:"enemy_2ks"`
	Enemy3Ks       []int `json:"enemy_3ks"`
	Enemy4Ks       []int `json:"enemy_4ks"`
	Enemy5Ks       []int `json:"enemy_5ks"`
	MVPs           []int `json:"mvps"`
	Clutch1v1      []int `json:"clutch_1v1"`
	Clutch1v2      []int `json:"clutch_1v2"`
	Clutch1v3      []int `json:"clutch_1v3"`
	Clutch1v4      []int `json:"clutch_1v4"`
	Clutch1v5      []int `json:"clutch_1v5"`
}

// RawMatch is a single match as delivered by the coordinator.
type RawMatch struct {
	MatchID   ID           `json:"matchid"`
	MatchTime int64        `json:"matchtime"`
	Map       string       `json:"map"`
	Duration  int          `json:"match_duration"`
	Rounds    []RoundStats `json:"roundstatsall"`
}

// MatchList is the coordinator's match list response. Both share-code lookups and recent
// match queries answer with it.
type MatchList struct {
	Matches []RawMatch `json:"matches"`
}

// Find returns the match with the given id.
func (l MatchList) Find(id uint64) (RawMatch, bool) {
	for _, m := range l.Matches {
		if uint64(m.MatchID) == id {
			return m, true
		}
	}
	return RawMatch{}, false
}

// ID is a 64-bit match id. The coordinator serializes it either as a JSON number or as a
// decimal string depending on the client library.
type ID uint64

// UnmarshalJSON accepts both a bare number and a quoted decimal string.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse match id %q: %w", s, err)
	}
	*id = ID(v)
	return nil
}

// MarshalJSON encodes the id as a decimal string so it survives JavaScript clients.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(id), 10))), nil
}

// PlayerStats holds the totals for one player slot.
type PlayerStats struct {
	Slot        int     `json:"slot"`
	Kills       int     `json:"kills"`
	Deaths      int     `json:"deaths"`
	Assists     int     `json:"assists"`
	Score       int     `json:"score"`
	Headshots   int     `json:"headshots"`
	Damage      int     `json:"damage"`
	MVPs        int     `json:"mvps"`
	Kills2k     int     `json:"kills2k"`
	Kills3k     int     `json:"kills3k"`
	Kills4k     int     `json:"kills4k"`
	Kills5k     int     `json:"kills5k"`
	Clutch1v1   int     `json:"clutch1v1"`
	Clutch1v2   int     `json:"clutch1v2"`
	Clutch1v3   int     `json:"clutch1v3"`
	Clutch1v4   int     `json:"clutch1v4"`
	Clutch1v5   int     `json:"clutch1v5"`
	HeadshotPct float64 `json:"headshotPercentage"`
	ADR         float64 `json:"adr"`
	KD          float64 `json:"kd"`
}

// NormalizedMatch is the result handed to callers and sinks. The embedded PlayerStats are the
// subject player's totals.
type NormalizedMatch struct {
	MatchID      uint64    `json:"matchId,string"`
	PlayedAt     time.Time `json:"playedAt"`
	Map          string    `json:"map"`
	Duration     int       `json:"duration"`
	RoundsPlayed int       `json:"roundsPlayed"`
	RoundsWon    int       `json:"roundsWon"`
	FinalScore   [2]int    `json:"finalScore"`
	IsWin        bool      `json:"isWin"`
	IsDraw       bool      `json:"isDraw"`
	PlayerStats
	Players []PlayerStats `json:"players"`
}

type options struct {
	subjectSlot int
	now         func() time.Time
}

// Option customizes Normalize.
type Option func(*options)

// WithSubjectSlot selects the player slot whose totals populate the match result. Slot 0 is the
// share-code owner in practice, which is the default.
func WithSubjectSlot(slot int) Option {
	return func(o *options) {
		o.subjectSlot = slot
	}
}

// WithClock sets the time used when the payload carries no match time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Normalize aggregates the per-round arrays of raw in a single pass.
func Normalize(raw RawMatch, opts ...Option) (NormalizedMatch, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if len(raw.Rounds) == 0 {
		return NormalizedMatch{}, fmt.Errorf("normalize match %d: %w", raw.MatchID, ErrNoRounds)
	}

	var players []PlayerStats
	for _, round := range raw.Rounds {
		for slot := range round.Kills {
			for len(players) <= slot {
				players = append(players, PlayerStats{Slot: len(players)})
			}
			p := &players[slot]
			p.Kills += at(round.Kills, slot)
			p.Deaths += at(round.Deaths, slot)
			p.Assists += at(round.Assists, slot)
			p.Score += at(round.Scores, slot)
			p.Headshots += at(round.EnemyHeadshots, slot)
			p.Damage += at(round.Damage, slot)
			p.MVPs += at(round.MVPs, slot)
			p.Kills2k += at(round.Enemy2Ks, slot)
			p.Kills3k += at(round.Enemy3Ks, slot)
			p.Kills4k += at(round.Enemy4Ks, slot)
			p.Kills5k += at(round.Enemy5Ks, slot)
			p.Clutch1v1 += at(round.Clutch1v1, slot)
			p.Clutch1v2 += at(round.Clutch1v2, slot)
			p.Clutch1v3 += at(round.Clutch1v3, slot)
			p.Clutch1v4 += at(round.Clutch1v4, slot)
			p.Clutch1v5 += at(round.Clutch1v5, slot)
		}
	}

	if o.subjectSlot < 0 || o.subjectSlot >= len(players) {
		return NormalizedMatch{}, fmt.Errorf("normalize match %d: slot %d of %d: %w",
			raw.MatchID, o.subjectSlot, len(players), ErrSubjectOutOfRange)
	}

	last := raw.Rounds[len(raw.Rounds)-1]
	if len(last.TeamScores) < 2 {
		return NormalizedMatch{}, fmt.Errorf("normalize match %d: %w", raw.MatchID, ErrMissingScores)
	}

	rounds := len(raw.Rounds)
	for i := range players {
		derive(&players[i], rounds)
	}

	// The first half of the slots play for the first team.
	team, other := 0, 1
	if o.subjectSlot >= (len(players)+1)/2 {
		team, other = 1, 0
	}

	playedAt := o.now().UTC()
	if raw.MatchTime > 0 {
		playedAt = time.Unix(raw.MatchTime, 0).UTC()
	}
	mapName := raw.Map
	if mapName == "" {
		mapName = DefaultMap
	}

	return NormalizedMatch{
		MatchID:      uint64(raw.MatchID),
		PlayedAt:     playedAt,
		Map:          mapName,
		Duration:     raw.Duration,
		RoundsPlayed: rounds,
		RoundsWon:    last.TeamScores[team],
		FinalScore:   [2]int{last.TeamScores[0], last.TeamScores[1]},
		IsWin:        last.TeamScores[team] > last.TeamScores[other],
		IsDraw:       last.TeamScores[team] == last.TeamScores[other],
		PlayerStats:  players[o.subjectSlot],
		Players:      players,
	}, nil
}

func derive(p *PlayerStats, rounds int) {
	if p.Kills > 0 {
		p.HeadshotPct = round2(float64(p.Headshots) / float64(p.Kills) * 100)
	}
	if rounds > 0 {
		p.ADR = round2(float64(p.Damage) / float64(rounds))
	}
	if p.Deaths > 0 {
		p.KD = round2(float64(p.Kills) / float64(p.Deaths))
	} else {
		p.KD = float64(p.Kills)
	}
}

func at(values []int, i int) int {
	if i < len(values) {
		return values[i]
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
