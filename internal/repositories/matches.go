package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/errorparty/backend/internal/coordinator"
	"github.com/errorparty/backend/internal/db"
	"github.com/errorparty/backend/internal/matchstats"
)

// PostgresMatchRepository stores normalized matches. A match is keyed by its id and the
// roster member it was synced for; share-code lookups use an empty account id.
type PostgresMatchRepository struct {
	pool db.Pool
}

// NewPostgresMatchRepository constructs a match repository backed by PostgreSQL.
func NewPostgresMatchRepository(pool db.Pool) *PostgresMatchRepository {
	return &PostgresMatchRepository{pool: pool}
}

// SaveMatch inserts the match or refreshes a previously stored copy.
func (r *PostgresMatchRepository) SaveMatch(ctx context.Context, rec coordinator.MatchRecord) error {
	m := rec.Match
	stats, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode match %d: %w", m.MatchID, err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO cs2_matches (
            match_id, account_id, source, share_code, played_at, map, duration_seconds,
            rounds_played, rounds_won, score_own, score_enemy, is_win, is_draw,
            kills, deaths, assists, headshot_pct, adr, stats
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
        ON CONFLICT (match_id, account_id) DO UPDATE SET
            source = excluded.source,
            share_code = CASE WHEN excluded.share_code = '' THEN cs2_matches.share_code ELSE excluded.share_code END,
            played_at = excluded.played_at,
            map = excluded.map,
            duration_seconds = excluded.duration_seconds,
            rounds_played = excluded.rounds_played,
            rounds_won = excluded.rounds_won,
            score_own = excluded.score_own,
            score_enemy = excluded.score_enemy,
            is_win = excluded.is_win,
            is_draw = excluded.is_draw,
            kills = excluded.kills,
            deaths = excluded.deaths,
            assists = excluded.assists,
            headshot_pct = excluded.headshot_pct,
            adr = excluded.adr,
            stats = excluded.stats,
            recorded_at = NOW()
    `,
		strconv.FormatUint(m.MatchID, 10), rec.AccountID, string(rec.Source), rec.ShareCode,
		m.PlayedAt, m.Map, m.Duration,
		m.RoundsPlayed, m.RoundsWon, m.FinalScore[0], m.FinalScore[1], m.IsWin, m.IsDraw,
		m.Kills, m.Deaths, m.Assists, m.HeadshotPct, m.ADR, stats,
	)
	if err != nil {
		return fmt.Errorf("upsert match %d: %w", m.MatchID, err)
	}

	return nil
}

// ListForAccount returns the most recent stored matches for accountID, newest first.
func (r *PostgresMatchRepository) ListForAccount(ctx context.Context, accountID string, limit int) ([]matchstats.NormalizedMatch, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT stats
        FROM cs2_matches
        WHERE account_id = $1
        ORDER BY played_at DESC, match_id DESC
        LIMIT $2
    `, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query matches for %s: %w", accountID, err)
	}
	defer rows.Close()

	var matches []matchstats.NormalizedMatch
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		var m matchstats.NormalizedMatch
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode stored match: %w", err)
		}
		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}

	return matches, nil
}

// FindByID returns a stored match by id regardless of which account it was synced for.
func (r *PostgresMatchRepository) FindByID(ctx context.Context, matchID uint64) (matchstats.NormalizedMatch, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return matchstats.NormalizedMatch{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var raw []byte
	err = conn.QueryRow(ctx, `
        SELECT stats FROM cs2_matches WHERE match_id = $1 ORDER BY recorded_at DESC LIMIT 1
    `, strconv.FormatUint(matchID, 10)).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return matchstats.NormalizedMatch{}, ErrNotFound
		}
		return matchstats.NormalizedMatch{}, fmt.Errorf("select match %d: %w", matchID, err)
	}

	var m matchstats.NormalizedMatch
	if err := json.Unmarshal(raw, &m); err != nil {
		return matchstats.NormalizedMatch{}, fmt.Errorf("decode stored match %d: %w", matchID, err)
	}
	return m, nil
}
