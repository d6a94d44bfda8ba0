package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leighmacdonald/steamid/v4/steamid"

	"github.com/errorparty/backend/internal/db"
	"github.com/errorparty/backend/internal/roster"
)

// ErrInvalidSteamID indicates a link was attempted with a malformed SteamID64.
var ErrInvalidSteamID = errors.New("invalid steam id")

// User is a local account that may be linked to a game-network account.
type User struct {
	ID          string
	DisplayName string
	SteamID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PostgresLinkRepository stores local users and their linked SteamIDs. The linked set is the
// roster's should-link intent.
type PostgresLinkRepository struct {
	pool   db.Pool
	logger *slog.Logger
}

var _ roster.LinkSource = (*PostgresLinkRepository)(nil)

// NewPostgresLinkRepository constructs a link repository backed by PostgreSQL.
func NewPostgresLinkRepository(pool db.Pool, logger *slog.Logger) *PostgresLinkRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLinkRepository{pool: pool, logger: logger}
}

// CreateUser persists a new user. A non-empty SteamID is linked in the same write.
func (r *PostgresLinkRepository) CreateUser(ctx context.Context, user User) error {
	steamID, err := normalizeSteamID(user.SteamID)
	if err != nil {
		return err
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (id, display_name, steam_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
    `, user.ID, user.DisplayName, steamID, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// LinkAccount sets the SteamID linked to userID. An empty steamID unlinks the user.
func (r *PostgresLinkRepository) LinkAccount(ctx context.Context, userID, steamID string) error {
	linked, err := normalizeSteamID(steamID)
	if err != nil {
		return err
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE users
        SET steam_id = $2, updated_at = NOW()
        WHERE id = $1
    `, userID, linked)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "22P02":
				return ErrNotFound
			}
		}
		return fmt.Errorf("link user %s: %w", userID, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListLinks returns every user with a linked SteamID. Rows holding an id that no longer
// validates are skipped with a warning.
func (r *PostgresLinkRepository) ListLinks(ctx context.Context) ([]roster.Link, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id::TEXT, display_name, steam_id
        FROM users
        WHERE steam_id IS NOT NULL
        ORDER BY steam_id
    `)
	if err != nil {
		return nil, fmt.Errorf("query linked users: %w", err)
	}
	defer rows.Close()

	var links []roster.Link
	for rows.Next() {
		var link roster.Link
		if err := rows.Scan(&link.LocalAccountID, &link.DisplayName, &link.ExternalAccountID); err != nil {
			return nil, fmt.Errorf("scan linked user: %w", err)
		}
		if sid := steamid.New(link.ExternalAccountID); !sid.Valid() {
			r.logger.WarnContext(ctx, "skipping user with invalid steam id", "userId", link.LocalAccountID, "steamId", link.ExternalAccountID)
			continue
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked users: %w", err)
	}

	return links, nil
}

func normalizeSteamID(raw string) (*string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	sid := steamid.New(raw)
	if !sid.Valid() {
		return nil, fmt.Errorf("%q: %w", raw, ErrInvalidSteamID)
	}
	id := sid.String()
	return &id, nil
}
