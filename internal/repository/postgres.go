package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zierocode/FormDee-sub002/internal/domain"
)

// Compile-time interface assertions.
var (
	_ GrantRepository = (*PostgresGrantRepo)(nil)
	_ FormRepository  = (*PostgresFormRepo)(nil)
)

const grantColumns = "id, email, access_token, refresh_token, expires_at, name, picture, created_at, updated_at, last_used_at"

// PostgresGrantRepo implements GrantRepository over pgx.
type PostgresGrantRepo struct {
	pool *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresGrantRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresGrantRepo {
	return &PostgresGrantRepo{pool: pool, node: node}
}

func (r *PostgresGrantRepo) GetByEmail(ctx context.Context, email string) (domain.GoogleGrant, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+grantColumns+" FROM google_grants WHERE email = $1",
		normalizeEmail(email))
	return scanGrant(row)
}

func (r *PostgresGrantRepo) GetByForm(ctx context.Context, formID string) (domain.GoogleGrant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT g.id, g.email, g.access_token, g.refresh_token, g.expires_at, g.name, g.picture, g.created_at, g.updated_at, g.last_used_at
		 FROM google_grants g
		 JOIN forms f ON f.google_grant_id = g.id
		 WHERE f.id = $1`,
		formID)
	return scanGrant(row)
}

func (r *PostgresGrantRepo) MostRecentlyUsed(ctx context.Context) (domain.GoogleGrant, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+grantColumns+" FROM google_grants ORDER BY last_used_at DESC NULLS LAST, updated_at DESC LIMIT 1")
	return scanGrant(row)
}

// Upsert writes the grant keyed by email. The COALESCE(NULLIF(...)) keeps
// the previously stored refresh token when Google omitted one on repeat
// consent.
func (r *PostgresGrantRepo) Upsert(ctx context.Context, grant domain.GoogleGrant) (domain.GoogleGrant, error) {
	id := grant.ID
	if id == 0 {
		id = r.node.Generate().Int64()
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO google_grants (id, email, access_token, refresh_token, expires_at, name, picture, created_at, updated_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now(), now())
		 ON CONFLICT (email) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), google_grants.refresh_token),
			expires_at    = EXCLUDED.expires_at,
			name          = EXCLUDED.name,
			picture       = EXCLUDED.picture,
			updated_at    = now(),
			last_used_at  = now()
		 RETURNING `+grantColumns,
		id, normalizeEmail(grant.Email), grant.AccessToken, grant.RefreshToken,
		grant.ExpiresAt, grant.Name, grant.Picture)
	stored, err := scanGrant(row)
	if err != nil {
		return domain.GoogleGrant{}, fmt.Errorf("upsert grant: %w", err)
	}
	return stored, nil
}

func (r *PostgresGrantRepo) UpdateAccessToken(ctx context.Context, grantID int64, accessToken string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE google_grants SET access_token = $2, expires_at = $3, updated_at = now() WHERE id = $1",
		grantID, accessToken, expiresAt)
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGrantNotFound
	}
	return nil
}

func (r *PostgresGrantRepo) TouchLastUsed(ctx context.Context, grantID int64) error {
	if _, err := r.pool.Exec(ctx,
		"UPDATE google_grants SET last_used_at = now() WHERE id = $1", grantID); err != nil {
		return fmt.Errorf("touch grant: %w", err)
	}
	return nil
}

func (r *PostgresGrantRepo) List(ctx context.Context) ([]domain.GoogleGrant, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+grantColumns+" FROM google_grants ORDER BY last_used_at DESC NULLS LAST, updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []domain.GoogleGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

func (r *PostgresGrantRepo) DeleteByEmail(ctx context.Context, email string) error {
	tag, err := r.pool.Exec(ctx,
		"DELETE FROM google_grants WHERE email = $1", normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGrantNotFound
	}
	return nil
}

func (r *PostgresGrantRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM google_grants"); err != nil {
		return fmt.Errorf("delete all grants: %w", err)
	}
	return nil
}

type grantScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row grantScanner) (domain.GoogleGrant, error) {
	var g domain.GoogleGrant
	err := row.Scan(&g.ID, &g.Email, &g.AccessToken, &g.RefreshToken, &g.ExpiresAt,
		&g.Name, &g.Picture, &g.CreatedAt, &g.UpdatedAt, &g.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GoogleGrant{}, domain.ErrGrantNotFound
		}
		return domain.GoogleGrant{}, fmt.Errorf("scan grant: %w", err)
	}
	return g, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PostgresFormRepo implements FormRepository.
type PostgresFormRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresFormRepo(pool *pgxpool.Pool) *PostgresFormRepo {
	return &PostgresFormRepo{pool: pool}
}

func (r *PostgresFormRepo) GetGrantID(ctx context.Context, formID string) (*int64, error) {
	var grantID *int64
	err := r.pool.QueryRow(ctx,
		"SELECT google_grant_id FROM forms WHERE id = $1", formID).Scan(&grantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrFormNotFound
		}
		return nil, fmt.Errorf("get form grant: %w", err)
	}
	return grantID, nil
}

func (r *PostgresFormRepo) LinkGrant(ctx context.Context, formID string, grantID int64) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE forms SET google_grant_id = $2, updated_at = now() WHERE id = $1",
		formID, grantID)
	if err != nil {
		return fmt.Errorf("link grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFormNotFound
	}
	return nil
}
