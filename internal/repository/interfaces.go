package repository

import (
	"context"
	"time"

	"github.com/zierocode/FormDee-sub002/internal/domain"
)

// GrantRepository persists Google grants, one row per account email. All
// operations are single-row keyed reads or writes; concurrent upserts for
// the same email are last-write-wins by design.
type GrantRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.GoogleGrant, error)
	GetByForm(ctx context.Context, formID string) (domain.GoogleGrant, error)
	// MostRecentlyUsed returns the grant with the newest lastUsedAt, nulls
	// last, tie-broken by updatedAt. Backs the linkage fallback policy.
	MostRecentlyUsed(ctx context.Context) (domain.GoogleGrant, error)
	// Upsert inserts or updates the grant keyed by email. A stored refresh
	// token survives an upsert whose RefreshToken is empty.
	Upsert(ctx context.Context, grant domain.GoogleGrant) (domain.GoogleGrant, error)
	UpdateAccessToken(ctx context.Context, grantID int64, accessToken string, expiresAt time.Time) error
	TouchLastUsed(ctx context.Context, grantID int64) error
	List(ctx context.Context) ([]domain.GoogleGrant, error)
	DeleteByEmail(ctx context.Context, email string) error
	DeleteAll(ctx context.Context) error
}

// FormRepository owns the form→grant link column.
type FormRepository interface {
	GetGrantID(ctx context.Context, formID string) (*int64, error)
	// LinkGrant overwrites the form's grant reference. Re-linking never
	// deletes the previous grant; grants may be shared by many forms.
	LinkGrant(ctx context.Context, formID string, grantID int64) error
}
