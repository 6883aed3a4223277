// Package connections persists provider account credentials and token state.
// Connection CRUD itself lives in an external admin surface; the sync engine
// only reads connections and rotates their token fields.
package connections

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attendlens/backend/internal/models"
)

// Repository handles connection persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a connections repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a connection by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	const q = `SELECT id, name, auth_kind, client_id, client_secret, account_id, refresh_token,
		access_token, token_expires_at, status, status_reason, created_at, updated_at
		FROM connections WHERE id = $1`
	var c models.Connection
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Name, &c.AuthKind, &c.ClientID, &c.ClientSecret,
		&c.AccountID, &c.RefreshToken, &c.AccessToken, &c.TokenExpiresAt, &c.Status, &c.StatusReason,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateToken persists a rotated access token (and refresh token, when the
// provider rotated one) and marks the connection active again.
func (r *Repository) UpdateToken(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	const q = `UPDATE connections SET access_token = $1, refresh_token = $2, token_expires_at = $3,
		status = 'active', status_reason = '', updated_at = NOW() WHERE id = $4`
	_, err := r.pool.Exec(ctx, q, accessToken, refreshToken, expiresAt, id)
	return err
}

// MarkStatus sets connection status with a reason (e.g. expired after a
// failed refresh).
func (r *Repository) MarkStatus(ctx context.Context, id uuid.UUID, status, reason string) error {
	const q = `UPDATE connections SET status = $1, status_reason = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, status, reason, id)
	return err
}
