package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// Directory reads the premium tier from user_tiers. Unknown users are
// standard tier.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory creates a Directory backed by pool.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) IsPremium(ctx context.Context, userID string) (bool, error) {
	var premium bool
	err := d.pool.QueryRow(ctx, `SELECT premium FROM user_tiers WHERE user_id = $1`, userID).Scan(&premium)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("postgres: user tier %s: %w", userID, err)
	}
	return premium, nil
}

// SetPremium upserts a user's tier.
func (d *Directory) SetPremium(ctx context.Context, userID string, premium bool) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO user_tiers (user_id, premium, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET premium = EXCLUDED.premium, updated_at = NOW()`,
		userID, premium)
	if err != nil {
		return fmt.Errorf("postgres: set user tier %s: %w", userID, err)
	}
	return nil
}

var _ domain.UserDirectory = (*Directory)(nil)
