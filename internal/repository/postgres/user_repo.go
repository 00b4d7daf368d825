package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"junction-backend/internal/domain"
)

// UserRepository reads display profiles from the "user" table
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetProfile returns the name and image of userID.
// An unknown user yields a nil profile and no error.
func (r *UserRepository) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	query := `SELECT name, image FROM "user" WHERE id = $1`

	profile := &domain.Profile{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(&profile.Name, &profile.Image)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return profile, nil
}
