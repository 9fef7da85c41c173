package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"video-compiler-service/internal/entity"
)

// DrawingRepository reads approved drawings owned by the submission app.
type DrawingRepository struct {
	pool *pgxpool.Pool
}

func NewDrawingRepository(pool *pgxpool.Pool) *DrawingRepository {
	return &DrawingRepository{pool: pool}
}

// ListApproved returns up to limit approved drawings, oldest first.
func (r *DrawingRepository) ListApproved(ctx context.Context, limit int) ([]entity.Drawing, error) {
	const q = `
SELECT id, image_url, created_at
FROM drawings
WHERE status = 'approved'
ORDER BY created_at ASC, id ASC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list approved drawings: %w", err)
	}
	drawings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Drawing, error) {
		var d entity.Drawing
		err := row.Scan(&d.ID, &d.ImageURL, &d.CreatedAt)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan approved drawings: %w", err)
	}
	return drawings, nil
}

// ProfileRepository resolves user roles.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// RoleOf returns the role of userID, or ErrNotFound when the user has no profile.
func (r *ProfileRepository) RoleOf(ctx context.Context, userID uuid.UUID) (string, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT role FROM profiles WHERE user_id = $1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get role: %w", err)
	}
	return role, nil
}
