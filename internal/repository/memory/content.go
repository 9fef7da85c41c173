package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"video-compiler-service/internal/entity"
)

// Content serves a fixed list of approved drawings, already oldest first.
type Content struct {
	Drawings []entity.Drawing

	mu     sync.Mutex
	limits []int
}

func (c *Content) ListApproved(_ context.Context, limit int) ([]entity.Drawing, error) {
	c.mu.Lock()
	c.limits = append(c.limits, limit)
	c.mu.Unlock()
	if limit > len(c.Drawings) {
		limit = len(c.Drawings)
	}
	return append([]entity.Drawing(nil), c.Drawings[:limit]...), nil
}

// Limits returns the limit of every ListApproved call.
func (c *Content) Limits() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.limits...)
}

// Roles maps user ids to roles.
type Roles map[uuid.UUID]string

func (r Roles) RoleOf(_ context.Context, userID uuid.UUID) (string, error) {
	role, ok := r[userID]
	if !ok {
		return "", entity.ErrNotFound
	}
	return role, nil
}
