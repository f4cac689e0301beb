// Package ratelimit caps how often one user may attempt to join a room.
package ratelimit

import (
	"context"

	"github.com/dkeye/Conference/internal/domain"
)

// Limiter answers whether uid may make one more attempt now.
type Limiter interface {
	Allow(ctx context.Context, uid domain.UserID) bool
}
