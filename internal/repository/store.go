package repository

import (
	"context"
	"time"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

// IdentityStore persists identities. Implementations return
// domain.ErrIdentityNotFound when an id is unknown and wrap connectivity
// failures in domain.ErrStoreUnavailable.
type IdentityStore interface {
	Insert(ctx context.Context, identity *domain.Identity) error
	// UpdateLastSeen sets last_seen and increments the detection count.
	UpdateLastSeen(ctx context.Context, id string, lastSeen time.Time) error
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	// List returns every identity in registration order.
	List(ctx context.Context) ([]domain.Identity, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context, recentLimit int) (*domain.IdentityStats, error)
	Ping(ctx context.Context) error
}
