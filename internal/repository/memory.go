package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

// MemoryIdentityRepository keeps identities in process memory. It backs the
// "memory" store driver and the unit tests of the matcher and API.
type MemoryIdentityRepository struct {
	mu         sync.RWMutex
	identities map[string]domain.Identity
	order      []string
}

var _ IdentityStore = (*MemoryIdentityRepository)(nil)

func NewMemoryIdentityRepository() *MemoryIdentityRepository {
	return &MemoryIdentityRepository{
		identities: make(map[string]domain.Identity),
	}
}

func (r *MemoryIdentityRepository) Insert(_ context.Context, identity *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.identities[identity.ID]; ok {
		return domain.ErrIdentityExists
	}

	r.identities[identity.ID] = cloneIdentity(*identity)
	r.order = append(r.order, identity.ID)
	return nil
}

func (r *MemoryIdentityRepository) UpdateLastSeen(_ context.Context, id string, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.identities[id]
	if !ok {
		return domain.ErrIdentityNotFound
	}

	identity.LastSeen = lastSeen
	identity.DetectionCount++
	r.identities[id] = identity
	return nil
}

func (r *MemoryIdentityRepository) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identities[id]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}

	out := cloneIdentity(identity)
	return &out, nil
}

func (r *MemoryIdentityRepository) List(_ context.Context) ([]domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.order, func(id string, _ int) domain.Identity {
		return cloneIdentity(r.identities[id])
	}), nil
}

func (r *MemoryIdentityRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.identities[id]; !ok {
		return domain.ErrIdentityNotFound
	}

	delete(r.identities, id)
	r.order = lo.Without(r.order, id)
	return nil
}

func (r *MemoryIdentityRepository) Stats(_ context.Context, recentLimit int) (*domain.IdentityStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := lo.Values(r.identities)
	slices.SortStableFunc(all, func(a, b domain.Identity) int {
		return b.LastSeen.Compare(a.LastSeen)
	})

	recent := lo.Map(lo.Subset(all, 0, uint(max(recentLimit, 0))), func(identity domain.Identity, _ int) domain.Identity {
		identity.Embedding = nil
		return identity
	})

	return &domain.IdentityStats{
		TotalIdentities: int64(len(all)),
		TotalDetections: lo.SumBy(all, func(identity domain.Identity) int64 {
			return identity.DetectionCount
		}),
		RecentIdentities: recent,
	}, nil
}

func (r *MemoryIdentityRepository) Ping(context.Context) error {
	return nil
}

func cloneIdentity(identity domain.Identity) domain.Identity {
	identity.Embedding = slices.Clone(identity.Embedding)
	return identity
}
