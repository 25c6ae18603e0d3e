package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

// IdentityRepository stores identities in PostgreSQL with pgvector
// embeddings.
type IdentityRepository struct {
	pool PgxPool
}

var _ IdentityStore = (*IdentityRepository)(nil)

func NewIdentityRepository(pool PgxPool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

func (r *IdentityRepository) Insert(ctx context.Context, identity *domain.Identity) error {
	query := `
		INSERT INTO identities (id, embedding, first_seen, last_seen, detection_count)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		identity.ID,
		pgvector.NewVector(toFloat32(identity.Embedding)),
		identity.FirstSeen,
		identity.LastSeen,
		identity.DetectionCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdentityExists
		}
		return fmt.Errorf("insert identity: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	return nil
}

func (r *IdentityRepository) UpdateLastSeen(ctx context.Context, id string, lastSeen time.Time) error {
	query := `
		UPDATE identities
		SET last_seen = $2, detection_count = detection_count + 1
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, lastSeen)
	if err != nil {
		return fmt.Errorf("update identity: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	if result.RowsAffected() == 0 {
		return domain.ErrIdentityNotFound
	}

	return nil
}

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	query := `
		SELECT id, embedding, first_seen, last_seen, detection_count
		FROM identities
		WHERE id = $1
	`

	var identity domain.Identity
	var embedding *pgvector.Vector

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&identity.ID,
		&embedding,
		&identity.FirstSeen,
		&identity.LastSeen,
		&identity.DetectionCount,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	if embedding != nil {
		identity.Embedding = toFloat64(embedding.Slice())
	}

	return &identity, nil
}

func (r *IdentityRepository) List(ctx context.Context) ([]domain.Identity, error) {
	query := `
		SELECT id, embedding, first_seen, last_seen, detection_count
		FROM identities
		ORDER BY first_seen, id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", domain.ErrStoreUnavailable.WithError(err))
	}
	defer rows.Close()

	var identities []domain.Identity
	for rows.Next() {
		var identity domain.Identity
		var embedding *pgvector.Vector

		if err := rows.Scan(
			&identity.ID,
			&embedding,
			&identity.FirstSeen,
			&identity.LastSeen,
			&identity.DetectionCount,
		); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}

		if embedding != nil {
			identity.Embedding = toFloat64(embedding.Slice())
		}
		identities = append(identities, identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list identities: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	return identities, nil
}

func (r *IdentityRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM identities WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete identity: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	if result.RowsAffected() == 0 {
		return domain.ErrIdentityNotFound
	}

	return nil
}

func (r *IdentityRepository) Stats(ctx context.Context, recentLimit int) (*domain.IdentityStats, error) {
	var stats domain.IdentityStats

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(detection_count), 0)::bigint FROM identities`,
	).Scan(&stats.TotalIdentities, &stats.TotalDetections)
	if err != nil {
		return nil, fmt.Errorf("count identities: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	query := `
		SELECT id, first_seen, last_seen, detection_count
		FROM identities
		ORDER BY last_seen DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent identities: %w", domain.ErrStoreUnavailable.WithError(err))
	}
	defer rows.Close()

	stats.RecentIdentities = make([]domain.Identity, 0, recentLimit)
	for rows.Next() {
		var identity domain.Identity
		if err := rows.Scan(
			&identity.ID,
			&identity.FirstSeen,
			&identity.LastSeen,
			&identity.DetectionCount,
		); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		stats.RecentIdentities = append(stats.RecentIdentities, identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent identities: %w", domain.ErrStoreUnavailable.WithError(err))
	}

	return &stats, nil
}

func (r *IdentityRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return domain.ErrStoreUnavailable.WithError(err)
	}
	return nil
}
