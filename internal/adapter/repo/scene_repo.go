package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sceneforge/internal/domain"
)

// SceneRepositoryPG implements domain.SceneRepository.
type SceneRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewSceneRepository creates a scene repository backed by PostgreSQL.
func NewSceneRepository(pool *pgxpool.Pool) *SceneRepositoryPG {
	return &SceneRepositoryPG{pool: pool}
}

// Save upserts the scene document for a key.
func (r *SceneRepositoryPG) Save(ctx context.Context, key string, doc json.RawMessage) error {
	query := `
INSERT INTO scenes (key, document, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, query, key, doc); err != nil {
		return fmt.Errorf("save scene %q: %w", key, err)
	}
	return nil
}

// Get fetches a scene snapshot by key.
func (r *SceneRepositoryPG) Get(ctx context.Context, key string) (*domain.SceneSnapshot, error) {
	query := `
SELECT key, document, updated_at
FROM scenes
WHERE key = $1;
`
	var snapshot domain.SceneSnapshot
	row := r.pool.QueryRow(ctx, query, key)
	if err := row.Scan(&snapshot.Key, &snapshot.Document, &snapshot.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get scene %q: %w", key, err)
	}
	return &snapshot, nil
}

var _ domain.SceneRepository = (*SceneRepositoryPG)(nil)
