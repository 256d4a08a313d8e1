package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

// ScoredEntity is one vector search hit with its cosine similarity.
type ScoredEntity struct {
	EntityType models.EntityType
	EntityID   int64
	Similarity float64
}

// GetEmbedding returns the stored embedding row for one entity, or
// ErrNotFound. The vector itself is not loaded.
func (s *Store) GetEmbedding(ctx context.Context, entityType models.EntityType, entityID int64) (*models.Embedding, error) {
	var e models.Embedding
	err := s.db.QueryRow(ctx, `
		SELECT id, entity_type, entity_id, content_hash, created_at
		FROM embeddings
		WHERE entity_type = $1 AND entity_id = $2`, entityType, entityID).Scan(
		&e.ID, &e.EntityType, &e.EntityID, &e.ContentHash, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query embedding: %w", err)
	}
	return &e, nil
}

// ContentHashes returns entity_id -> content_hash for one entity type,
// letting the reindexer skip unchanged rows without per-row queries.
func (s *Store) ContentHashes(ctx context.Context, entityType models.EntityType, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT entity_id, content_hash FROM embeddings
		WHERE entity_type = $1 AND entity_id = ANY($2)`, entityType, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query content hashes: %w", err)
	}
	defer rows.Close()
	out := map[int64]string{}
	for rows.Next() {
		var id int64
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan content hash: %w", err)
		}
		out[id] = hash
	}
	return out, rows.Err()
}

// UpsertEmbedding writes a vector for one entity, replacing any previous
// vector and hash.
func (s *Store) UpsertEmbedding(ctx context.Context, entityType models.EntityType, entityID int64, contentHash string, vector []float32) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO embeddings (entity_type, entity_id, content_hash, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_type, entity_id) DO UPDATE
		SET content_hash = EXCLUDED.content_hash,
			embedding = EXCLUDED.embedding,
			created_at = now()`,
		entityType, entityID, contentHash, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

// DeleteEmbedding removes an entity's vector. Missing rows are not an error.
func (s *Store) DeleteEmbedding(ctx context.Context, entityType models.EntityType, entityID int64) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM embeddings WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

// VectorSearch returns the entities of the given types most similar to the
// query vector, best first, keeping only hits at or above threshold.
func (s *Store) VectorSearch(ctx context.Context, vector []float32, entityTypes []models.EntityType, threshold float64, limit int) ([]ScoredEntity, error) {
	types := make([]string, len(entityTypes))
	for i, t := range entityTypes {
		types[i] = string(t)
	}
	rows, err := s.db.Query(ctx, `
		SELECT entity_type, entity_id, 1 - (embedding <=> $1) AS similarity
		FROM embeddings
		WHERE entity_type = ANY($2)
		AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4`, pgvector.NewVector(vector), types, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()
	var out []ScoredEntity
	for rows.Next() {
		var e ScoredEntity
		if err := rows.Scan(&e.EntityType, &e.EntityID, &e.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEmbeddings counts stored vectors per entity type.
func (s *Store) CountEmbeddings(ctx context.Context) (map[models.EntityType]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT entity_type, count(*) FROM embeddings GROUP BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}
	defer rows.Close()
	out := map[models.EntityType]int{}
	for rows.Next() {
		var t models.EntityType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan embedding count: %w", err)
		}
		out[t] = n
	}
	return out, rows.Err()
}
