package embedding

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/wasllot/llm-routing-plane/internal/apperrors"
)

// Hit is one retrieval result: stored content plus its similarity to
// the query, in [0, 1].
type Hit struct {
	ID         int64
	Content    string
	Metadata   map[string]string
	Similarity float64
}

// VectorRepository stores embeddings and finds the ones most similar
// to a query vector, grounded on original_source's EmbeddingRepository
// ABC (save/find_similar/delete).
type VectorRepository interface {
	Save(ctx context.Context, content string, vector []float32, metadata map[string]string) (int64, error)
	FindSimilar(ctx context.Context, query []float32, limit int, threshold float64) ([]Hit, error)
	Delete(ctx context.Context, id int64) error
}

func validateDimension(vector []float32) error {
	if len(vector) != Dimension {
		return apperrors.Validation(fmt.Sprintf("embedding must have dimension %d, got %d", Dimension, len(vector)))
	}
	return nil
}

// InMemoryRepository is a brute-force cosine-similarity repository,
// grounded on agentflow/rag/vector_store.go's InMemoryVectorStore. It
// backs unit tests and small deployments that don't need Postgres.
type InMemoryRepository struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[int64]Hit
	vectors map[int64][]float32
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[int64]Hit),
		vectors: make(map[int64][]float32),
	}
}

func (r *InMemoryRepository) Save(_ context.Context, content string, vector []float32, metadata map[string]string) (int64, error) {
	if err := validateDimension(vector); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.entries[id] = Hit{ID: id, Content: content, Metadata: metadata}
	r.vectors[id] = append([]float32(nil), vector...)
	return id, nil
}

func (r *InMemoryRepository) FindSimilar(_ context.Context, query []float32, limit int, threshold float64) ([]Hit, error) {
	if err := validateDimension(query); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var hits []Hit
	for id, vec := range r.vectors {
		sim := cosineSimilarity(query, vec)
		if sim <= threshold {
			continue
		}
		entry := r.entries[id]
		entry.Similarity = sim
		hits = append(hits, entry)
	}

	// Descending by similarity, ascending id as the tiebreak so
	// results are deterministic.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (r *InMemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	delete(r.vectors, id)
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// PostgresRepository stores embeddings in Postgres using the pgvector
// extension, grounded on original_source's PostgreSQLEmbeddingRepository
// (cosine distance operator, threshold filter, limit). Uses
// database/sql with github.com/lib/pq, matching the teacher pack's
// direct driver usage rather than an ORM.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, content string, vector []float32, metadata map[string]string) (int64, error) {
	if err := validateDimension(vector); err != nil {
		return 0, err
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, apperrors.Validation("invalid metadata: " + err.Error())
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO embeddings (content, embedding, metadata)
		VALUES ($1, $2::vector, $3)
		RETURNING id
	`, content, vectorLiteral(vector), metadataJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save embedding: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) FindSimilar(ctx context.Context, query []float32, limit int, threshold float64) ([]Hit, error) {
	if err := validateDimension(query); err != nil {
		return nil, err
	}
	literal := vectorLiteral(query)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS similarity
		FROM embeddings
		WHERE 1 - (embedding <=> $1::vector) > $2
		ORDER BY (embedding <=> $1::vector) ASC, id ASC
		LIMIT $3
	`, literal, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("find similar: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var hit Hit
		var metadataJSON []byte
		if err := rows.Scan(&hit.ID, &hit.Content, &metadataJSON, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &hit.Metadata)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM embeddings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}

func vectorLiteral(vector []float32) string {
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
