package embedding

import (
	"context"
	"testing"
)

func vec(values ...float32) []float32 {
	v := make([]float32, Dimension)
	copy(v, values)
	return v
}

func TestInMemoryRepository_SaveRejectsWrongDimension(t *testing.T) {
	repo := NewInMemoryRepository()
	_, err := repo.Save(context.Background(), "hi", []float32{1, 2, 3}, nil)
	if err == nil {
		t.Fatal("expected an error for a non-1536-length vector")
	}
}

func TestInMemoryRepository_FindSimilarOrdersByScoreThenID(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	a := vec(1, 0, 0)
	b := vec(1, 0, 0) // identical to a, should tie and sort by ascending id
	c := vec(0, 1, 0) // orthogonal, similarity 0

	idA, _ := repo.Save(ctx, "doc-a", a, nil)
	idB, _ := repo.Save(ctx, "doc-b", b, nil)
	_, _ = repo.Save(ctx, "doc-c", c, nil)

	hits, err := repo.FindSimilar(ctx, vec(1, 0, 0), 10, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits above threshold, got %d", len(hits))
	}
	if hits[0].ID != idA || hits[1].ID != idB {
		t.Errorf("expected ascending-id tiebreak [%d %d], got [%d %d]", idA, idB, hits[0].ID, hits[1].ID)
	}
}

func TestInMemoryRepository_FindSimilarRespectsThreshold(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	_, _ = repo.Save(ctx, "orthogonal", vec(0, 1, 0), nil)

	hits, err := repo.FindSimilar(ctx, vec(1, 0, 0), 10, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits below threshold, got %d", len(hits))
	}
}

func TestInMemoryRepository_FindSimilarRespectsLimit(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = repo.Save(ctx, "doc", vec(1, 0, 0), nil)
	}

	hits, err := repo.FindSimilar(ctx, vec(1, 0, 0), 2, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("expected limit of 2 results, got %d", len(hits))
	}
}

func TestInMemoryRepository_DeleteRemovesEntry(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	id, _ := repo.Save(ctx, "doc", vec(1, 0, 0), nil)

	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hits, _ := repo.FindSimilar(ctx, vec(1, 0, 0), 10, -1)
	if len(hits) != 0 {
		t.Errorf("expected deleted entry to be absent, got %d hits", len(hits))
	}
}

func TestInMemoryRepository_DeleteIsIdempotent(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	id, _ := repo.Save(ctx, "doc", vec(1, 0, 0), nil)

	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("first delete: unexpected error: %v", err)
	}
	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("second delete: unexpected error: %v", err)
	}
	hits, _ := repo.FindSimilar(ctx, vec(1, 0, 0), 10, -1)
	if len(hits) != 0 {
		t.Errorf("expected no hits after two deletes, got %d", len(hits))
	}
}
