package recommend

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/newsrec/internal/model"
	"github.com/hitoshi/newsrec/internal/repository"
)

func TestVectorStore_Vectors(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	seed(t, mem,
		&model.Article{ID: "ready", EmbeddingVector: []float64{1, 2}, TFIDFVector: []float64{3, 4}},
		&model.Article{ID: "pending"},
	)
	store := NewVectorStore(mem)

	embedding, tfidf, err := store.Vectors(ctx, "ready")
	if err != nil {
		t.Fatalf("Vectors(ready): %v", err)
	}
	if len(embedding) != 2 || tfidf[1] != 4 {
		t.Errorf("Vectors(ready) = %v, %v", embedding, tfidf)
	}

	if _, _, err := store.Vectors(ctx, "pending"); !errors.Is(err, model.ErrVectorUnavailable) {
		t.Errorf("Vectors(pending) error = %v, want ErrVectorUnavailable", err)
	}
	if _, _, err := store.Vectors(ctx, "missing"); !errors.Is(err, model.ErrArticleNotFound) {
		t.Errorf("Vectors(missing) error = %v, want ErrArticleNotFound", err)
	}
}

func TestVectorStore_StoreVectors(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	seed(t, mem, &model.Article{ID: "a1", Text: "本文"})
	store := NewVectorStore(mem)

	applied, err := store.StoreVectors(ctx, "a1", "本文", []float64{1}, []float64{2})
	if err != nil {
		t.Fatalf("StoreVectors: %v", err)
	}
	if !applied {
		t.Fatal("StoreVectors が保存しなかった")
	}
	embedding, tfidf, err := store.Vectors(ctx, "a1")
	if err != nil {
		t.Fatalf("Vectors: %v", err)
	}
	if embedding[0] != 1 || tfidf[0] != 2 {
		t.Errorf("Vectors = %v, %v; want [1], [2]", embedding, tfidf)
	}
}

func TestVectorStore_StoreVectors_TextChanged(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	seed(t, mem, &model.Article{ID: "a1", Text: "新しい本文"})
	store := NewVectorStore(mem)

	applied, err := store.StoreVectors(ctx, "a1", "古い本文", []float64{1}, []float64{2})
	if err != nil {
		t.Fatalf("StoreVectors: %v", err)
	}
	if applied {
		t.Error("本文が変わった記事にベクトルが保存された")
	}
	if _, _, err := store.Vectors(ctx, "a1"); !errors.Is(err, model.ErrVectorUnavailable) {
		t.Errorf("Vectors error = %v, want ErrVectorUnavailable", err)
	}

	if _, err := store.StoreVectors(ctx, "missing", "x", []float64{1}, []float64{2}); !errors.Is(err, model.ErrArticleNotFound) {
		t.Errorf("StoreVectors(missing) error = %v, want ErrArticleNotFound", err)
	}
}
