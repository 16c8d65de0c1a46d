package repo

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/jarvis/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres test")
	}
	db, err := Open(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplyMigrations(db, 3))
	_, err = db.Exec("TRUNCATE document_chunks")
	require.NoError(t, err)
	return db
}

func chunkRow(id, docID string, idx int, embedding []float32, createdAt time.Time) *model.ChunkRow {
	return &model.ChunkRow{
		ID:         id,
		DocumentID: docID,
		ChunkIndex: idx,
		Content:    "content " + id,
		Embedding:  embedding,
		Metadata:   map[string]string{"source": "test"},
		CreatedAt:  createdAt,
	}
}

func TestChunkRepoSearch_ThresholdLimitAndOrdering(t *testing.T) {
	db := openTestDB(t)
	repo := NewChunkRepo(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	// exact-a and exact-b match the query exactly, near is at 0.8 cosine
	// similarity, far is orthogonal.
	require.NoError(t, repo.UpsertChunks(ctx, []*model.ChunkRow{
		chunkRow("exact-old", "doc-a", 0, []float32{1, 0, 0}, now.Add(-time.Hour)),
		chunkRow("exact-new", "doc-a", 1, []float32{1, 0, 0}, now),
		chunkRow("near", "doc-b", 0, []float32{0.8, 0.6, 0}, now),
		chunkRow("far", "doc-b", 1, []float32{0, 1, 0}, now),
	}))

	query := []float32{1, 0, 0}

	results, err := repo.Search(ctx, query, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, results, 3, "orthogonal chunk must be filtered by threshold")
	for _, r := range results {
		require.GreaterOrEqual(t, r.Similarity, float32(0.5))
	}
	require.Equal(t, "exact-new", results[0].ID, "equal similarity breaks ties on newer created_at")
	require.Equal(t, "exact-old", results[1].ID)
	require.Equal(t, "near", results[2].ID)
	require.InDelta(t, 1.0, float64(results[0].Similarity), 1e-4)
	require.InDelta(t, 0.8, float64(results[2].Similarity), 1e-4)

	limited, err := repo.Search(ctx, query, 0.0, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "exact-new", limited[0].ID)

	none, err := repo.Search(ctx, query, 0.999, 10)
	require.NoError(t, err)
	require.Len(t, none, 2, "only the exact matches reach a near-1 threshold")
}

func TestChunkRepoUpsert_SameIDUpdates(t *testing.T) {
	db := openTestDB(t)
	repo := NewChunkRepo(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.UpsertChunks(ctx, []*model.ChunkRow{
		chunkRow("c1", "doc-a", 0, []float32{1, 0, 0}, now),
	}))
	updated := chunkRow("c1", "doc-a", 0, []float32{0, 1, 0}, now)
	updated.Content = "rewritten"
	require.NoError(t, repo.UpsertChunks(ctx, []*model.ChunkRow{updated}))

	results, err := repo.Search(ctx, []float32{0, 1, 0}, 0.9, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "c1", results[0].ID)
	require.Equal(t, "rewritten", results[0].Content)
	require.Equal(t, map[string]string{"source": "test"}, results[0].Metadata)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Chunks)
	require.EqualValues(t, 1, stats.Documents)
}

func TestChunkRepoDeleteDocument(t *testing.T) {
	db := openTestDB(t)
	repo := NewChunkRepo(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.UpsertChunks(ctx, []*model.ChunkRow{
		chunkRow("a-0", "doc-a", 0, []float32{1, 0, 0}, now),
		chunkRow("a-1", "doc-a", 1, []float32{0, 1, 0}, now),
		chunkRow("b-0", "doc-b", 0, []float32{0, 0, 1}, now),
	}))

	removed, err := repo.DeleteDocument(ctx, "doc-a")
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	removed, err = repo.DeleteDocument(ctx, "doc-a")
	require.NoError(t, err)
	require.EqualValues(t, 0, removed)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Chunks)
	require.EqualValues(t, 1, stats.Documents)
}
