package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/jarvis/internal/model"
	"github.com/xxxsen/jarvis/internal/pkg/dbutil"
	"github.com/xxxsen/jarvis/internal/pkg/errs"
)

const chunkUpsertSuffix = " ON CONFLICT (id) DO UPDATE SET" +
	" document_id = EXCLUDED.document_id," +
	" chunk_index = EXCLUDED.chunk_index," +
	" content = EXCLUDED.content," +
	" embedding = EXCLUDED.embedding," +
	" metadata = EXCLUDED.metadata"

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// UpsertChunks writes a document's chunks in one transaction so a failure
// partway through an ingestion leaves nothing behind.
func (r *ChunkRepo) UpsertChunks(ctx context.Context, chunks []*model.ChunkRow) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBErr(err)
	}
	defer tx.Rollback()

	for _, chunk := range chunks {
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("encode chunk metadata: %w", err)
		}
		data := map[string]interface{}{
			"id":          chunk.ID,
			"document_id": chunk.DocumentID,
			"chunk_index": chunk.ChunkIndex,
			"content":     chunk.Content,
			"embedding":   pgvector.NewVector(chunk.Embedding),
			"metadata":    meta,
			"created_at":  chunk.CreatedAt,
		}
		sqlStr, args, err := builder.BuildInsert("document_chunks", []map[string]interface{}{data})
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr+chunkUpsertSuffix, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return wrapDBErr(err)
		}
	}
	return wrapDBErr(tx.Commit())
}

// Search returns the chunks most similar to the query embedding, cosine
// similarity at or above the threshold, best match first.
func (r *ChunkRepo) Search(ctx context.Context, embedding []float32, threshold float32, limit int) ([]*model.ScoredChunk, error) {
	const query = `
		SELECT id, document_id, chunk_index, content, metadata, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM document_chunks
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY similarity DESC, created_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, pgvector.NewVector(embedding), threshold, limit)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	var results []*model.ScoredChunk
	for rows.Next() {
		var item model.ScoredChunk
		var meta []byte
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.ChunkIndex, &item.Content,
			&meta, &item.CreatedAt, &item.Similarity); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &item.Metadata); err != nil {
				return nil, fmt.Errorf("decode chunk metadata: %w", err)
			}
		}
		results = append(results, &item)
	}
	return results, rows.Err()
}

// DeleteDocument removes every chunk of a document and reports how many
// chunks were removed.
func (r *ChunkRepo) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	where := map[string]interface{}{
		"document_id": documentID,
	}
	sqlStr, args, err := builder.BuildDelete("document_chunks", where)
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, wrapDBErr(err)
	}
	return res.RowsAffected()
}

type StoreStats struct {
	Chunks    int64
	Documents int64
	OldestAt  *time.Time
	NewestAt  *time.Time
}

func (r *ChunkRepo) Stats(ctx context.Context) (*StoreStats, error) {
	const query = `
		SELECT COUNT(*), COUNT(DISTINCT document_id), MIN(created_at), MAX(created_at)
		FROM document_chunks
	`
	var stats StoreStats
	var oldest, newest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query).Scan(&stats.Chunks, &stats.Documents, &oldest, &newest); err != nil {
		return nil, wrapDBErr(err)
	}
	if oldest.Valid {
		stats.OldestAt = &oldest.Time
	}
	if newest.Valid {
		stats.NewestAt = &newest.Time
	}
	return &stats, nil
}

func (r *ChunkRepo) Ping(ctx context.Context) error {
	return wrapDBErr(r.db.PingContext(ctx))
}

func wrapDBErr(err error) error {
	if err == nil {
		return nil
	}
	if dbutil.IsConnectivity(err) {
		return fmt.Errorf("%w: vector store: %v", errs.ErrConnectivity, err)
	}
	return err
}
