package model

import "time"

// ChunkRow is the persisted unit of knowledge: one chunk of an ingested
// document together with its embedding vector.
type ChunkRow struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	ChunkIndex int               `json:"chunk_index"`
	Content    string            `json:"content"`
	Embedding  []float32         `json:"embedding"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ScoredChunk is a chunk returned by similarity search.
type ScoredChunk struct {
	ChunkRow
	Similarity float32 `json:"similarity"`
}
