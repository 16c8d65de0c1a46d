// Package service orchestrates the retrieval-augmented generation pipeline:
// ingestion (chunk, embed, store), retrieval and chat generation.
package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jarvis/internal/ai"
	"github.com/xxxsen/jarvis/internal/chunker"
	"github.com/xxxsen/jarvis/internal/extract"
	"github.com/xxxsen/jarvis/internal/filestore"
	"github.com/xxxsen/jarvis/internal/history"
	"github.com/xxxsen/jarvis/internal/model"
	"github.com/xxxsen/jarvis/internal/pkg/errs"
	"github.com/xxxsen/jarvis/internal/repo"
)

// ChunkStore is the vector store surface the pipeline needs.
type ChunkStore interface {
	UpsertChunks(ctx context.Context, chunks []*model.ChunkRow) error
	Search(ctx context.Context, embedding []float32, threshold float32, limit int) ([]*model.ScoredChunk, error)
	DeleteDocument(ctx context.Context, documentID string) (int64, error)
	Stats(ctx context.Context) (*repo.StoreStats, error)
	Ping(ctx context.Context) error
}

// Options carry the tunable pipeline defaults.
type Options struct {
	SimilarityThreshold float32
	MaxSearchResults    int
	MaxHistory          int
	DefaultTemperature  float64
	DefaultMaxTokens    int
	ResponseCacheSize   int
	ResponseCacheTTL    time.Duration
}

type ChatRequest struct {
	Message        string
	ConversationID string
	Temperature    *float64
	MaxTokens      *int
	UseContext     *bool
}

type ChatResult struct {
	Response       string
	ConversationID string
	TokensUsed     int
	ContextUsed    bool
	Cached         bool
}

type SearchResult struct {
	Text       string
	Score      float32
	Source     string
	DocumentID string
	ChunkIndex int
}

type Status struct {
	LLMModel            string
	LLMAvailable        bool
	EmbeddingModel      string
	EmbeddingDimension  int
	StoreHealthy        bool
	Documents           int64
	Chunks              int64
	ActiveConversations int
	CachedResponses     int
}

type cachedAnswer struct {
	response    string
	tokensUsed  int
	contextUsed bool
}

type RAGService struct {
	chunker   *chunker.Chunker
	embedder  ai.Embedder
	generator ai.Generator
	store     ChunkStore
	history   history.Store
	files     filestore.Store
	cache     *expirable.LRU[string, cachedAnswer]
	opts      Options
}

func NewRAGService(chk *chunker.Chunker, embedder ai.Embedder, generator ai.Generator,
	store ChunkStore, hist history.Store, files filestore.Store, opts Options) *RAGService {
	var cache *expirable.LRU[string, cachedAnswer]
	if opts.ResponseCacheSize > 0 && opts.ResponseCacheTTL > 0 {
		cache = expirable.NewLRU[string, cachedAnswer](opts.ResponseCacheSize, nil, opts.ResponseCacheTTL)
	}
	return &RAGService{
		chunker:   chk,
		embedder:  embedder,
		generator: generator,
		store:     store,
		history:   hist,
		files:     files,
		cache:     cache,
		opts:      opts,
	}
}

// AddText chunks, embeds and stores a document. The three steps run as one
// unit: any failure aborts the whole ingestion and nothing is written.
func (s *RAGService) AddText(ctx context.Context, text string, metadata map[string]string) (string, int, error) {
	if strings.TrimSpace(text) == "" {
		return "", 0, fmt.Errorf("%w: text content is empty", errs.ErrInvalid)
	}
	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return "", 0, fmt.Errorf("%w: text produced no chunks", errs.ErrInvalid)
	}
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return "", 0, err
	}
	docID := uuid.NewString()
	now := time.Now()
	rows := make([]*model.ChunkRow, 0, len(chunks))
	for i, c := range chunks {
		rows = append(rows, &model.ChunkRow{
			ID:         fmt.Sprintf("%s-%04d", docID, c.Index),
			DocumentID: docID,
			ChunkIndex: c.Index,
			Content:    c.Text,
			Embedding:  vecs[i],
			Metadata:   metadata,
			CreatedAt:  now,
		})
	}
	if err := s.store.UpsertChunks(ctx, rows); err != nil {
		return "", 0, err
	}
	logutil.GetLogger(ctx).Info("document ingested",
		zap.String("document_id", docID), zap.Int("chunks", len(rows)))
	return docID, len(rows), nil
}

// AddFile extracts text from an uploaded file, ingests it and retains the
// original bytes in the file store. Retention is best effort; a file store
// failure does not undo a successful ingestion.
func (s *RAGService) AddFile(ctx context.Context, filename string, data []byte, metadata map[string]string) (string, int, error) {
	text, err := extract.Text(filename, data)
	if err != nil {
		return "", 0, err
	}
	meta := map[string]string{"source": filename}
	for k, v := range metadata {
		meta[k] = v
	}
	docID, chunks, err := s.AddText(ctx, text, meta)
	if err != nil {
		return "", 0, err
	}
	if s.files != nil {
		key := uploadKey(docID, filename)
		if err := s.files.Save(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
			logutil.GetLogger(ctx).Warn("failed to retain uploaded file",
				zap.String("key", key), zap.Error(err))
		}
	}
	return docID, chunks, nil
}

// DeleteDocument removes every stored chunk of a document.
func (s *RAGService) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	removed, err := s.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, fmt.Errorf("%w: document %s", errs.ErrNotFound, documentID)
	}
	logutil.GetLogger(ctx).Info("document deleted",
		zap.String("document_id", documentID), zap.Int64("chunks", removed))
	return removed, nil
}

// Chat answers a question over the knowledge base. Requests without a
// conversation id start a new conversation; its id is returned either way.
func (s *RAGService) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is empty", errs.ErrInvalid)
	}
	convID := req.ConversationID
	fresh := convID == ""
	if fresh {
		convID = uuid.NewString()
	}

	// Identical stand-alone questions can reuse a recent answer. Requests
	// continuing a conversation depend on its history and are never cached.
	var cacheKey string
	if fresh && s.cache != nil {
		cacheKey = s.fingerprint(req)
		if hit, ok := s.cache.Get(cacheKey); ok {
			s.history.Append(convID, req.Message, hit.response)
			return &ChatResult{
				Response:       hit.response,
				ConversationID: convID,
				TokensUsed:     hit.tokensUsed,
				ContextUsed:    hit.contextUsed,
				Cached:         true,
			}, nil
		}
	}

	passages, err := s.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	msgs := buildMessages(req.Message, passages, s.history.Messages(convID), s.opts.MaxHistory)
	out, err := s.generator.Chat(ctx, msgs, s.genOptions(req))
	if err != nil {
		return nil, err
	}
	s.history.Append(convID, req.Message, out.Text)
	if cacheKey != "" {
		s.cache.Add(cacheKey, cachedAnswer{
			response:    out.Text,
			tokensUsed:  out.Usage.Total(),
			contextUsed: len(passages) > 0,
		})
	}
	return &ChatResult{
		Response:       out.Text,
		ConversationID: convID,
		TokensUsed:     out.Usage.Total(),
		ContextUsed:    len(passages) > 0,
	}, nil
}

// ChatStream runs the same pipeline as Chat but yields the answer
// incrementally. History is appended once the stream finishes; a consumer
// that walks away cancels ctx and the stream is torn down without a history
// write.
func (s *RAGService) ChatStream(ctx context.Context, req ChatRequest) (string, <-chan ai.StreamEvent, error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", nil, fmt.Errorf("%w: message is empty", errs.ErrInvalid)
	}
	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}
	passages, err := s.retrieve(ctx, req)
	if err != nil {
		return "", nil, err
	}
	msgs := buildMessages(req.Message, passages, s.history.Messages(convID), s.opts.MaxHistory)
	upstream, err := s.generator.ChatStream(ctx, msgs, s.genOptions(req))
	if err != nil {
		return "", nil, err
	}

	out := make(chan ai.StreamEvent)
	go func() {
		defer close(out)
		var full strings.Builder
		for ev := range upstream {
			if ev.Chunk != "" {
				full.WriteString(ev.Chunk)
			}
			if ev.Done {
				s.history.Append(convID, req.Message, full.String())
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return convID, out, nil
}

// Search embeds the query and returns the best matching chunks.
func (s *RAGService) Search(ctx context.Context, query string, limit int, threshold float32) ([]*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", errs.ErrInvalid)
	}
	if limit <= 0 {
		limit = s.opts.MaxSearchResults
	}
	if threshold < 0 {
		threshold = s.opts.SimilarityThreshold
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	passages, err := s.store.Search(ctx, vecs[0], threshold, limit)
	if err != nil {
		return nil, err
	}
	results := make([]*SearchResult, 0, len(passages))
	for _, p := range passages {
		results = append(results, &SearchResult{
			Text:       p.Content,
			Score:      p.Similarity,
			Source:     p.Metadata["source"],
			DocumentID: p.DocumentID,
			ChunkIndex: p.ChunkIndex,
		})
	}
	return results, nil
}

// Status reports the health of every pipeline component.
func (s *RAGService) Status(ctx context.Context) *Status {
	st := &Status{
		LLMModel:            s.generator.ModelName(),
		EmbeddingModel:      s.embedder.ModelName(),
		EmbeddingDimension:  s.embedder.Dimension(),
		ActiveConversations: s.history.Active(),
	}
	if s.cache != nil {
		st.CachedResponses = s.cache.Len()
	}
	if err := s.generator.Ping(ctx); err == nil {
		st.LLMAvailable = true
	} else {
		logutil.GetLogger(ctx).Warn("llm ping failed", zap.Error(err))
	}
	if stats, err := s.store.Stats(ctx); err == nil {
		st.StoreHealthy = true
		st.Documents = stats.Documents
		st.Chunks = stats.Chunks
	} else {
		logutil.GetLogger(ctx).Warn("vector store stats failed", zap.Error(err))
	}
	return st
}

// ClearConversation drops a conversation's history.
func (s *RAGService) ClearConversation(conversationID string) {
	s.history.Clear(conversationID)
}

func (s *RAGService) retrieve(ctx context.Context, req ChatRequest) ([]*model.ScoredChunk, error) {
	if req.UseContext != nil && !*req.UseContext {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{req.Message})
	if err != nil {
		return nil, err
	}
	passages, err := s.store.Search(ctx, vecs[0], s.opts.SimilarityThreshold, s.opts.MaxSearchResults)
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Debug("retrieved context", zap.Int("passages", len(passages)))
	return passages, nil
}

func (s *RAGService) genOptions(req ChatRequest) ai.Options {
	opts := ai.Options{
		Temperature: s.opts.DefaultTemperature,
		MaxTokens:   s.opts.DefaultMaxTokens,
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		opts.MaxTokens = *req.MaxTokens
	}
	return opts
}

func (s *RAGService) fingerprint(req ChatRequest) string {
	opts := s.genOptions(req)
	useContext := req.UseContext == nil || *req.UseContext
	raw := fmt.Sprintf("%s|%s|%.3f|%d|%t",
		s.generator.ModelName(), req.Message, opts.Temperature, opts.MaxTokens, useContext)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func uploadKey(docID, filename string) string {
	ext := ""
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		ext = filename[idx:]
	}
	return docID + ext
}
