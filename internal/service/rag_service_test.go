package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/jarvis/internal/ai"
	"github.com/xxxsen/jarvis/internal/chunker"
	"github.com/xxxsen/jarvis/internal/history"
	"github.com/xxxsen/jarvis/internal/model"
	"github.com/xxxsen/jarvis/internal/pkg/errs"
	"github.com/xxxsen/jarvis/internal/repo"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vecs := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vecs = append(vecs, []float32{float32(len(text)), 1, 0})
	}
	return vecs, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake-embed" }
func (f *fakeEmbedder) Dimension() int    { return 3 }

type fakeGenerator struct {
	reply string
	err   error
	calls int
	last  []ai.Message
}

func (f *fakeGenerator) Chat(ctx context.Context, msgs []ai.Message, opts ai.Options) (*ai.ChatResult, error) {
	f.calls++
	f.last = msgs
	if f.err != nil {
		return nil, f.err
	}
	return &ai.ChatResult{Text: f.reply, Usage: ai.Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
}

func (f *fakeGenerator) ChatStream(ctx context.Context, msgs []ai.Message, opts ai.Options) (<-chan ai.StreamEvent, error) {
	f.calls++
	f.last = msgs
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan ai.StreamEvent)
	go func() {
		defer close(ch)
		for _, word := range strings.SplitAfter(f.reply, " ") {
			ch <- ai.StreamEvent{Chunk: word}
		}
		ch <- ai.StreamEvent{Done: true, Usage: ai.Usage{PromptTokens: 10, CompletionTokens: 5}}
	}()
	return ch, nil
}

func (f *fakeGenerator) ModelName() string              { return "fake-llm" }
func (f *fakeGenerator) Ping(ctx context.Context) error { return nil }

type fakeStore struct {
	rows      map[string][]*model.ChunkRow
	upsertErr error
	results   []*model.ScoredChunk
	searchErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]*model.ChunkRow)}
}

func (f *fakeStore) UpsertChunks(ctx context.Context, chunks []*model.ChunkRow) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, c := range chunks {
		f.rows[c.DocumentID] = append(f.rows[c.DocumentID], c)
	}
	return nil
}

func (f *fakeStore) Search(ctx context.Context, embedding []float32, threshold float32, limit int) ([]*model.ScoredChunk, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.results) > limit {
		return f.results[:limit], nil
	}
	return f.results, nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	n := int64(len(f.rows[documentID]))
	delete(f.rows, documentID)
	return n, nil
}

func (f *fakeStore) Stats(ctx context.Context) (*repo.StoreStats, error) {
	var chunks int64
	for _, rows := range f.rows {
		chunks += int64(len(rows))
	}
	return &repo.StoreStats{Chunks: chunks, Documents: int64(len(f.rows))}, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func newTestService(t *testing.T, emb *fakeEmbedder, gen *fakeGenerator, store *fakeStore, opts Options) *RAGService {
	t.Helper()
	chk, err := chunker.New(64, 8)
	require.NoError(t, err)
	if opts.MaxSearchResults == 0 {
		opts.MaxSearchResults = 5
	}
	if opts.MaxHistory == 0 {
		opts.MaxHistory = 10
	}
	hist := history.NewMemoryStore(opts.MaxHistory, 0)
	return NewRAGService(chk, emb, gen, store, hist, nil, opts)
}

func TestAddText_IngestsChunks(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, &fakeEmbedder{}, &fakeGenerator{}, store, Options{})

	text := strings.Repeat("knowledge about the system ", 20)
	docID, chunks, err := svc.AddText(context.Background(), text, map[string]string{"source": "test"})
	require.NoError(t, err)
	require.NotEmpty(t, docID)
	require.Greater(t, chunks, 1)
	require.Len(t, store.rows[docID], chunks)
	for i, row := range store.rows[docID] {
		require.Equal(t, i, row.ChunkIndex)
		require.Equal(t, docID, row.DocumentID)
		require.Len(t, row.Embedding, 3)
		require.Equal(t, "test", row.Metadata["source"])
	}
}

func TestAddText_EmptyTextRejected(t *testing.T) {
	svc := newTestService(t, &fakeEmbedder{}, &fakeGenerator{}, newFakeStore(), Options{})
	_, _, err := svc.AddText(context.Background(), "   \n\t ", nil)
	require.ErrorIs(t, err, errs.ErrInvalid)
}

func TestAddText_EmbedFailureWritesNothing(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, &fakeEmbedder{err: errors.New("embed down")}, &fakeGenerator{}, store, Options{})

	_, _, err := svc.AddText(context.Background(), "some content to ingest", nil)
	require.Error(t, err)
	require.Empty(t, store.rows)
}

func TestChat_NoContextWhenRetrievalEmpty(t *testing.T) {
	gen := &fakeGenerator{reply: "generic answer"}
	svc := newTestService(t, &fakeEmbedder{}, gen, newFakeStore(), Options{})

	out, err := svc.Chat(context.Background(), ChatRequest{Message: "anything?"})
	require.NoError(t, err)
	require.Equal(t, "generic answer", out.Response)
	require.False(t, out.ContextUsed)
	require.NotEmpty(t, out.ConversationID)
	require.Equal(t, 15, out.TokensUsed)

	prompt := gen.last[len(gen.last)-1].Content
	require.Equal(t, "anything?", prompt)
}

func TestChat_RetrievedPassagesInPrompt(t *testing.T) {
	store := newFakeStore()
	store.results = []*model.ScoredChunk{
		{ChunkRow: model.ChunkRow{Content: "relevant fact"}, Similarity: 0.9},
	}
	gen := &fakeGenerator{reply: "grounded answer"}
	svc := newTestService(t, &fakeEmbedder{}, gen, store, Options{})

	out, err := svc.Chat(context.Background(), ChatRequest{Message: "tell me"})
	require.NoError(t, err)
	require.True(t, out.ContextUsed)
	prompt := gen.last[len(gen.last)-1].Content
	require.Contains(t, prompt, "relevant fact")
	require.Contains(t, prompt, "User question: tell me")
}

func TestChat_UseContextFalseSkipsRetrieval(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeStore()
	store.results = []*model.ScoredChunk{
		{ChunkRow: model.ChunkRow{Content: "should not appear"}, Similarity: 0.99},
	}
	gen := &fakeGenerator{reply: "direct answer"}
	svc := newTestService(t, emb, gen, store, Options{})

	useContext := false
	out, err := svc.Chat(context.Background(), ChatRequest{Message: "hi", UseContext: &useContext})
	require.NoError(t, err)
	require.False(t, out.ContextUsed)
	require.Zero(t, emb.calls)
}

func TestChat_ConversationHistoryCarried(t *testing.T) {
	gen := &fakeGenerator{reply: "answer"}
	svc := newTestService(t, &fakeEmbedder{}, gen, newFakeStore(), Options{})

	first, err := svc.Chat(context.Background(), ChatRequest{Message: "first question"})
	require.NoError(t, err)

	_, err = svc.Chat(context.Background(), ChatRequest{
		Message:        "follow up",
		ConversationID: first.ConversationID,
	})
	require.NoError(t, err)

	var sawHistory bool
	for _, m := range gen.last {
		if m.Content == "first question" {
			sawHistory = true
		}
	}
	require.True(t, sawHistory, "previous turn missing from prompt")
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	svc := newTestService(t, &fakeEmbedder{}, &fakeGenerator{}, newFakeStore(), Options{})
	_, err := svc.Chat(context.Background(), ChatRequest{Message: ""})
	require.ErrorIs(t, err, errs.ErrInvalid)
}

func TestChat_ResponseCacheHitsForFreshConversations(t *testing.T) {
	gen := &fakeGenerator{reply: "cached answer"}
	svc := newTestService(t, &fakeEmbedder{}, gen, newFakeStore(), Options{
		ResponseCacheSize: 16,
		ResponseCacheTTL:  time.Minute,
	})

	first, err := svc.Chat(context.Background(), ChatRequest{Message: "same question"})
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := svc.Chat(context.Background(), ChatRequest{Message: "same question"})
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Response, second.Response)
	require.NotEqual(t, first.ConversationID, second.ConversationID)
	require.Equal(t, 1, gen.calls)
}

func TestChat_ResponseCacheSkippedForConversations(t *testing.T) {
	gen := &fakeGenerator{reply: "answer"}
	svc := newTestService(t, &fakeEmbedder{}, gen, newFakeStore(), Options{
		ResponseCacheSize: 16,
		ResponseCacheTTL:  time.Minute,
	})

	out, err := svc.Chat(context.Background(), ChatRequest{Message: "q"})
	require.NoError(t, err)
	_, err = svc.Chat(context.Background(), ChatRequest{Message: "q", ConversationID: out.ConversationID})
	require.NoError(t, err)
	require.Equal(t, 2, gen.calls)
}

func TestChatStream_ConcatEqualsBlocking(t *testing.T) {
	reply := "streamed answer in several words"
	gen := &fakeGenerator{reply: reply}
	svc := newTestService(t, &fakeEmbedder{}, gen, newFakeStore(), Options{})

	convID, events, err := svc.ChatStream(context.Background(), ChatRequest{Message: "stream it"})
	require.NoError(t, err)
	require.NotEmpty(t, convID)

	var full strings.Builder
	var done bool
	for ev := range events {
		require.NoError(t, ev.Err)
		full.WriteString(ev.Chunk)
		if ev.Done {
			done = true
			require.Equal(t, 15, ev.Usage.Total())
		}
	}
	require.True(t, done, "stream ended without done event")
	require.Equal(t, reply, full.String())
}

func TestChatStream_HistoryAppendedOnDone(t *testing.T) {
	gen := &fakeGenerator{reply: "full reply"}
	svc := newTestService(t, &fakeEmbedder{}, gen, newFakeStore(), Options{})

	convID, events, err := svc.ChatStream(context.Background(), ChatRequest{Message: "question"})
	require.NoError(t, err)
	for range events {
	}

	msgs := svc.history.Messages(convID)
	require.Len(t, msgs, 2)
	require.Equal(t, "question", msgs[0].Content)
	require.Equal(t, "full reply", msgs[1].Content)
}

func TestSearch_MapsResults(t *testing.T) {
	store := newFakeStore()
	store.results = []*model.ScoredChunk{
		{ChunkRow: model.ChunkRow{DocumentID: "doc-1", ChunkIndex: 2, Content: "text one",
			Metadata: map[string]string{"source": "notes.md"}}, Similarity: 0.92},
		{ChunkRow: model.ChunkRow{DocumentID: "doc-2", Content: "text two"}, Similarity: 0.71},
	}
	svc := newTestService(t, &fakeEmbedder{}, &fakeGenerator{}, store, Options{})

	results, err := svc.Search(context.Background(), "find it", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "text one", results[0].Text)
	require.Equal(t, float32(0.92), results[0].Score)
	require.Equal(t, "notes.md", results[0].Source)
	require.Equal(t, "doc-1", results[0].DocumentID)
	require.Equal(t, 2, results[0].ChunkIndex)
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	svc := newTestService(t, &fakeEmbedder{}, &fakeGenerator{}, newFakeStore(), Options{})
	_, err := svc.Search(context.Background(), "", 5, 0.5)
	require.ErrorIs(t, err, errs.ErrInvalid)
}

func TestDeleteDocument_NotFound(t *testing.T) {
	svc := newTestService(t, &fakeEmbedder{}, &fakeGenerator{}, newFakeStore(), Options{})
	_, err := svc.DeleteDocument(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStatus_ReportsComponents(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, &fakeEmbedder{}, &fakeGenerator{reply: "x"}, store, Options{})

	_, _, err := svc.AddText(context.Background(), strings.Repeat("content here ", 20), nil)
	require.NoError(t, err)

	st := svc.Status(context.Background())
	require.Equal(t, "fake-llm", st.LLMModel)
	require.True(t, st.LLMAvailable)
	require.Equal(t, "fake-embed", st.EmbeddingModel)
	require.Equal(t, 3, st.EmbeddingDimension)
	require.True(t, st.StoreHealthy)
	require.Equal(t, int64(1), st.Documents)
	require.Greater(t, st.Chunks, int64(0))
}
