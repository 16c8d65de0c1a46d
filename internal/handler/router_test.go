package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/jarvis/internal/ai"
	"github.com/xxxsen/jarvis/internal/chunker"
	"github.com/xxxsen/jarvis/internal/history"
	"github.com/xxxsen/jarvis/internal/model"
	"github.com/xxxsen/jarvis/internal/repo"
	"github.com/xxxsen/jarvis/internal/service"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0}
	}
	return vecs, nil
}
func (stubEmbedder) ModelName() string { return "stub-embed" }
func (stubEmbedder) Dimension() int    { return 2 }

type stubGenerator struct{ reply string }

func (s stubGenerator) Chat(ctx context.Context, msgs []ai.Message, opts ai.Options) (*ai.ChatResult, error) {
	return &ai.ChatResult{Text: s.reply, Usage: ai.Usage{PromptTokens: 4, CompletionTokens: 3}}, nil
}
func (s stubGenerator) ChatStream(ctx context.Context, msgs []ai.Message, opts ai.Options) (<-chan ai.StreamEvent, error) {
	ch := make(chan ai.StreamEvent)
	go func() {
		defer close(ch)
		ch <- ai.StreamEvent{Chunk: s.reply[:len(s.reply)/2]}
		ch <- ai.StreamEvent{Chunk: s.reply[len(s.reply)/2:]}
		ch <- ai.StreamEvent{Done: true, Usage: ai.Usage{PromptTokens: 4, CompletionTokens: 3}}
	}()
	return ch, nil
}
func (stubGenerator) ModelName() string              { return "stub-llm" }
func (stubGenerator) Ping(ctx context.Context) error { return nil }

type stubChunkStore struct {
	rows map[string][]*model.ChunkRow
}

func (s *stubChunkStore) UpsertChunks(ctx context.Context, chunks []*model.ChunkRow) error {
	for _, c := range chunks {
		s.rows[c.DocumentID] = append(s.rows[c.DocumentID], c)
	}
	return nil
}
func (s *stubChunkStore) Search(ctx context.Context, embedding []float32, threshold float32, limit int) ([]*model.ScoredChunk, error) {
	return nil, nil
}
func (s *stubChunkStore) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	n := int64(len(s.rows[documentID]))
	delete(s.rows, documentID)
	return n, nil
}
func (s *stubChunkStore) Stats(ctx context.Context) (*repo.StoreStats, error) {
	return &repo.StoreStats{}, nil
}
func (s *stubChunkStore) Ping(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T, apiKey string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	chk, err := chunker.New(64, 8)
	require.NoError(t, err)
	svc := service.NewRAGService(chk, stubEmbedder{}, stubGenerator{reply: "stubbed answer"},
		&stubChunkStore{rows: map[string][]*model.ChunkRow{}},
		history.NewMemoryStore(10, 0), nil, service.Options{
			MaxSearchResults: 5,
			MaxHistory:       10,
		})
	return NewRouter(RouterDeps{
		Chat:      NewChatHandler(svc),
		Knowledge: NewKnowledgeHandler(svc),
		Search:    NewSearchHandler(svc),
		Status:    NewStatusHandler(svc),
		APIKey:    apiKey,
	})
}

func TestRouter_ChatResponseShape(t *testing.T) {
	router := newTestRouter(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "stubbed answer", body["response"])
	require.NotEmpty(t, body["conversation_id"])
	require.Equal(t, float64(7), body["tokens_used"])
}

func TestRouter_ChatStreamNDJSON(t *testing.T) {
	router := newTestRouter(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/chat/stream", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	require.NotEmpty(t, w.Header().Get("X-Conversation-Id"))

	var text strings.Builder
	var done bool
	scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		if chunk, ok := line["chunk"].(string); ok {
			text.WriteString(chunk)
			continue
		}
		require.Equal(t, true, line["done"])
		done = true
	}
	require.True(t, done, "missing terminal done line")
	require.Equal(t, "stubbed answer", text.String())
}

func TestRouter_ChatRejectsMissingMessage(t *testing.T) {
	router := newTestRouter(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader(`{"message":""}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, w.Body.String(), `"status_code":422`)
}

func TestRouter_AddTextAndDelete(t *testing.T) {
	router := newTestRouter(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/knowledge/add-text",
		strings.NewReader(`{"text":"`+strings.Repeat("facts about things ", 10)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	docID, _ := body["document_id"].(string)
	require.NotEmpty(t, docID)
	require.Greater(t, body["chunks_added"], float64(0))

	w = httptest.NewRecorder()
	req = httptest.NewRequest("DELETE", "/api/v1/knowledge/"+docID, nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("DELETE", "/api/v1/knowledge/"+docID, nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_ClearConversation(t *testing.T) {
	router := newTestRouter(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/api/v1/chat/conv-1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"conversation_id":"conv-1"`)
}

func TestRouter_SearchValidatesParams(t *testing.T) {
	router := newTestRouter(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/search?q=x&limit=abc", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/v1/search?q=x&threshold=2", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRouter_APIKeyGuardsAPIButNotRoot(t *testing.T) {
	router := newTestRouter(t, "secret")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/status", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	req.Header.Set("X-API-Key", "secret")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
