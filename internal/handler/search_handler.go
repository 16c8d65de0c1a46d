package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/jarvis/internal/pkg/response"
	"github.com/xxxsen/jarvis/internal/service"
)

type SearchHandler struct {
	svc *service.RAGService
}

func NewSearchHandler(svc *service.RAGService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type searchResultItem struct {
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
	Source     string  `json:"source,omitempty"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
}

func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			response.Error(c, http.StatusUnprocessableEntity, "invalid", "limit must be a positive integer")
			return
		}
		limit = v
	}
	threshold := float32(-1)
	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil || v < 0 || v > 1 {
			response.Error(c, http.StatusUnprocessableEntity, "invalid", "threshold must be in [0, 1]")
			return
		}
		threshold = float32(v)
	}
	results, err := h.svc.Search(c.Request.Context(), query, limit, threshold)
	if err != nil {
		handleError(c, err)
		return
	}
	items := make([]searchResultItem, 0, len(results))
	for _, r := range results {
		items = append(items, searchResultItem{
			Text:       r.Text,
			Score:      r.Score,
			Source:     r.Source,
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
		})
	}
	response.Success(c, gin.H{
		"query":   query,
		"results": items,
	})
}
