package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/jarvis/internal/pkg/response"
	"github.com/xxxsen/jarvis/internal/service"
)

type StatusHandler struct {
	svc *service.RAGService
}

func NewStatusHandler(svc *service.RAGService) *StatusHandler {
	return &StatusHandler{svc: svc}
}

func (h *StatusHandler) Status(c *gin.Context) {
	st := h.svc.Status(c.Request.Context())
	response.Success(c, gin.H{
		"llm": gin.H{
			"model":     st.LLMModel,
			"available": st.LLMAvailable,
		},
		"embedding": gin.H{
			"model":     st.EmbeddingModel,
			"dimension": st.EmbeddingDimension,
		},
		"vector_store": gin.H{
			"healthy":   st.StoreHealthy,
			"documents": st.Documents,
			"chunks":    st.Chunks,
		},
		"active_conversations": st.ActiveConversations,
		"cached_responses":     st.CachedResponses,
	})
}
