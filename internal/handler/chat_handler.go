package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jarvis/internal/pkg/errs"
	"github.com/xxxsen/jarvis/internal/pkg/response"
	"github.com/xxxsen/jarvis/internal/service"
)

type ChatHandler struct {
	svc *service.RAGService
}

func NewChatHandler(svc *service.RAGService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type chatRequest struct {
	Message        string   `json:"message"`
	ConversationID string   `json:"conversation_id"`
	Temperature    *float64 `json:"temperature"`
	MaxTokens      *int     `json:"max_tokens"`
	UseContext     *bool    `json:"use_context"`
}

type chatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
	TokensUsed     int    `json:"tokens_used"`
	ContextUsed    bool   `json:"context_used"`
	Cached         bool   `json:"cached,omitempty"`
}

func (h *ChatHandler) toServiceRequest(req chatRequest) (service.ChatRequest, error) {
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return service.ChatRequest{}, fmt.Errorf("%w: temperature must be in [0, 2]", errs.ErrInvalid)
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return service.ChatRequest{}, fmt.Errorf("%w: max_tokens must be positive", errs.ErrInvalid)
	}
	return service.ChatRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		UseContext:     req.UseContext,
	}, nil
}

func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusUnprocessableEntity, "invalid", "invalid request body: "+err.Error())
		return
	}
	svcReq, err := h.toServiceRequest(req)
	if err != nil {
		handleError(c, err)
		return
	}
	out, err := h.svc.Chat(c.Request.Context(), svcReq)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, chatResponse{
		Response:       out.Response,
		ConversationID: out.ConversationID,
		TokensUsed:     out.TokensUsed,
		ContextUsed:    out.ContextUsed,
		Cached:         out.Cached,
	})
}

// ChatStream answers over newline-delimited JSON: zero or more
// {"chunk": ...} lines followed by a terminal {"done": true} line. The
// conversation id travels in the X-Conversation-Id response header since the
// body is already committed once streaming starts.
func (h *ChatHandler) ChatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusUnprocessableEntity, "invalid", "invalid request body: "+err.Error())
		return
	}
	svcReq, err := h.toServiceRequest(req)
	if err != nil {
		handleError(c, err)
		return
	}
	convID, events, err := h.svc.ChatStream(c.Request.Context(), svcReq)
	if err != nil {
		handleError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.Header().Set("X-Conversation-Id", convID)
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	flush := func() {
		if f, ok := c.Writer.(http.Flusher); ok {
			f.Flush()
		}
	}
	for ev := range events {
		switch {
		case ev.Err != nil:
			logutil.GetLogger(c.Request.Context()).Error("stream failed", zap.Error(ev.Err))
			_ = enc.Encode(gin.H{"error": ev.Err.Error()})
			flush()
			return
		case ev.Done:
			_ = enc.Encode(gin.H{"done": true, "tokens_used": ev.Usage.Total()})
			flush()
			return
		case ev.Chunk != "":
			if err := enc.Encode(gin.H{"chunk": ev.Chunk}); err != nil {
				return
			}
			flush()
		}
	}
}

func (h *ChatHandler) ClearConversation(c *gin.Context) {
	convID := c.Param("conversation_id")
	h.svc.ClearConversation(convID)
	response.Success(c, gin.H{
		"status":          "ok",
		"conversation_id": convID,
	})
}
