package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/jarvis/internal/pkg/response"
	"github.com/xxxsen/jarvis/internal/service"
)

// uploads larger than this are rejected before extraction
const maxUploadBytes = 32 << 20

type KnowledgeHandler struct {
	svc *service.RAGService
}

func NewKnowledgeHandler(svc *service.RAGService) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc}
}

type addTextRequest struct {
	Text     string            `json:"text"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata"`
}

type addKnowledgeResponse struct {
	Status      string `json:"status"`
	DocumentID  string `json:"document_id"`
	ChunksAdded int    `json:"chunks_added"`
	Filename    string `json:"filename,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
}

func (h *KnowledgeHandler) AddText(c *gin.Context) {
	var req addTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusUnprocessableEntity, "invalid", "invalid request body: "+err.Error())
		return
	}
	meta := map[string]string{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if meta["source"] == "" {
		source := req.Source
		if source == "" {
			source = "text_input"
		}
		meta["source"] = source
	}
	docID, chunks, err := h.svc.AddText(c.Request.Context(), req.Text, meta)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, addKnowledgeResponse{
		Status:      "ok",
		DocumentID:  docID,
		ChunksAdded: chunks,
	})
}

func (h *KnowledgeHandler) AddFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusUnprocessableEntity, "invalid", "multipart field 'file' is required")
		return
	}
	if fileHeader.Size > maxUploadBytes {
		response.Error(c, http.StatusUnprocessableEntity, "invalid", "file is too large")
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		handleError(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		handleError(c, err)
		return
	}
	docID, chunks, err := h.svc.AddFile(c.Request.Context(), fileHeader.Filename, data, nil)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, addKnowledgeResponse{
		Status:      "ok",
		DocumentID:  docID,
		ChunksAdded: chunks,
		Filename:    fileHeader.Filename,
		FileSize:    fileHeader.Size,
	})
}

func (h *KnowledgeHandler) Delete(c *gin.Context) {
	docID := c.Param("document_id")
	removed, err := h.svc.DeleteDocument(c.Request.Context(), docID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"status":         "ok",
		"document_id":    docID,
		"chunks_removed": removed,
	})
}
