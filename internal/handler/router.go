package handler

import (
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/jarvis/internal/middleware"
	"github.com/xxxsen/jarvis/internal/pkg/response"
)

type RouterDeps struct {
	Chat      *ChatHandler
	Knowledge *KnowledgeHandler
	Search    *SearchHandler
	Status    *StatusHandler

	APIKey          string
	CORSOrigins     []string
	RateLimitWindow time.Duration
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(deps.CORSOrigins))
	// streamed responses must not be buffered by the compressor
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/chat/stream"})))

	r.GET("/", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "Welcome to the Jarvis AI Assistant API!"})
	})

	api := r.Group("/api/v1")
	api.Use(middleware.APIKeyAuth(deps.APIKey))

	api.POST("/chat", deps.Chat.Chat)
	api.POST("/chat/stream", deps.Chat.ChatStream)
	api.DELETE("/chat/:conversation_id", deps.Chat.ClearConversation)

	ingest := api.Group("/knowledge")
	ingest.Use(middleware.RateLimit(deps.RateLimitWindow))
	ingest.POST("/add-text", deps.Knowledge.AddText)
	ingest.POST("/add-file", deps.Knowledge.AddFile)
	ingest.DELETE("/:document_id", deps.Knowledge.Delete)

	api.GET("/search", deps.Search.Search)
	api.GET("/status", deps.Status.Status)
	return r
}
