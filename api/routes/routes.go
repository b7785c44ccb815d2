package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/AnshulParate2004/ChunkSmith/api/handlers"
	"github.com/AnshulParate2004/ChunkSmith/api/middleware"
)

// Register wires all endpoints onto the engine.
func Register(r *gin.Engine, h *handlers.Handler) {
	r.Use(middleware.CORS())

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		docs := v1.Group("/documents")
		{
			docs.POST("/process", h.SubmitDocument)
			docs.POST("/process/batch", h.SubmitBatch)
			docs.GET("/stream/:documentId", h.StreamProgress)
			docs.GET("", h.ListDocuments)
			docs.GET("/:documentId", h.GetDocument)
			docs.GET("/:documentId/status", h.GetDocumentStatus)
			docs.DELETE("/:documentId", h.DeleteDocument)
			docs.GET("/:documentId/chunks", h.ListChunks)
			docs.GET("/:documentId/chunks/:index", h.GetChunk)
		}

		v1.GET("/images/:documentId/:filename", h.GetImage)
		v1.POST("/search", h.SearchDocuments)
		v1.GET("/languages", h.ListLanguages)

		chat := v1.Group("/chat")
		{
			chat.POST("/init/:documentId", h.InitChat)
			chat.GET("/sessions", h.ListChatSessions)
			chat.POST("/sessions/:sessionId/messages", h.SendMessage)
			chat.GET("/stream/:sessionId", h.StreamChat)
			chat.GET("/sessions/:sessionId/history", h.GetChatHistory)
			chat.POST("/clear/:sessionId", h.ClearChat)
			chat.DELETE("/sessions/:sessionId", h.DeleteChat)
		}
	}
}
