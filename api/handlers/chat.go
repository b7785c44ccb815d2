package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
	"github.com/AnshulParate2004/ChunkSmith/internal/ingest"
)

// InitChat opens a chat session over a processed document.
func (h *Handler) InitChat(c *gin.Context) {
	documentID := c.Param("documentId")

	doc, err := ingest.LoadResult(c.Request.Context(), h.store, h.resultBucket, documentID)
	if err != nil {
		h.handleError(c, http.StatusNotFound, "document not processed", err)
		return
	}

	session := h.registry.Create(doc)
	c.JSON(http.StatusCreated, gin.H{
		"session_id":  session.ID,
		"document_id": doc.DocumentID,
		"filename":    doc.Filename,
	})
}

type sendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// SendMessage starts an assistant turn and returns its id. The answer
// arrives on the session's event stream.
func (h *Handler) SendMessage(c *gin.Context) {
	session, err := h.registry.Get(c.Param("sessionId"))
	if err != nil {
		h.handleError(c, http.StatusNotFound, "session not found", err)
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "message is required", err)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		h.handleError(c, http.StatusBadRequest, "message is required", nil)
		return
	}

	turnID := h.orchestrator.StartTurn(session, message)
	c.JSON(http.StatusAccepted, gin.H{
		"session_id": session.ID,
		"turn_id":    turnID,
	})
}

// StreamChat serves the event stream for one assistant turn. Attach an
// existing turn with ?turn_id= or start a new one with ?message=. A
// reattach replays the turn's full history and displaces any previous
// subscriber.
func (h *Handler) StreamChat(c *gin.Context) {
	session, err := h.registry.Get(c.Param("sessionId"))
	if err != nil {
		h.handleError(c, http.StatusNotFound, "session not found", err)
		return
	}

	turnID := c.Query("turn_id")
	if turnID == "" {
		message := strings.TrimSpace(c.Query("message"))
		if message == "" {
			h.handleError(c, http.StatusBadRequest, "turn_id or message is required", nil)
			return
		}
		turnID = h.orchestrator.StartTurn(session, message)
	}

	emitter, err := session.Emitter(turnID)
	if err != nil {
		h.handleError(c, http.StatusNotFound, "turn not found", err)
		return
	}

	w, err := newSSEWriter(c)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "streaming unsupported", err)
		return
	}

	ctx, release := h.streams.acquire(c.Request.Context(), "chat:"+turnID)
	defer release()

	_ = w.send(events.New(events.TypeConnected, events.ConnectedData{
		Message:   "Connected to chat stream",
		SessionID: session.ID,
		TurnID:    turnID,
	}))

	for ev := range emitter.Attach(ctx) {
		if err := w.send(ev); err != nil {
			return
		}
	}
}

// GetChatHistory returns the session's turns.
func (h *Handler) GetChatHistory(c *gin.Context) {
	session, err := h.registry.Get(c.Param("sessionId"))
	if err != nil {
		h.handleError(c, http.StatusNotFound, "session not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"turns":      session.History(),
	})
}

// ClearChat wipes the session history, keeping the session alive.
func (h *Handler) ClearChat(c *gin.Context) {
	session, err := h.registry.Get(c.Param("sessionId"))
	if err != nil {
		h.handleError(c, http.StatusNotFound, "session not found", err)
		return
	}
	session.Clear()
	c.JSON(http.StatusOK, gin.H{"cleared": session.ID})
}

// DeleteChat removes the session.
func (h *Handler) DeleteChat(c *gin.Context) {
	if err := h.registry.Delete(c.Param("sessionId")); err != nil {
		h.handleError(c, http.StatusNotFound, "session not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("sessionId")})
}

// ListChatSessions returns summaries of all sessions.
func (h *Handler) ListChatSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.registry.List()})
}
