package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AnshulParate2004/ChunkSmith/internal/chat"
	"github.com/AnshulParate2004/ChunkSmith/internal/retriever"
	"github.com/AnshulParate2004/ChunkSmith/internal/track"
	"github.com/AnshulParate2004/ChunkSmith/pkg/bus"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
	"github.com/AnshulParate2004/ChunkSmith/pkg/queue"
	"github.com/AnshulParate2004/ChunkSmith/pkg/storage"
)

// Enqueuer schedules ingestion work.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, payload queue.IngestPayload) error
}

// Handler carries the dependencies shared by all HTTP endpoints.
type Handler struct {
	tracker      *track.Tracker
	bus          bus.Bus
	store        storage.Storage
	queue        Enqueuer
	registry     *chat.Registry
	orchestrator *chat.Orchestrator
	retriever    retriever.Retriever
	streams      *streamRegistry
	log          logger.Logger

	uploadBucket string
	imageBucket  string
	resultBucket string
	maxUpload    int64
}

type Config struct {
	Tracker      *track.Tracker
	Bus          bus.Bus
	Store        storage.Storage
	Queue        Enqueuer
	Registry     *chat.Registry
	Orchestrator *chat.Orchestrator
	Retriever    retriever.Retriever
	Logger       logger.Logger

	UploadBucket string
	ImageBucket  string
	ResultBucket string
	MaxUpload    int64
}

func New(cfg Config) *Handler {
	maxUpload := cfg.MaxUpload
	if maxUpload <= 0 {
		maxUpload = 50 * 1024 * 1024
	}
	return &Handler{
		tracker:      cfg.Tracker,
		bus:          cfg.Bus,
		store:        cfg.Store,
		queue:        cfg.Queue,
		registry:     cfg.Registry,
		orchestrator: cfg.Orchestrator,
		retriever:    cfg.Retriever,
		streams:      newStreamRegistry(),
		log:          cfg.Logger.Named("api"),
		uploadBucket: cfg.UploadBucket,
		imageBucket:  cfg.ImageBucket,
		resultBucket: cfg.ResultBucket,
		maxUpload:    maxUpload,
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleError(c *gin.Context, status int, message string, err error) {
	fields := []logger.Field{logger.String("path", c.Request.URL.Path)}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	h.log.Warn(message, fields...)
	c.JSON(status, gin.H{"error": message})
}
