package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/AnshulParate2004/ChunkSmith/internal/ingest"
	"github.com/AnshulParate2004/ChunkSmith/internal/track"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
	"github.com/AnshulParate2004/ChunkSmith/pkg/queue"
)

// Worker consumes ingestion tasks and drives the pipeline.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    logger.Logger
}

type Config struct {
	RedisAddr   string
	RedisDB     int
	Concurrency int
}

func New(cfg Config, pipe *ingest.Pipeline, log logger.Logger) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue.QueueIngest: 10,
			},
		},
	)

	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		log:    log.Named("worker"),
	}
	w.mux.HandleFunc(queue.TaskTypeIngest, w.handleIngest(pipe))
	return w
}

func (w *Worker) handleIngest(pipe *ingest.Pipeline) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload queue.IngestPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("malformed ingest payload: %w", asynq.SkipRetry)
		}

		w.log.Info("processing ingest task",
			logger.String("job_id", payload.JobID),
			logger.String("filename", payload.Filename))

		if err := pipe.Run(ctx, payload); err != nil {
			// A latched job cannot be retried into a different outcome.
			if errors.Is(err, track.ErrAlreadyTerminal) {
				return fmt.Errorf("job %s already terminal: %w", payload.JobID, asynq.SkipRetry)
			}
			return err
		}
		return nil
	}
}

// Run blocks serving tasks until Shutdown.
func (w *Worker) Run() error {
	w.log.Info("worker started")
	return w.server.Run(w.mux)
}

func (w *Worker) Shutdown() {
	w.log.Info("worker shutting down")
	w.server.Shutdown()
}
