package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/AnshulParate2004/ChunkSmith/internal/models"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
)

// TaskTypeIngest is the asynq task type for document ingestion.
const TaskTypeIngest = "document:ingest"

// QueueIngest is the asynq queue ingestion tasks land on.
const QueueIngest = "ingest"

// IngestPayload is the task body handed to the worker.
type IngestPayload struct {
	JobID    string                `json:"job_id"`
	Bucket   string                `json:"bucket"`
	Key      string                `json:"key"`
	Filename string                `json:"filename"`
	Options  models.ProcessOptions `json:"options"`
}

// Queue enqueues ingestion tasks for the worker pool.
type Queue struct {
	client *asynq.Client
	log    logger.Logger
}

func New(redisAddr string, redisDB int, log logger.Logger) *Queue {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr: redisAddr,
		DB:   redisDB,
	})
	return &Queue{client: client, log: log.Named("queue")}
}

// EnqueueIngest schedules document processing. Retries are capped low;
// a failed job surfaces through the progress stream rather than
// retrying silently.
func (q *Queue) EnqueueIngest(ctx context.Context, payload IngestPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ingest payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeIngest, body)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueIngest),
		asynq.MaxRetry(2),
		asynq.Timeout(time.Hour),
		asynq.TaskID(payload.JobID),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue ingest task: %w", err)
	}

	q.log.Info("ingest task enqueued",
		logger.String("job_id", payload.JobID),
		logger.String("task_id", info.ID),
		logger.String("filename", payload.Filename))
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
