package track

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
	"github.com/AnshulParate2004/ChunkSmith/internal/models"
	"github.com/AnshulParate2004/ChunkSmith/pkg/bus"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
)

var (
	ErrUnknownJob        = errors.New("unknown job")
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrAlreadyTerminal   = errors.New("job already terminal")
)

// stageNames are the display names carried in progress events.
var stageNames = map[models.Stage]string{
	models.StageQueued:      "Queued",
	models.StageUploading:   "Uploading",
	models.StageParsing:     "Parsing",
	models.StageEnriching:   "Enriching",
	models.StageVectorizing: "Vectorizing",
	models.StageComplete:    "Complete",
	models.StageFailed:      "Failed",
}

// Tracker owns ingestion job state. Every state change is published on
// the bus so stream subscribers see it; the bus retains the latest
// event per job for resume.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]*models.IngestionJob
	bus  bus.Bus
	log  logger.Logger
}

func New(b bus.Bus, log logger.Logger) *Tracker {
	return &Tracker{
		jobs: make(map[string]*models.IngestionJob),
		bus:  b,
		log:  log.Named("track"),
	}
}

// Create registers a new job in the queued stage and announces it.
func (t *Tracker) Create(ctx context.Context, filename string) (*models.IngestionJob, error) {
	now := time.Now().UTC()
	job := &models.IngestionJob{
		ID:        uuid.New().String(),
		Filename:  filename,
		Stage:     models.StageQueued,
		Progress:  0,
		Message:   "Waiting in queue",
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	t.jobs[job.ID] = job
	snapshot := *job
	t.mu.Unlock()

	t.log.Info("job created",
		logger.String("job_id", job.ID),
		logger.String("filename", filename))

	if err := t.publishProgress(ctx, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Adopt registers a job record created by another process, typically
// the API server that enqueued it. An already known job is left alone.
func (t *Tracker) Adopt(job *models.IngestionJob) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.jobs[job.ID]; ok {
		return
	}
	copied := *job
	t.jobs[job.ID] = &copied
}

// Advance moves the job to stage with the given percent and message.
// Stages only move forward; a percent below the current one within the
// same stage is clamped so observers never see progress run backward.
func (t *Tracker) Advance(ctx context.Context, jobID string, stage models.Stage, percent int, message string) error {
	t.mu.Lock()
	job, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if job.Stage.Terminal() {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, jobID, job.Stage)
	}
	if stage.Terminal() {
		t.mu.Unlock()
		return fmt.Errorf("%w: use Complete or Fail for terminal stages", ErrInvalidTransition)
	}
	if stage.Ordinal() < job.Stage.Ordinal() {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Stage, stage)
	}
	if stage == job.Stage && percent < job.Progress {
		percent = job.Progress
	}

	job.Stage = stage
	job.Progress = percent
	job.Message = message
	job.UpdatedAt = time.Now().UTC()
	snapshot := *job
	t.mu.Unlock()

	return t.publishProgress(ctx, &snapshot)
}

// Complete latches the job into the complete stage with its result.
func (t *Tracker) Complete(ctx context.Context, jobID string, result *models.JobResult) error {
	t.mu.Lock()
	job, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if job.Stage.Terminal() {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, jobID, job.Stage)
	}

	job.Stage = models.StageComplete
	job.Progress = 100
	job.Message = "Processing complete"
	job.Result = result
	job.UpdatedAt = time.Now().UTC()
	snapshot := *job
	t.mu.Unlock()

	t.log.Info("job complete", logger.String("job_id", jobID))

	ev := events.New(events.TypeComplete, events.CompleteData{
		Status:   string(models.StageComplete),
		Progress: 100,
		Message:  snapshot.Message,
		Result:   snapshot.Result,
	})
	return t.bus.Publish(ctx, jobID, ev)
}

// Fail latches the job into the failed stage. The stage at which the
// failure happened stays visible through the job record.
func (t *Tracker) Fail(ctx context.Context, jobID string, cause string) error {
	t.mu.Lock()
	job, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if job.Stage.Terminal() {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, jobID, job.Stage)
	}

	job.Stage = models.StageFailed
	job.Error = cause
	job.Message = cause
	job.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()

	t.log.Warn("job failed",
		logger.String("job_id", jobID),
		logger.String("cause", cause))

	ev := events.New(events.TypeError, events.ErrorData{Message: cause})
	return t.bus.Publish(ctx, jobID, ev)
}

// Restart resets a failed job back to queued for another attempt.
func (t *Tracker) Restart(ctx context.Context, jobID string) error {
	t.mu.Lock()
	job, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if job.Stage != models.StageFailed {
		t.mu.Unlock()
		return fmt.Errorf("%w: only failed jobs restart, %s is %s", ErrInvalidTransition, jobID, job.Stage)
	}

	job.Stage = models.StageQueued
	job.Progress = 0
	job.Error = ""
	job.Message = "Waiting in queue"
	job.UpdatedAt = time.Now().UTC()
	snapshot := *job
	t.mu.Unlock()

	t.log.Info("job restarted", logger.String("job_id", jobID))
	return t.publishProgress(ctx, &snapshot)
}

// Get returns a copy of the job record.
func (t *Tracker) Get(jobID string) (*models.IngestionJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	snapshot := *job
	return &snapshot, nil
}

func (t *Tracker) publishProgress(ctx context.Context, job *models.IngestionJob) error {
	ev := events.New(events.TypeProgress, events.ProgressData{
		Status:   string(job.Stage),
		Step:     job.Stage.Ordinal(),
		StepName: stageNames[job.Stage],
		Progress: job.Progress,
		Message:  job.Message,
	})
	return t.bus.Publish(ctx, job.ID, ev)
}
