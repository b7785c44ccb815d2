package track

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
	"github.com/AnshulParate2004/ChunkSmith/internal/models"
	"github.com/AnshulParate2004/ChunkSmith/pkg/bus"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
)

func newTestTracker(t *testing.T) (*Tracker, *bus.Memory) {
	t.Helper()
	b := bus.NewMemory(time.Minute)
	return New(b, logger.NewTestLogger()), b
}

func TestTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	tr, b := newTestTracker(t)

	job, err := tr.Create(ctx, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.StageQueued, job.Stage)
	assert.Equal(t, 0, job.Progress)

	require.NoError(t, tr.Advance(ctx, job.ID, models.StageUploading, 5, "Uploading file"))
	require.NoError(t, tr.Advance(ctx, job.ID, models.StageParsing, 10, "Parsing document"))
	require.NoError(t, tr.Advance(ctx, job.ID, models.StageParsing, 30, "Parsed"))

	got, err := tr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageParsing, got.Stage)
	assert.Equal(t, 30, got.Progress)

	ev, ok, err := b.Latest(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, events.TypeProgress, ev.Type)

	var data events.ProgressData
	require.NoError(t, ev.Decode(&data))
	assert.Equal(t, "parsing", data.Status)
	assert.Equal(t, 2, data.Step)
	assert.Equal(t, "Parsing", data.StepName)
	assert.Equal(t, 30, data.Progress)
}

func TestTrackerRejectsBackwardStage(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	job, err := tr.Create(ctx, "report.pdf")
	require.NoError(t, err)

	require.NoError(t, tr.Advance(ctx, job.ID, models.StageEnriching, 40, "Enriching"))

	err = tr.Advance(ctx, job.ID, models.StageParsing, 15, "Parsing")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTrackerClampsPercentWithinStage(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	job, err := tr.Create(ctx, "report.pdf")
	require.NoError(t, err)

	require.NoError(t, tr.Advance(ctx, job.ID, models.StageEnriching, 60, "chunk 5/10"))
	require.NoError(t, tr.Advance(ctx, job.ID, models.StageEnriching, 50, "late update"))

	got, err := tr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)
}

func TestTrackerTerminalLatching(t *testing.T) {
	ctx := context.Background()
	tr, b := newTestTracker(t)

	job, err := tr.Create(ctx, "report.pdf")
	require.NoError(t, err)

	result := &models.JobResult{DocumentID: "doc-1", ChunksProcessed: 12}
	require.NoError(t, tr.Complete(ctx, job.ID, result))

	err = tr.Advance(ctx, job.ID, models.StageVectorizing, 90, "too late")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	err = tr.Fail(ctx, job.ID, "boom")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	ev, ok, err := b.Latest(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, events.TypeComplete, ev.Type)

	var data events.CompleteData
	require.NoError(t, ev.Decode(&data))
	assert.Equal(t, 100, data.Progress)
	require.NotNil(t, data.Result)
	assert.Equal(t, "doc-1", data.Result.DocumentID)
}

func TestTrackerFailPublishesError(t *testing.T) {
	ctx := context.Background()
	tr, b := newTestTracker(t)

	job, err := tr.Create(ctx, "report.pdf")
	require.NoError(t, err)

	require.NoError(t, tr.Fail(ctx, job.ID, "parser unavailable"))

	got, err := tr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, got.Stage)
	assert.Equal(t, "parser unavailable", got.Error)

	ev, ok, err := b.Latest(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, events.TypeError, ev.Type)
}

func TestTrackerRestartOnlyFromFailed(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	job, err := tr.Create(ctx, "report.pdf")
	require.NoError(t, err)

	err = tr.Restart(ctx, job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, tr.Fail(ctx, job.ID, "boom"))
	require.NoError(t, tr.Restart(ctx, job.ID))

	got, err := tr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageQueued, got.Stage)
	assert.Equal(t, 0, got.Progress)
	assert.Empty(t, got.Error)
}

func TestTrackerUnknownJob(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	err := tr.Advance(ctx, "missing", models.StageParsing, 10, "x")
	assert.ErrorIs(t, err, ErrUnknownJob)

	_, err = tr.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}
