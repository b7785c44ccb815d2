package streamclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
	"github.com/AnshulParate2004/ChunkSmith/internal/models"
)

func TestReduceJobProgress(t *testing.T) {
	var v JobView

	v = ReduceJob(v, events.New(events.TypeConnected, events.ConnectedData{Message: "ok"}))
	assert.True(t, v.Connected)

	v = ReduceJob(v, events.New(events.TypeProgress, events.ProgressData{
		Status: "parsing", Step: 2, StepName: "Parsing", Progress: 30, Message: "Parsed",
	}))
	assert.Equal(t, "parsing", v.Status)
	assert.Equal(t, 30, v.Percent)

	// A replayed lower percent never moves the bar backward.
	v = ReduceJob(v, events.New(events.TypeProgress, events.ProgressData{
		Status: "parsing", Step: 2, Progress: 10,
	}))
	assert.Equal(t, 30, v.Percent)
}

func TestReduceJobTerminalLatch(t *testing.T) {
	var v JobView
	v = ReduceJob(v, events.New(events.TypeComplete, events.CompleteData{
		Status: "complete", Progress: 100,
		Result: &models.JobResult{DocumentID: "doc-1"},
	}))
	assert.True(t, v.Terminal)
	assert.Equal(t, 100, v.Percent)
	assert.Equal(t, "doc-1", v.Result.DocumentID)

	after := ReduceJob(v, events.New(events.TypeProgress, events.ProgressData{Progress: 50}))
	assert.Equal(t, v, after)

	var failed JobView
	failed = ReduceJob(failed, events.New(events.TypeError, events.ErrorData{Message: "boom"}))
	assert.True(t, failed.Terminal)
	assert.Equal(t, "boom", failed.Err)
}

func TestReduceTurnFullFlow(t *testing.T) {
	var v TurnView

	v = ReduceTurn(v, events.New(events.TypeSearchStart, events.SearchStartData{Query: "q"}))
	assert.True(t, v.Searching)

	v = ReduceTurn(v, events.New(events.TypeSearchComplete, events.SearchCompleteData{
		ChunkCount: 3, Sources: []string{"report.pdf"},
	}))
	assert.False(t, v.Searching)
	assert.Equal(t, 3, v.ChunkCount)

	v = ReduceTurn(v, events.New(events.TypeImage, events.ImageData{Filename: "fig1.png"}))
	v = ReduceTurn(v, events.New(events.TypeImage, events.ImageData{Filename: "fig2.png"}))
	v = ReduceTurn(v, events.New(events.TypeImagesFound, events.ImagesFoundData{Count: 2}))
	assert.Equal(t, []string{"fig1.png", "fig2.png"}, v.Images)

	v = ReduceTurn(v, events.New(events.TypeResponseStart, struct{}{}))
	assert.True(t, v.Writing)

	v = ReduceTurn(v, events.New(events.TypeContent, events.ContentData{Text: "The "}))
	v = ReduceTurn(v, events.New(events.TypeContent, events.ContentData{Text: "answer."}))
	assert.Equal(t, "The answer.", v.Text)

	v = ReduceTurn(v, events.New(events.TypeChatComplete, events.ChatCompleteData{
		Message: "The answer.", ImagesShown: 2, ContextChunks: 3,
	}))
	assert.True(t, v.Complete)
	assert.False(t, v.Writing)

	// Stray events between complete and end are ignored.
	v = ReduceTurn(v, events.New(events.TypeImage, events.ImageData{Filename: "late.png"}))
	v = ReduceTurn(v, events.New(events.TypeContent, events.ContentData{Text: "noise"}))
	assert.Equal(t, []string{"fig1.png", "fig2.png"}, v.Images)
	assert.Equal(t, "The answer.", v.Text)

	v = ReduceTurn(v, events.New(events.TypeEnd, struct{}{}))
	assert.True(t, v.Done)
	assert.Empty(t, v.Err)
}

func TestReduceTurnErrorKeepsPartialText(t *testing.T) {
	var v TurnView
	v = ReduceTurn(v, events.New(events.TypeResponseStart, struct{}{}))
	v = ReduceTurn(v, events.New(events.TypeContent, events.ContentData{Text: "partial "}))
	v = ReduceTurn(v, events.New(events.TypeError, events.ErrorData{Message: "generation failed"}))

	assert.True(t, v.Done)
	assert.Equal(t, "generation failed", v.Err)
	assert.Equal(t, "partial ", v.Text)

	after := ReduceTurn(v, events.New(events.TypeContent, events.ContentData{Text: "more"}))
	assert.Equal(t, v, after)
}
