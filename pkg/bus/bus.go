package bus

import (
	"context"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
)

// Bus carries job progress events between producers and stream
// subscribers. The latest event per job is retained so a late
// subscriber can resume from current state.
type Bus interface {
	// Publish fans the event out to live subscribers and records it
	// as the job's latest event.
	Publish(ctx context.Context, jobID string, ev events.Event) error

	// Latest returns the most recently published event for the job.
	// ok is false when the job is unknown or its retention expired.
	Latest(ctx context.Context, jobID string) (ev events.Event, ok bool, err error)

	// Subscribe delivers events published after the call. The channel
	// closes when ctx is canceled. Slow consumers may miss
	// intermediate events; the latest event is always retrievable.
	Subscribe(ctx context.Context, jobID string) (<-chan events.Event, error)

	Close() error
}
