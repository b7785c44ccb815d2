package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
)

func collect(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(out))
		}
	}
}

func eventTypes(evs []events.Event) []events.Type {
	out := make([]events.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestEmitterDeliversAndCloses(t *testing.T) {
	em := newEmitter()
	ch := em.Attach(context.Background())

	em.Emit(events.TypeSearchStart, events.SearchStartData{Query: "q"})
	em.Emit(events.TypeContent, events.ContentData{Text: "hi"})
	em.Emit(events.TypeEnd, struct{}{})

	got := collect(t, ch)
	assert.Equal(t, []events.Type{events.TypeSearchStart, events.TypeContent, events.TypeEnd}, eventTypes(got))
	assert.True(t, em.Done())
}

func TestEmitterReplaysHistoryOnReattach(t *testing.T) {
	em := newEmitter()

	em.Emit(events.TypeSearchStart, events.SearchStartData{Query: "q"})
	em.Emit(events.TypeContent, events.ContentData{Text: "partial "})

	// First subscriber sees events then drops.
	ctx1, cancel1 := context.WithCancel(context.Background())
	ch1 := em.Attach(ctx1)
	<-ch1
	<-ch1
	cancel1()

	em.Emit(events.TypeContent, events.ContentData{Text: "rest"})
	em.Emit(events.TypeEnd, struct{}{})

	// Reattach replays everything from the beginning.
	got := collect(t, em.Attach(context.Background()))
	require.Len(t, got, 4)
	assert.Equal(t, events.TypeSearchStart, got[0].Type)
	assert.Equal(t, events.TypeEnd, got[3].Type)

	var first events.ContentData
	require.NoError(t, got[1].Decode(&first))
	assert.Equal(t, "partial ", first.Text)
}

func TestEmitterReplacesSubscriber(t *testing.T) {
	em := newEmitter()
	em.Emit(events.TypeContent, events.ContentData{Text: "a"})

	ch1 := em.Attach(context.Background())
	<-ch1

	// Second attach displaces the first; its channel closes.
	ch2 := em.Attach(context.Background())

	select {
	case _, ok := <-ch1:
		assert.False(t, ok, "displaced channel should close")
	case <-time.After(2 * time.Second):
		t.Fatal("displaced channel did not close")
	}

	em.Emit(events.TypeEnd, struct{}{})
	got := collect(t, ch2)
	assert.Equal(t, []events.Type{events.TypeContent, events.TypeEnd}, eventTypes(got))
}

func TestEmitterErrorIsTerminal(t *testing.T) {
	em := newEmitter()
	ch := em.Attach(context.Background())

	em.Emit(events.TypeContent, events.ContentData{Text: "some text"})
	em.Emit(events.TypeError, events.ErrorData{Message: "boom"})

	got := collect(t, ch)
	assert.Equal(t, []events.Type{events.TypeContent, events.TypeError}, eventTypes(got))
	assert.True(t, em.Done())
}
