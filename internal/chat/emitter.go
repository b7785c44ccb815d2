package chat

import (
	"context"
	"sync"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
)

// Emitter records the full event history of one assistant turn and
// feeds it to at most one subscriber. A new Attach replaces the
// previous subscriber and replays the history from the start, so a
// reconnecting client sees the complete turn. Emission never blocks on
// the subscriber; generation continues whether or not anyone listens.
type Emitter struct {
	mu      sync.Mutex
	cond    *sync.Cond
	history []events.Event
	done    bool
	subGen  int
}

func newEmitter() *Emitter {
	e := &Emitter{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Emit appends the event to the turn history and wakes the subscriber.
// A terminal event marks the history complete.
func (e *Emitter) Emit(t events.Type, payload any) {
	ev := events.New(t, payload)

	e.mu.Lock()
	e.history = append(e.history, ev)
	if ev.ChatTerminal() {
		e.done = true
	}
	e.mu.Unlock()

	e.cond.Broadcast()
}

// Done reports whether the turn has emitted its terminal event.
func (e *Emitter) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// History returns a snapshot of all events emitted so far.
func (e *Emitter) History() []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.Event, len(e.history))
	copy(out, e.history)
	return out
}

// Attach subscribes to the turn. Any previous subscriber is displaced
// and its channel closes. The returned channel replays history first,
// then delivers live events, and closes after the terminal event or
// when ctx is canceled.
func (e *Emitter) Attach(ctx context.Context) <-chan events.Event {
	e.mu.Lock()
	e.subGen++
	gen := e.subGen
	e.mu.Unlock()
	e.cond.Broadcast()

	ch := make(chan events.Event, 32)

	// Wake the reader loop when the subscriber goes away.
	go func() {
		<-ctx.Done()
		e.cond.Broadcast()
	}()

	go func() {
		defer close(ch)
		next := 0
		for {
			e.mu.Lock()
			for next >= len(e.history) && !e.done && gen == e.subGen && ctx.Err() == nil {
				e.cond.Wait()
			}
			if gen != e.subGen || ctx.Err() != nil {
				e.mu.Unlock()
				return
			}
			if next >= len(e.history) {
				// done with nothing left to replay
				e.mu.Unlock()
				return
			}
			ev := e.history[next]
			next++
			e.mu.Unlock()

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}
