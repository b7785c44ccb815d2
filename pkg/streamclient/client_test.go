package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
)

func fastBackoff() Backoff {
	return Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2.0, MaxAttempts: 5}
}

func TestBackoffSchedule(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2.0, MaxAttempts: 5}

	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 8*time.Second, b.Delay(4))
	assert.Equal(t, 16*time.Second, b.Delay(5))
	assert.Equal(t, 30*time.Second, b.Delay(6))
	assert.Equal(t, 30*time.Second, b.Delay(10))

	assert.False(t, b.Exhausted(5))
	assert.True(t, b.Exhausted(6))
}

func TestDecoder(t *testing.T) {
	body := strings.NewReader(
		": comment\n" +
			"data: {\"type\":\"connected\",\"data\":{\"message\":\"ok\"},\"timestamp\":\"2025-06-01T12:00:00Z\"}\n\n" +
			"data: {\"type\":\"end\",\"timestamp\":\"2025-06-01T12:00:01Z\"}\n\n")

	dec := NewDecoder(body)

	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, events.TypeConnected, ev.Type)

	ev, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, events.TypeEnd, ev.Type)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func writeEvent(w http.ResponseWriter, ev events.Event) {
	payload, _ := json.Marshal(ev)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	w.(http.Flusher).Flush()
}

func TestClientRunsToTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, events.New(events.TypeConnected, events.ConnectedData{Message: "ok"}))
		writeEvent(w, events.New(events.TypeContent, events.ContentData{Text: "hi"}))
		writeEvent(w, events.New(events.TypeEnd, struct{}{}))
	}))
	defer srv.Close()

	var states []State
	c := New(srv.URL,
		WithBackoff(fastBackoff()),
		WithStateFunc(func(s State) { states = append(states, s) }))

	var got []events.Type
	err := c.Run(context.Background(), func(ev events.Event) { got = append(got, ev.Type) })
	require.NoError(t, err)

	assert.Equal(t, []events.Type{events.TypeConnected, events.TypeContent, events.TypeEnd}, got)
	assert.Equal(t, []State{StateConnecting, StateOpen, StateClosed}, states)
	assert.Equal(t, StateClosed, c.State())
}

func TestClientReconnectsAndResetsView(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		if hits.Add(1) == 1 {
			// First connection drops after partial content.
			writeEvent(w, events.New(events.TypeResponseStart, struct{}{}))
			writeEvent(w, events.New(events.TypeContent, events.ContentData{Text: "par"}))
			return
		}
		// Replay the whole turn on reconnect.
		writeEvent(w, events.New(events.TypeResponseStart, struct{}{}))
		writeEvent(w, events.New(events.TypeContent, events.ContentData{Text: "par"}))
		writeEvent(w, events.New(events.TypeContent, events.ContentData{Text: "tial"}))
		writeEvent(w, events.New(events.TypeChatComplete, events.ChatCompleteData{Message: "partial"}))
		writeEvent(w, events.New(events.TypeEnd, struct{}{}))
	}))
	defer srv.Close()

	var view TurnView
	c := New(srv.URL,
		WithBackoff(fastBackoff()),
		WithResetFunc(func() { view = TurnView{} }))

	err := c.Run(context.Background(), func(ev events.Event) { view = ReduceTurn(view, ev) })
	require.NoError(t, err)

	// No doubled text despite the replay.
	assert.Equal(t, "partial", view.Text)
	assert.True(t, view.Done)
	assert.Equal(t, int64(2), hits.Load())
}

func TestClientExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, WithBackoff(Backoff{
		Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1.0, MaxAttempts: 3,
	}))

	err := c.Run(context.Background(), func(events.Event) { t.Fatal("unexpected event") })
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, StateClosed, c.State())
}

func TestClientEventResetsAttemptBudget(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		// Every connection delivers one event then drops, until the
		// sixth finally finishes. With MaxAttempts 3 this only works
		// because each received event resets the counter.
		if n < 6 {
			writeEvent(w, events.New(events.TypeProgress, events.ProgressData{Progress: int(n) * 10}))
			return
		}
		writeEvent(w, events.New(events.TypeComplete, events.CompleteData{Status: "complete", Progress: 100}))
	}))
	defer srv.Close()

	c := New(srv.URL,
		WithBackoff(Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1.0, MaxAttempts: 3}),
		WithTerminal(func(ev events.Event) bool { return ev.ProgressTerminal() }))

	err := c.Run(context.Background(), func(events.Event) {})
	require.NoError(t, err)
	assert.Equal(t, int64(6), hits.Load())
}

func TestClientContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, events.New(events.TypeConnected, events.ConnectedData{}))
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(srv.URL, WithBackoff(fastBackoff()))

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(events.Event) {})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop on cancel")
	}
}
