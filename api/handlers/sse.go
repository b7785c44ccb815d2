package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
)

// streamRegistry enforces one live stream per key. Opening a stream
// for a key cancels the previous holder.
type streamRegistry struct {
	mu     sync.Mutex
	active map[string]*registration
}

type registration struct {
	cancel context.CancelFunc
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{active: make(map[string]*registration)}
}

// acquire registers a stream for key, displacing any previous one. The
// returned context ends when the parent ends or a newer stream for the
// same key arrives. The release func must be called when the stream
// finishes.
func (r *streamRegistry) acquire(parent context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	reg := &registration{cancel: cancel}

	r.mu.Lock()
	if prev := r.active[key]; prev != nil {
		prev.cancel()
	}
	r.active[key] = reg
	r.mu.Unlock()

	release := func() {
		cancel()
		r.mu.Lock()
		if r.active[key] == reg {
			delete(r.active, key)
		}
		r.mu.Unlock()
	}
	return ctx, release
}

// sseWriter pushes event envelopes over a server-sent events response.
type sseWriter struct {
	w       gin.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(c *gin.Context) (*sseWriter, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: c.Writer, flusher: flusher}, nil
}

func (s *sseWriter) send(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
