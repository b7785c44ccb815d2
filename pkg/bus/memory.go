package bus

import (
	"context"
	"sync"
	"time"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
)

// Memory is an in-process Bus for tests and single-binary deployments.
type Memory struct {
	mu        sync.Mutex
	latest    map[string]memoryEntry
	subs      map[string]map[int]chan events.Event
	nextSubID int
	ttl       time.Duration
}

type memoryEntry struct {
	ev      events.Event
	expires time.Time
}

// NewMemory creates a Memory bus retaining each job's latest event for
// ttl. Zero ttl disables expiry.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		latest: make(map[string]memoryEntry),
		subs:   make(map[string]map[int]chan events.Event),
		ttl:    ttl,
	}
}

func (m *Memory) Publish(_ context.Context, jobID string, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{ev: ev}
	if m.ttl > 0 {
		entry.expires = time.Now().Add(m.ttl)
	}
	m.latest[jobID] = entry

	for _, ch := range m.subs[jobID] {
		select {
		case ch <- ev:
		default:
			// Drop for slow consumers; Latest still catches them up.
		}
	}
	return nil
}

func (m *Memory) Latest(_ context.Context, jobID string) (events.Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.latest[jobID]
	if !ok {
		return events.Event{}, false, nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(m.latest, jobID)
		return events.Event{}, false, nil
	}
	return entry.ev, true, nil
}

func (m *Memory) Subscribe(ctx context.Context, jobID string) (<-chan events.Event, error) {
	ch := make(chan events.Event, 64)

	m.mu.Lock()
	if m.subs[jobID] == nil {
		m.subs[jobID] = make(map[int]chan events.Event)
	}
	id := m.nextSubID
	m.nextSubID++
	m.subs[jobID][id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs[jobID], id)
		if len(m.subs[jobID]) == 0 {
			delete(m.subs, jobID)
		}
		m.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (m *Memory) Close() error { return nil }
