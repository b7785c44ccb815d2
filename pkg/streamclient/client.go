package streamclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/AnshulParate2004/ChunkSmith/internal/events"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
)

// State is the supervisor's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrExhausted means the reconnect budget ran out before a terminal
// event arrived.
var ErrExhausted = errors.New("reconnect attempts exhausted")

// Client supervises one event stream: it connects, decodes events,
// and reconnects with backoff until a terminal event or the attempt
// budget. Any received event resets the attempt counter, so only
// consecutive failures count against the budget.
type Client struct {
	url        string
	httpClient *http.Client
	backoff    Backoff
	terminal   func(events.Event) bool
	onReset    func()
	onState    func(State)
	log        logger.Logger

	mu    sync.Mutex
	state State
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithBackoff(b Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithTerminal sets the classifier deciding which event ends the
// stream for good. Defaults to the chat classifier.
func WithTerminal(fn func(events.Event) bool) Option {
	return func(c *Client) { c.terminal = fn }
}

// WithResetFunc is invoked every time a connection is established,
// before any events arrive. Streams replay from the start on
// reconnect, so view state folded from the previous connection must be
// discarded here.
func WithResetFunc(fn func()) Option {
	return func(c *Client) { c.onReset = fn }
}

// WithStateFunc observes state transitions.
func WithStateFunc(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log.Named("streamclient") }
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{},
		backoff:    DefaultBackoff(),
		terminal:   func(ev events.Event) bool { return ev.ChatTerminal() },
		log:        logger.NewNop(),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed && c.onState != nil {
		c.onState(s)
	}
}

// Run consumes the stream until a terminal event, ctx cancellation or
// reconnect exhaustion, invoking handle for every decoded event.
func (c *Client) Run(ctx context.Context, handle func(events.Event)) error {
	defer c.setState(StateClosed)

	attempt := 0
	for {
		c.setState(StateConnecting)

		done, err := c.consume(ctx, &attempt, handle)
		if done {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		if c.backoff.Exhausted(attempt) {
			return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempt-1, err)
		}

		delay := c.backoff.Delay(attempt)
		c.log.Warn("stream dropped, reconnecting",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// consume runs one connection. done is true when a terminal event was
// seen.
func (c *Client) consume(ctx context.Context, attempt *int, handle func(events.Event)) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream request failed with status %d", resp.StatusCode)
	}

	if c.onReset != nil {
		c.onReset()
	}

	dec := NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, fmt.Errorf("stream closed before terminal event")
			}
			return false, err
		}

		c.setState(StateOpen)
		*attempt = 0
		handle(ev)

		if c.terminal(ev) {
			return true, nil
		}
	}
}
