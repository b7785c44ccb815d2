package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
)

var (
	// ErrPoolExhausted means every credential was tried or is cooling
	// down. Callers should retry after the shortest cooldown expires.
	ErrPoolExhausted = errors.New("credential pool exhausted")

	// ErrNoCredentials means the dispatcher was built with an empty pool.
	ErrNoCredentials = errors.New("no credentials configured")

	// ErrTimeout marks a call that hit its deadline. Timed-out
	// credentials are not penalized; the next slot is tried.
	ErrTimeout = errors.New("upstream call timed out")
)

// RateLimitError marks a call rejected by upstream rate limiting.
// RetryAfter carries the server-provided backoff when present; zero
// means the dispatcher's default cooldown applies.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

type slot struct {
	credential string
	coolUntil  time.Time
}

// Dispatcher rotates calls across a pool of API credentials. A slot
// that gets rate limited cools down and is skipped until its cooldown
// passes; expiry is evaluated lazily at selection time, there is no
// background timer.
type Dispatcher struct {
	mu          sync.Mutex
	slots       []*slot
	next        int
	cooldown    time.Duration
	callTimeout time.Duration
	maxAttempts int
	now         func() time.Time
	log         logger.Logger
}

type Option func(*Dispatcher)

// WithCooldown sets the fallback cooldown used when the upstream gives
// no retry-after hint.
func WithCooldown(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.cooldown = d }
}

// WithMaxAttempts caps selection attempts per Do call. Zero means the
// pool size.
func WithMaxAttempts(n int) Option {
	return func(disp *Dispatcher) { disp.maxAttempts = n }
}

// WithCallTimeout bounds each attempted call. Zero leaves the caller's
// deadline in force.
func WithCallTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.callTimeout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(disp *Dispatcher) { disp.now = now }
}

func WithLogger(log logger.Logger) Option {
	return func(disp *Dispatcher) { disp.log = log.Named("dispatch") }
}

func New(credentials []string, opts ...Option) (*Dispatcher, error) {
	if len(credentials) == 0 {
		return nil, ErrNoCredentials
	}

	d := &Dispatcher{
		slots:    make([]*slot, len(credentials)),
		cooldown: time.Minute,
		now:      time.Now,
		log:      logger.NewNop(),
	}
	for i, c := range credentials {
		d.slots[i] = &slot{credential: c}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Size returns the pool size.
func (d *Dispatcher) Size() int { return len(d.slots) }

// Available counts slots not currently cooling down.
func (d *Dispatcher) Available() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	n := 0
	for _, s := range d.slots {
		if !s.coolUntil.After(now) {
			n++
		}
	}
	return n
}

// Do runs call with successive credentials until one succeeds. Rotation
// is round robin starting after the last slot handed out. Rate-limited
// slots cool down; timed-out slots are skipped for this call without
// penalty. Any other error returns immediately.
func (d *Dispatcher) Do(ctx context.Context, call func(ctx context.Context, credential string) error) error {
	attempts := d.maxAttempts
	if attempts <= 0 {
		attempts = len(d.slots)
	}

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx, credential, ok := d.acquire()
		if !ok {
			return ErrPoolExhausted
		}

		callCtx, cancel := d.callContext(ctx)
		err := call(callCtx, credential)
		cancel()
		if err == nil {
			return nil
		}

		var rl *RateLimitError
		switch {
		case errors.As(err, &rl):
			d.cool(idx, rl.RetryAfter)
		case errors.Is(err, ErrTimeout):
			d.log.Warn("credential call timed out, rotating",
				logger.Int("slot", idx))
		case errors.Is(err, context.DeadlineExceeded):
			d.log.Warn("credential call timed out, rotating",
				logger.Int("slot", idx))
		default:
			return err
		}
	}

	return ErrPoolExhausted
}

// callContext applies the per-call deadline on top of the caller's.
func (d *Dispatcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.callTimeout)
}

// acquire picks the next available slot after the last one handed out.
// Expired cooldowns are cleared in passing.
func (d *Dispatcher) acquire() (int, string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for i := 0; i < len(d.slots); i++ {
		idx := (d.next + i) % len(d.slots)
		s := d.slots[idx]
		if s.coolUntil.After(now) {
			continue
		}
		s.coolUntil = time.Time{}
		d.next = (idx + 1) % len(d.slots)
		return idx, s.credential, true
	}
	return 0, "", false
}

func (d *Dispatcher) cool(idx int, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = d.cooldown
	}

	d.mu.Lock()
	d.slots[idx].coolUntil = d.now().Add(retryAfter)
	d.mu.Unlock()

	d.log.Warn("credential cooling down",
		logger.Int("slot", idx),
		logger.Duration("retry_after", retryAfter))
}
