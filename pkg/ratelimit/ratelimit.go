package ratelimit

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned to waiters when the limiter is shut down.
var ErrStopped = errors.New("ratelimit: limiter stopped")

// ErrQueueFull is returned when the waiter queue is at capacity and all
// admission retries have been exhausted.
var ErrQueueFull = errors.New("ratelimit: queue full")

// Config defines a token-bucket limiter.
type Config struct {
	// RequestsPerSecond is the sustained refill rate. <= 0 disables limiting.
	RequestsPerSecond float64
	// Burst caps accumulated tokens. Defaults to ceil(RequestsPerSecond).
	Burst int
	// Concurrency bounds in-flight requests. <= 0 means unbounded.
	Concurrency int
	// QueueSize caps parked waiters. Defaults to 1000.
	QueueSize int
	// MaxRetries is how many times Acquire re-attempts admission when the
	// queue is full, with exponential backoff between attempts.
	MaxRetries int
	// RetryBackoff is the initial backoff, doubled per attempt. Defaults to 50ms.
	RetryBackoff time.Duration
}

// waiter is a parked Acquire call. Lower priority values are served first;
// seq breaks ties FIFO within a priority class.
type waiter struct {
	priority int
	seq      uint64
	ready    chan error
	index    int
}

type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }
func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}
func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return w
}

// Limiter is a token-bucket rate limiter with a priority-ordered waiter
// queue and optional bounded concurrency. It is safe for concurrent use.
type Limiter struct {
	cfg    Config
	ticker *time.Ticker
	done   chan struct{}
	sem    chan struct{}

	mu      sync.Mutex
	tokens  int
	waiters waiterHeap
	seq     uint64
	stopped bool
}

// New creates and starts a limiter. If cfg.RequestsPerSecond <= 0, Acquire
// never blocks on tokens (concurrency bounds still apply).
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}

	l := &Limiter{
		cfg:    cfg,
		done:   make(chan struct{}),
		tokens: cfg.Burst,
	}
	if cfg.Concurrency > 0 {
		l.sem = make(chan struct{}, cfg.Concurrency)
	}
	if cfg.RequestsPerSecond > 0 {
		interval := time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
		l.ticker = time.NewTicker(interval)
		go l.refill()
	}
	return l
}

// refill adds one token per tick, handing it straight to the highest
// priority waiter when one is parked.
func (l *Limiter) refill() {
	for {
		select {
		case <-l.done:
			return
		case <-l.ticker.C:
			l.mu.Lock()
			if l.waiters.Len() > 0 {
				w := heap.Pop(&l.waiters).(*waiter)
				// Send under the lock (ready is buffered) so remove can
				// reliably reclaim the token from a canceled waiter.
				w.ready <- nil
				l.mu.Unlock()
				continue
			}
			if l.tokens < l.cfg.Burst {
				l.tokens++
			}
			l.mu.Unlock()
		}
	}
}

// Acquire blocks until a token is available (by priority, FIFO within a
// class), then claims a concurrency slot. Callers must pair a successful
// Acquire with Release.
func (l *Limiter) Acquire(ctx context.Context, priority int) error {
	if err := l.acquireToken(ctx, priority); err != nil {
		return err
	}
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return ErrStopped
		}
	}
	return nil
}

func (l *Limiter) acquireToken(ctx context.Context, priority int) error {
	if l.ticker == nil {
		return nil
	}

	backoff := l.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return ErrStopped
		}
		if l.tokens > 0 && l.waiters.Len() == 0 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		if l.waiters.Len() >= l.cfg.QueueSize {
			l.mu.Unlock()
			if attempt >= l.cfg.MaxRetries {
				return ErrQueueFull
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			continue
		}

		l.seq++
		w := &waiter{priority: priority, seq: l.seq, ready: make(chan error, 1)}
		heap.Push(&l.waiters, w)
		l.mu.Unlock()

		select {
		case err := <-w.ready:
			return err
		case <-ctx.Done():
			l.remove(w)
			return ctx.Err()
		}
	}
}

// remove detaches a waiter that gave up before being served. The waiter may
// have been popped concurrently; refill sends while holding mu, so under mu
// the hand-off is either fully visible on ready or not started, and the
// token can be reclaimed without loss.
func (l *Limiter) remove(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w.index >= 0 && w.index < l.waiters.Len() && l.waiters[w.index] == w {
		heap.Remove(&l.waiters, w.index)
		return
	}
	select {
	case <-w.ready:
		if l.tokens < l.cfg.Burst {
			l.tokens++
		}
	default:
	}
}

// Release frees the concurrency slot claimed by Acquire.
func (l *Limiter) Release() {
	if l.sem != nil {
		select {
		case <-l.sem:
		default:
		}
	}
}

// Queued returns the number of parked waiters.
func (l *Limiter) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}

// Stop shuts the limiter down and fails all parked waiters with ErrStopped.
func (l *Limiter) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	close(l.done)
	if l.ticker != nil {
		l.ticker.Stop()
	}
	for _, w := range waiters {
		w.ready <- ErrStopped
	}
}
