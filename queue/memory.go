package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryOptions configures a Memory queue.
type MemoryOptions struct {
	// DuplicateWindow is how long a published id suppresses republishing.
	DuplicateWindow time.Duration
	// FetchWait bounds how long Fetch blocks when the queue is empty.
	FetchWait time.Duration
}

// DefaultMemoryOptions mirrors the JetStream defaults used in production.
func DefaultMemoryOptions() MemoryOptions {
	return MemoryOptions{DuplicateWindow: 2 * time.Minute, FetchWait: 250 * time.Millisecond}
}

type memoryMessage struct {
	id      string
	data    []byte
	attempt int
}

// Memory is an in-process Queue with the same delivery semantics as the
// JetStream queue: deduplicated publishes, per-message attempts and delayed naks.
type Memory struct {
	opts MemoryOptions

	mu       sync.Mutex
	ready    []*memoryMessage
	inFlight int
	delayed  int
	seen     map[string]time.Time
	pruned   time.Time
	closed   bool
	signal   chan struct{}
	timers   map[*time.Timer]struct{}
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an empty in-memory queue.
func NewMemory(opts MemoryOptions) *Memory {
	if opts.FetchWait <= 0 {
		opts.FetchWait = DefaultMemoryOptions().FetchWait
	}
	return &Memory{
		opts:   opts,
		seen:   make(map[string]time.Time),
		signal: make(chan struct{}, 1),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Publish enqueues data unless id was published within the duplicate window.
func (q *Memory) Publish(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	now := time.Now()
	q.pruneSeen(now)
	if id != "" && q.opts.DuplicateWindow > 0 {
		if at, ok := q.seen[id]; ok && now.Sub(at) < q.opts.DuplicateWindow {
			return nil
		}
		q.seen[id] = now
	}
	q.ready = append(q.ready, &memoryMessage{id: id, data: append([]byte(nil), data...)})
	q.notify()
	return nil
}

// Fetch blocks until a message is ready, FetchWait elapses or ctx is done.
func (q *Memory) Fetch(ctx context.Context, max int) ([]Delivery, error) {
	if max < 1 {
		max = 1
	}
	timer := time.NewTimer(q.opts.FetchWait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.ready) > 0 {
			n := min(max, len(q.ready))
			batch := q.ready[:n]
			q.ready = q.ready[n:]
			q.inFlight += n
			q.mu.Unlock()

			deliveries := make([]Delivery, n)
			for i, msg := range batch {
				msg.attempt++
				deliveries[i] = &memoryDelivery{queue: q, msg: msg, attempt: msg.attempt}
			}
			return deliveries, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return []Delivery{}, nil
		case <-q.signal:
		}
	}
}

// Len returns the number of messages not yet settled, including delayed and in-flight ones.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + q.inFlight + q.delayed
}

// Close stops the queue. Pending messages are discarded.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	clear(q.timers)
	q.ready = nil
	close(q.signal)
	return nil
}

// pruneSeen drops ids whose duplicate window has passed. It sweeps at most
// once per window. Must be called with the lock held.
func (q *Memory) pruneSeen(now time.Time) {
	if q.opts.DuplicateWindow <= 0 || now.Sub(q.pruned) < q.opts.DuplicateWindow {
		return
	}
	for id, at := range q.seen {
		if now.Sub(at) >= q.opts.DuplicateWindow {
			delete(q.seen, id)
		}
	}
	q.pruned = now
}

func (q *Memory) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Memory) settle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight--
}

func (q *Memory) requeue(msg *memoryMessage, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight--
	if q.closed {
		return
	}
	if delay <= 0 {
		q.ready = append(q.ready, msg)
		q.notify()
		return
	}
	q.delayed++
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		q.delayed--
		if q.closed {
			return
		}
		q.ready = append(q.ready, msg)
		q.notify()
	})
	q.timers[timer] = struct{}{}
}

type memoryDelivery struct {
	queue   *Memory
	msg     *memoryMessage
	attempt int
	once    sync.Once
}

func (d *memoryDelivery) Data() []byte { return d.msg.data }
func (d *memoryDelivery) Attempt() int { return d.attempt }

func (d *memoryDelivery) Ack() error {
	d.once.Do(func() { d.queue.settle() })
	return nil
}

func (d *memoryDelivery) Term() error {
	d.once.Do(func() { d.queue.settle() })
	return nil
}

func (d *memoryDelivery) Nak(delay time.Duration) error {
	d.once.Do(func() { d.queue.requeue(d.msg, delay) })
	return nil
}
