package nats

import (
	"context"
	"sync"
	"time"

	"restdispatch/internal/core/rest"
	"restdispatch/internal/shared/logs"
)

// EventPublisher forwards rate-limit events to SubjectRateLimit. RateLimited
// never blocks; events beyond the buffer are dropped.
type EventPublisher struct {
	pub     Publisher
	timeout time.Duration
	events  chan RateLimitEvent
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ rest.Observer = (*EventPublisher)(nil)

// NewEventPublisher starts the publishing goroutine. Call Close to stop it.
func NewEventPublisher(pub Publisher, buffer int) *EventPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	p := &EventPublisher{
		pub:     pub,
		timeout: 5 * time.Second,
		events:  make(chan RateLimitEvent, buffer),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *EventPublisher) RateLimited(e rest.RateLimitEvent) {
	ev := RateLimitEvent{
		Bucket:       e.Bucket,
		Method:       e.Method,
		Path:         e.Path,
		RetryAfterMs: e.RetryAfter.Milliseconds(),
		Global:       e.Global,
		Attempt:      e.Attempt,
		At:           e.At.UTC(),
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		logs.Warn("dropping rate limit event, buffer full", "bucket", e.Bucket)
	}
}

func (p *EventPublisher) run() {
	defer close(p.done)
	for ev := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := PublishJSON(ctx, p.pub, SubjectRateLimit, ev); err != nil {
			logs.Warn("failed to publish rate limit event", "bucket", ev.Bucket, "error", err)
		}
		cancel()
	}
}

// Close flushes buffered events and waits for the publisher to finish or ctx to end.
func (p *EventPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
