package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"restdispatch/internal/shared/logs"
	"restdispatch/internal/shared/metrics"

	antslib "github.com/panjf2000/ants/v2"
)

// Mode selects how queued requests are admitted.
type Mode string

const (
	// ModeSequential admits one request at a time across the whole client,
	// in submission order.
	ModeSequential Mode = "sequential"
	// ModeBurst drains every bucket concurrently on a worker pool, bounded
	// only by the rate limits.
	ModeBurst Mode = "burst"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeBurst:
		return ModeBurst, nil
	}
	return "", fmt.Errorf("unknown dispatch mode %q", s)
}

// RateLimitEvent is emitted for every 429.
type RateLimitEvent struct {
	Bucket     string
	Method     string
	Path       string
	RetryAfter time.Duration
	Global     bool
	Attempt    int
	At         time.Time
}

// Observer receives rate-limit events. Calls are synchronous with dispatch
// and must not block.
type Observer interface {
	RateLimited(RateLimitEvent)
}

type SchedulerConfig struct {
	Mode   Mode
	Policy RetryPolicy
	// RestTimeOffset is added to every server reset time.
	RestTimeOffset time.Duration
	GlobalRPS      float64
	BurstWorkers   int
	Observer       Observer
}

// Scheduler owns the bucket queues and the global limiter.
//
// Lock order is s.mu, then a bucket lock. The global limiter lock is never
// held together with either, and no lock is held across a send.
type Scheduler struct {
	sender   Sender
	policy   RetryPolicy
	mode     Mode
	offset   time.Duration
	global   *GlobalLimiter
	pool     *antslib.Pool
	observer Observer
	metrics  *metrics.RESTMetrics
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	tickets []string
	timers  map[*job]*time.Timer
	closed  bool

	// admitted numbers admissions so per-bucket order can be checked.
	admitted atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	work   sync.WaitGroup
}

func NewScheduler(sender Sender, cfg SchedulerConfig) (*Scheduler, error) {
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sender:   sender,
		policy:   cfg.Policy,
		mode:     mode,
		offset:   cfg.RestTimeOffset,
		global:   NewGlobalLimiter(cfg.GlobalRPS),
		observer: cfg.Observer,
		metrics:  metrics.GetREST(),
		log:      logs.Component("rest.scheduler"),
		now:      time.Now,
		buckets:  make(map[string]*bucket),
		timers:   make(map[*job]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
	}

	switch mode {
	case ModeBurst:
		workers := cfg.BurstWorkers
		if workers <= 0 {
			workers = 32
		}
		pool, err := antslib.NewPool(workers, antslib.WithPanicHandler(func(r any) {
			logs.Error("panic in rest worker", "error", r)
		}))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create worker pool: %w", err)
		}
		s.pool = pool
	default:
		s.work.Add(1)
		go s.dispatch()
	}

	s.log.Info("scheduler started",
		"mode", mode,
		"retry_limit", cfg.Policy.Limit,
		"rest_time_offset", cfg.RestTimeOffset,
		"global_rps", cfg.GlobalRPS)
	return s, nil
}

// Mode returns the admission mode in use.
func (s *Scheduler) Mode() Mode { return s.mode }

// Submit queues a descriptor at the back of its bucket.
func (s *Scheduler) Submit(d *Descriptor) *Future {
	j := &job{desc: d, future: newFuture()}
	s.enqueue(j)
	return j.future
}

func (s *Scheduler) enqueue(j *job) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.fail(j, ErrClosed, "closed")
		return
	}
	b := s.bucketLocked(j.desc.Bucket)
	depth := b.push(j)
	startDrain := false
	if s.mode == ModeSequential {
		s.tickets = append(s.tickets, b.key)
	} else if b.startDrain() {
		startDrain = true
		s.work.Add(1)
	}
	s.mu.Unlock()

	s.metrics.QueueDepth.WithLabelValues(b.key).Set(float64(depth))
	s.log.Debug("request queued",
		"method", j.desc.Method,
		"path", j.desc.Path,
		"bucket", b.key,
		"attempt", j.desc.attempts,
		"queue_depth", depth)

	if startDrain {
		go s.drain(b)
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) bucketLocked(key string) *bucket {
	b, ok := s.buckets[key]
	if !ok {
		b = newBucket(key)
		s.buckets[key] = b
		s.log.Debug("created bucket", "bucket", key, "total_buckets", len(s.buckets))
	}
	return b
}

// dispatch is the single admission slot of sequential mode.
func (s *Scheduler) dispatch() {
	defer s.work.Done()
	for {
		b, ok := s.nextTicket()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}

		j, depth := b.pop()
		if j == nil {
			continue
		}
		s.metrics.QueueDepth.WithLabelValues(b.key).Set(float64(depth))
		if !s.admit(b) {
			s.fail(j, ErrClosed, "closed")
			continue
		}
		b.take(s.now())
		j.desc.admission = s.admitted.Add(1)
		s.execute(b, j)
	}
}

func (s *Scheduler) nextTicket() (*bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tickets) == 0 {
		return nil, false
	}
	key := s.tickets[0]
	s.tickets = s.tickets[1:]
	return s.buckets[key], true
}

// drain feeds one bucket's queue to the worker pool in burst mode.
func (s *Scheduler) drain(b *bucket) {
	defer s.work.Done()
	for {
		j, depth := b.popOrIdle()
		if j == nil {
			return
		}
		s.metrics.QueueDepth.WithLabelValues(b.key).Set(float64(depth))
		if !s.admit(b) {
			s.fail(j, ErrClosed, "closed")
			continue
		}
		b.take(s.now())
		j.desc.admission = s.admitted.Add(1)

		s.work.Add(1)
		err := s.pool.Submit(func() {
			defer s.work.Done()
			s.execute(b, j)
		})
		if err != nil {
			s.work.Done()
			b.release()
			s.fail(j, fmt.Errorf("submit to worker pool: %w", err), "pool")
		}
	}
}

// admit waits until both the bucket and the global limiter allow a send.
// It returns false if the scheduler closed meanwhile.
func (s *Scheduler) admit(b *bucket) bool {
	for {
		now := s.now()
		if d := b.delay(now, s.offset); d > 0 {
			s.log.Debug("bucket exhausted, waiting for reset", "bucket", b.key, "wait", d)
			if !s.sleep(d) {
				return false
			}
			continue
		}
		if d := s.global.Delay(now); d > 0 {
			s.log.Debug("global limit active, waiting", "bucket", b.key, "wait", d)
			if !s.sleep(d) {
				return false
			}
			continue
		}
		break
	}

	waitStart := time.Now()
	if err := s.global.Wait(s.ctx); err != nil {
		return false
	}
	if waited := time.Since(waitStart); waited > 100*time.Millisecond {
		s.log.Debug("global rate limiter wait", "bucket", b.key, "wait_duration", waited)
	}
	return true
}

func (s *Scheduler) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// execute sends one attempt and acts on the retry decision. The send is not
// tied to any caller context; it always completes and updates limits.
func (s *Scheduler) execute(b *bucket, j *job) {
	defer b.release()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic while executing request", "bucket", b.key, "path", j.desc.Path, "error", r)
			s.fail(j, fmt.Errorf("panic while executing request: %v", r), "panic")
		}
	}()

	d := j.desc
	start := time.Now()
	raw, err := s.sender.Send(context.Background(), d)
	elapsed := time.Since(start)

	var env *Envelope
	status := "network_error"
	if err == nil {
		env = Classify(raw)
		status = strconv.Itoa(env.StatusCode)
		if remaining, ok := b.update(env.Header, s.now()); ok {
			s.metrics.BucketRemaining.WithLabelValues(b.key).Set(float64(remaining))
		}
	} else {
		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			err = &NetworkError{Cause: err}
		}
	}
	s.metrics.Requests.WithLabelValues(d.Method, b.key, status).Inc()
	s.metrics.Duration.WithLabelValues(b.key).Observe(elapsed.Seconds())

	decision := s.policy.Evaluate(env, err, d.attempts)
	if limited := GetRateLimitError(decision.Err); limited != nil {
		limited.Bucket = b.key
		s.rateLimited(b, d, limited)
	}

	switch decision.Action {
	case ActionDone:
		s.log.Debug("request completed",
			"method", d.Method,
			"path", d.Path,
			"bucket", b.key,
			"status", status,
			"attempt", d.attempts,
			"duration", elapsed)
		env.Attempts = d.attempts + 1
		j.future.resolve(env, nil)
	case ActionRetry:
		s.metrics.Retries.WithLabelValues(decision.Reason).Inc()
		s.log.Info("retrying request",
			"method", d.Method,
			"path", d.Path,
			"bucket", b.key,
			"status", status,
			"attempt", d.attempts,
			"delay", decision.Delay,
			"reason", decision.Reason,
			"error", decision.Err)
		s.backoff(j, decision.Delay)
	default:
		s.fail(j, decision.Err, decision.Reason)
	}
}

func (s *Scheduler) rateLimited(b *bucket, d *Descriptor, e *RateLimitedError) {
	now := s.now()
	until := now.Add(e.RetryAfter)
	if e.Global {
		s.global.Block(until)
		s.metrics.GlobalBlocks.Inc()
	} else {
		b.block(until)
	}
	s.log.Warn("rate limited",
		"method", d.Method,
		"path", d.Path,
		"bucket", b.key,
		"global", e.Global,
		"retry_after", e.RetryAfter,
		"attempt", d.attempts)

	if s.observer != nil {
		s.observer.RateLimited(RateLimitEvent{
			Bucket:     b.key,
			Method:     d.Method,
			Path:       d.Path,
			RetryAfter: e.RetryAfter,
			Global:     e.Global,
			Attempt:    d.attempts,
			At:         now,
		})
	}
}

// backoff arms a timer that re-queues the job at the back of its bucket with
// the attempt counter incremented.
func (s *Scheduler) backoff(j *job, delay time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.fail(j, ErrClosed, "closed")
		return
	}
	s.timers[j] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if _, pending := s.timers[j]; !pending {
			s.mu.Unlock()
			return
		}
		delete(s.timers, j)
		s.mu.Unlock()

		j.desc.attempts++
		s.enqueue(j)
	})
	s.mu.Unlock()
}

func (s *Scheduler) fail(j *job, err error, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	s.metrics.Failures.WithLabelValues(kind).Inc()
	if !errors.Is(err, ErrClosed) {
		s.log.Warn("request failed",
			"method", j.desc.Method,
			"path", j.desc.Path,
			"bucket", j.desc.Bucket,
			"kind", kind,
			"attempts", j.desc.attempts+1,
			"error", err)
	}
	j.future.resolve(nil, err)
}

// Snapshot returns the state of every bucket, sorted by key.
func (s *Scheduler) Snapshot() []BucketSnapshot {
	s.mu.Lock()
	buckets := make([]*bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, b)
	}
	s.mu.Unlock()

	out := make([]BucketSnapshot, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, b.snapshot())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Key < out[k].Key })
	return out
}

// GlobalBlocked reports whether a global 429 block is active.
func (s *Scheduler) GlobalBlocked() bool {
	return s.global.Blocked(s.now())
}

// Close stops admission, fails everything still queued or backing off with
// ErrClosed and waits for in-flight sends to finish or ctx to end.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var pending []*job
	for j, t := range s.timers {
		t.Stop()
		pending = append(pending, j)
	}
	s.timers = make(map[*job]*time.Timer)
	for _, b := range s.buckets {
		pending = append(pending, b.drainAll()...)
	}
	s.tickets = nil
	s.mu.Unlock()

	s.cancel()
	for _, j := range pending {
		s.fail(j, ErrClosed, "closed")
	}

	finished := make(chan struct{})
	go func() {
		s.work.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.pool != nil {
		s.pool.Release()
	}
	s.log.Info("scheduler stopped", "failed_pending", len(pending))
	return nil
}
