package rest

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// job pairs a descriptor with the future its caller holds.
type job struct {
	desc   *Descriptor
	future *Future
}

// bucket is the per-route rate-limit state. limit and remaining are what the
// server last reported; limit 0 means no headers were seen yet.
type bucket struct {
	key string

	mu        sync.Mutex
	queue     []*job
	inFlight  int
	remaining int
	limit     int
	resetAt   time.Time
	draining  bool
}

// BucketSnapshot is a read-only view of one bucket.
type BucketSnapshot struct {
	Key       string
	Queued    int
	InFlight  int
	Remaining int
	Limit     int
	ResetAt   time.Time
}

func newBucket(key string) *bucket {
	return &bucket{key: key}
}

// delay reports how long the bucket must wait at now before sending. offset
// pads the server reset to absorb clock skew.
func (b *bucket) delay(now time.Time, offset time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining > 0 || b.resetAt.IsZero() {
		return 0
	}
	if resume := b.resetAt.Add(offset); now.Before(resume) {
		return resume.Sub(now)
	}
	return 0
}

// take records an admission. When the window already reset the bucket
// starts a fresh one at the last known limit.
func (b *bucket) take(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 && !b.resetAt.IsZero() && !now.Before(b.resetAt) {
		b.remaining = b.limit
		b.resetAt = time.Time{}
	}
	if b.remaining > 0 {
		b.remaining--
	}
	b.inFlight++
}

func (b *bucket) release() {
	b.mu.Lock()
	if b.inFlight > 0 {
		b.inFlight--
	}
	b.mu.Unlock()
}

// block holds the bucket until the given time, used after a non-global 429.
func (b *bucket) block(until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = 0
	if until.After(b.resetAt) {
		b.resetAt = until
	}
}

// update applies X-RateLimit-* headers and returns the new remaining count.
func (b *bucket) update(h http.Header, now time.Time) (remaining int, known bool) {
	limit, hasLimit := headerInt(h, "X-RateLimit-Limit")
	rem, hasRemaining := headerInt(h, "X-RateLimit-Remaining")
	resetAt, hasReset := resetTime(h, now)

	b.mu.Lock()
	defer b.mu.Unlock()
	if hasLimit {
		b.limit = limit
	}
	if hasRemaining {
		if rem < 0 {
			rem = 0
		}
		b.remaining = rem
	}
	if hasReset {
		b.resetAt = resetAt
	}
	return b.remaining, hasRemaining
}

func (b *bucket) push(j *job) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, j)
	return len(b.queue)
}

func (b *bucket) pop() (*job, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, 0
	}
	j := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return j, len(b.queue)
}

// popOrIdle pops the head of the queue, or marks the drainer idle when the
// queue is empty so the next push starts a new one.
func (b *bucket) popOrIdle() (*job, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		b.draining = false
		return nil, 0
	}
	j := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return j, len(b.queue)
}

// startDrain reports whether the caller should start a drainer.
func (b *bucket) startDrain() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.draining {
		return false
	}
	b.draining = true
	return true
}

func (b *bucket) drainAll() []*job {
	b.mu.Lock()
	defer b.mu.Unlock()
	jobs := b.queue
	b.queue = nil
	return jobs
}

func (b *bucket) snapshot() BucketSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BucketSnapshot{
		Key:       b.key,
		Queued:    len(b.queue),
		InFlight:  b.inFlight,
		Remaining: b.remaining,
		Limit:     b.limit,
		ResetAt:   b.resetAt,
	}
}

func headerInt(h http.Header, key string) (int, bool) {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0, false
		}
		n = int(f)
	}
	return n, true
}

// resetTime prefers the relative X-RateLimit-Reset-After over the absolute
// X-RateLimit-Reset epoch seconds.
func resetTime(h http.Header, now time.Time) (time.Time, bool) {
	if d, ok := parseSeconds(h.Get("X-RateLimit-Reset-After")); ok {
		return now.Add(d), true
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return time.Unix(0, int64(f*float64(time.Second))), true
		}
	}
	return time.Time{}, false
}
