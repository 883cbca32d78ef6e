package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"restdispatch/internal/core/cookiestore"
	rediscore "restdispatch/internal/core/redis"
	"restdispatch/internal/core/rest"
	"restdispatch/internal/shared/logs"

	"github.com/go-co-op/gocron/v2"
	redislib "github.com/redis/go-redis/v9"
)

// JobFunc is one periodic task.
type JobFunc func(ctx context.Context) error

// Jobs runs the relay's periodic housekeeping.
type Jobs struct {
	scheduler gocron.Scheduler
	log       *slog.Logger
}

func NewJobs() (*Jobs, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create job scheduler: %w", err)
	}
	return &Jobs{scheduler: sched, log: logs.Component("relay.jobs")}, nil
}

// Every runs fn at the given interval. A run is skipped while the previous
// one is still going.
func (j *Jobs) Every(name string, interval time.Duration, fn JobFunc) error {
	task := func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := fn(ctx); err != nil {
			j.log.Error("job failed", "job", name, "error", err, "duration_ms", time.Since(start).Milliseconds())
			return
		}
		j.log.Debug("job completed", "job", name, "duration_ms", time.Since(start).Milliseconds())
	}

	_, err := j.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithTags("relay:"+name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	j.log.Info("job scheduled", "job", name, "interval", interval)
	return nil
}

func (j *Jobs) Start() { j.scheduler.Start() }

func (j *Jobs) Stop() error {
	return j.scheduler.Shutdown()
}

// CookieSnapshotJob persists the jar. With Redis, a short lock keeps several
// relays from writing the same key at once.
func CookieSnapshotJob(jar *cookiestore.Jar, rdb *redislib.Client) JobFunc {
	return func(ctx context.Context) error {
		if rdb == nil {
			return jar.Persist(ctx)
		}
		acquired, release, err := rediscore.AcquireLock(ctx, rdb, jar.Key()+":lock", 30*time.Second)
		if err != nil {
			return fmt.Errorf("acquire cookie lock: %w", err)
		}
		if !acquired {
			logs.Debug("cookie snapshot held by another relay", "key", jar.Key())
			return nil
		}
		defer release()
		return jar.Persist(ctx)
	}
}

// StatusReportJob logs the state of every bucket that has queued or
// in-flight work, plus any active global block.
func StatusReportJob(s *rest.Scheduler) JobFunc {
	return func(context.Context) error {
		busy := 0
		for _, b := range s.Snapshot() {
			if b.Queued == 0 && b.InFlight == 0 {
				continue
			}
			busy++
			logs.Info("bucket status",
				"bucket", b.Key,
				"queued", b.Queued,
				"in_flight", b.InFlight,
				"remaining", b.Remaining,
				"limit", b.Limit,
				"reset_at", b.ResetAt)
		}
		logs.Info("dispatch status", "mode", s.Mode(), "busy_buckets", busy, "global_blocked", s.GlobalBlocked())
		return nil
	}
}
