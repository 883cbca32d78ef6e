package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"restdispatch/internal/core/config"
	"restdispatch/internal/core/cookiestore"
	natscore "restdispatch/internal/core/nats"
	"restdispatch/internal/core/redis"
	"restdispatch/internal/core/rest"
	"restdispatch/internal/relay"
	"restdispatch/internal/shared"
	"restdispatch/internal/shared/logs"
	"restdispatch/internal/shared/metrics"

	antslib "github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redislib "github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.LoadConfig()
	if cfg.Debug {
		logs.EnableDebug()
	}

	// signal-aware context first
	ctx, cancel := shared.NewSignalContext(context.Background())
	defer cancel()

	cleanupFns := []func(context.Context){}
	fail := func(msg string, err error) {
		logs.Error(msg, "error", err)
		cancel()
		shared.WaitForShutdown(ctx, 5*time.Second, cleanupFns...)
	}

	metrics.InitREST()
	metrics.InitRelay()
	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr)
		cleanupFns = append(cleanupFns, func(c context.Context) { _ = srv.Shutdown(c) })
	}

	var rdb *redislib.Client
	if cfg.RedisURL != "" {
		var err error
		rdb, err = redis.Connect(cfg)
		if err != nil {
			fail("failed to connect to redis", err)
			return
		}
		cleanupFns = append(cleanupFns, func(c context.Context) { redis.Cleanup(c, rdb) })
	}

	jar, err := cookiestore.New(rdb, cfg.CookieKey)
	if err != nil {
		fail("failed to create cookie jar", err)
		return
	}
	if err := jar.Restore(ctx); err != nil {
		logs.Warn("failed to restore cookies, starting with an empty jar", "error", err)
	}

	natsConn, js, err := natscore.ConnectJetStream(cfg)
	if err != nil {
		fail("failed to connect to nats", err)
		return
	}
	cleanupFns = append(cleanupFns, func(context.Context) { natscore.Cleanup(natsConn) })

	if err := natscore.EnsureStreams(ctx, js, natscore.DefaultStreams()); err != nil {
		fail("failed to ensure streams", err)
		return
	}

	events := natscore.NewEventPublisher(js, 256)
	cleanupFns = append(cleanupFns, func(c context.Context) { _ = events.Close(c) })

	restCfg, err := rest.ConfigFrom(cfg)
	if err != nil {
		fail("invalid rest configuration", err)
		return
	}
	session := rest.NewSession(rest.Credentials{Token: cfg.Token, Bot: cfg.Bot, Cookie: cfg.SessionCookie})
	client, err := rest.New(restCfg, session, rest.WithCookieJar(jar), rest.WithObserver(events))
	if err != nil {
		fail("failed to create rest client", err)
		return
	}
	cleanupFns = append(cleanupFns, func(c context.Context) {
		if err := client.Close(c); err != nil {
			logs.Warn("rest client did not drain in time", "error", err)
		}
	})

	if cfg.Token != "" && !cfg.Bot {
		if _, err := client.RefreshFingerprint(ctx); err != nil {
			logs.Warn("failed to refresh fingerprint", "error", err)
		}
	}

	pool, err := antslib.NewPool(cfg.RelayWorkers, antslib.WithPanicHandler(func(r any) {
		logs.Error("panic in relay worker", "error", r)
	}))
	if err != nil {
		fail("failed to create worker pool", err)
		return
	}
	cleanupFns = append(cleanupFns, func(context.Context) { pool.Release() })

	// Final snapshot runs after the subscriber stopped and before Redis closes.
	cleanupFns = append(cleanupFns, func(c context.Context) {
		if err := jar.Persist(c); err != nil {
			logs.Warn("failed to persist cookies at shutdown", "error", err)
		}
	})

	jobs, err := relay.NewJobs()
	if err != nil {
		fail("failed to create job scheduler", err)
		return
	}
	if cfg.CookieSnapshot > 0 {
		if err := jobs.Every("cookie-snapshot", cfg.CookieSnapshot, relay.CookieSnapshotJob(jar, rdb)); err != nil {
			fail("failed to schedule cookie snapshot", err)
			return
		}
	}
	if err := jobs.Every("dispatch-status", time.Minute, relay.StatusReportJob(client.Scheduler())); err != nil {
		fail("failed to schedule status report", err)
		return
	}
	jobs.Start()
	cleanupFns = append(cleanupFns, func(context.Context) {
		if err := jobs.Stop(); err != nil {
			logs.Warn("failed to stop jobs", "error", err)
		}
	})

	handler := relay.NewHandler(client, js)
	stopSubscriber, err := relay.Subscribe(ctx, js, pool, handler, relay.DefaultSubscriberConfig())
	if err != nil {
		fail("failed to subscribe to call requests", err)
		return
	}
	cleanupFns = append(cleanupFns, stopSubscriber)

	logs.Info("relay service running",
		"base_url", restCfg.BaseURL(),
		"mode", restCfg.Mode,
		"workers", cfg.RelayWorkers,
		"redis", rdb != nil)

	// normal blocking shutdown
	shared.WaitForShutdown(ctx, 10*time.Second, cleanupFns...)
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logs.Info("metrics server listening", "addr", addr)
	return srv
}
