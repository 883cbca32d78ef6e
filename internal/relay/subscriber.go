package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	natscore "restdispatch/internal/core/nats"
	"restdispatch/internal/shared/logs"

	"github.com/nats-io/nats.go/jetstream"
	antslib "github.com/panjf2000/ants/v2"
)

// SubscriberConfig holds the configuration for the call subscriber.
type SubscriberConfig struct {
	StreamName   string
	ConsumerName string
	Subject      string
	// BatchSize is how many messages one fetch asks for.
	BatchSize int
	AckWait   time.Duration
}

// DefaultSubscriberConfig reads calls from the relay's work queue.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		StreamName:   natscore.StreamRestCalls,
		ConsumerName: natscore.ConsumerRelayCalls,
		Subject:      natscore.SubjectCalls,
		BatchSize:    10,
		AckWait:      30 * time.Second,
	}
}

// Subscribe starts a pull loop that hands every message to handler on pool.
// The returned cleanup stops fetching and waits for running handlers.
func Subscribe(ctx context.Context, js jetstream.JetStream, pool *antslib.Pool, handler *Handler, cfg SubscriberConfig) (func(context.Context), error) {
	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		return nil, err
	}

	consumer, err := natscore.GetOrCreateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		FilterSubject: cfg.Subject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    natscore.MaxDeliveries,
	})
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	var running sync.WaitGroup
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		for loopCtx.Err() == nil {
			msgs, err := consumer.Fetch(cfg.BatchSize, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				logs.Error("failed to fetch messages", "subject", cfg.Subject, "error", err)
				time.Sleep(time.Second)
				continue
			}

			count := 0
			for msg := range msgs.Messages() {
				count++
				dispatch(loopCtx, pool, handler, msg, &running)
			}
			if err := msgs.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) && !errors.Is(err, context.DeadlineExceeded) {
				logs.Warn("fetch ended with error", "subject", cfg.Subject, "error", err)
			}
			if count > 0 {
				logs.Debug("fetched batch of messages", "subject", cfg.Subject, "count", count)
			}
		}
	}()

	logs.Info("subscribed to call requests", "subject", cfg.Subject, "consumer", cfg.ConsumerName, "type", "pull")

	cleanup := func(c context.Context) {
		cancel()
		done := make(chan struct{})
		go func() {
			<-stopped
			running.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-c.Done():
			logs.Warn("relay handlers still running at shutdown")
		}
	}
	return cleanup, nil
}

func dispatch(ctx context.Context, pool *antslib.Pool, handler *Handler, msg jetstream.Msg, running *sync.WaitGroup) {
	deliveries, sequence := messageMetadata(msg)
	if err := msg.InProgress(); err != nil {
		logs.Warn("failed to send InProgress for message", "sequence", sequence, "error", err)
	}

	wrapped := wrapJetStreamMsg(msg)
	running.Add(1)
	err := pool.Submit(func() {
		defer running.Done()
		defer func() {
			if r := recover(); r != nil {
				logs.Error("panic in relay handler", "error", r, "sequence", sequence, "delivery_count", deliveries)
				natscore.NackWithBackoff(wrapped)
			}
		}()
		handler.Handle(ctx, wrapped)
	})
	if err != nil {
		running.Done()
		logs.Error("failed to submit call to pool", "sequence", sequence, "error", err)
		_ = msg.Nak()
	}
}
