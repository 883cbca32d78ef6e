package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restdispatch/internal/shared/logs"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig represents configuration for a JetStream stream
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	// WorkQueue removes messages once acknowledged.
	WorkQueue bool
}

// DefaultStreams are the streams the relay reads from and writes to.
func DefaultStreams() []StreamConfig {
	return []StreamConfig{
		{Name: StreamRestCalls, Subjects: []string{SubjectCalls}, MaxAge: 24 * time.Hour, WorkQueue: true},
		{Name: StreamRestEvents, Subjects: []string{SubjectResults + ".>", SubjectRateLimit}, MaxAge: time.Hour},
	}
}

// StreamManager is the part of jetstream.JetStream EnsureStreams needs.
type StreamManager interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// EnsureStreams creates the given streams if they don't exist.
func EnsureStreams(ctx context.Context, js StreamManager, streams []StreamConfig) error {
	for _, sc := range streams {
		_, err := js.Stream(ctx, sc.Name)
		if err == nil {
			logs.Debug("stream already exists", "name", sc.Name)
			continue
		}
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return fmt.Errorf("look up stream %s: %w", sc.Name, err)
		}

		retention := jetstream.LimitsPolicy
		if sc.WorkQueue {
			retention = jetstream.WorkQueuePolicy
		}
		cfg := jetstream.StreamConfig{
			Name:      sc.Name,
			Subjects:  sc.Subjects,
			Retention: retention,
			Storage:   jetstream.FileStorage,
			MaxAge:    sc.MaxAge,
		}
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", sc.Name, err)
		}
		logs.Info("created JetStream stream", "name", sc.Name, "subjects", sc.Subjects, "work_queue", sc.WorkQueue)
	}
	return nil
}

// GetOrCreateConsumer gets an existing consumer or creates a new one with the specified config.
// DeliverPolicy is immutable, so a consumer with a different one is deleted and recreated.
func GetOrCreateConsumer(ctx context.Context, stream jetstream.Stream, consumerConfig jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	existing, err := stream.Consumer(ctx, consumerConfig.Durable)
	if err == nil {
		info := existing.CachedInfo()
		if info != nil && info.Config.DeliverPolicy == consumerConfig.DeliverPolicy {
			return existing, nil
		}
		if err := stream.DeleteConsumer(ctx, consumerConfig.Durable); err != nil {
			logs.Warn("failed to delete existing consumer with different policy", "consumer", consumerConfig.Durable, "error", err)
		}
	}

	consumer, err := stream.CreateConsumer(ctx, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", consumerConfig.Durable, err)
	}
	return consumer, nil
}
