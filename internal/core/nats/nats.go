package nats

import (
	"fmt"
	"time"

	"restdispatch/internal/core/config"
	"restdispatch/internal/shared/logs"

	natslib "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Connect establishes a connection, retrying with the configured count and delay.
func Connect(cfg config.Config) (*natslib.Conn, error) {
	retryCount := cfg.NATSRetryCount
	if retryCount <= 0 {
		retryCount = 5
	}
	retryDelay := cfg.NATSRetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	url := cfg.NATSURL
	if url == "" {
		url = natslib.DefaultURL
	}

	var lastErr error
	for attempt := 1; attempt <= retryCount; attempt++ {
		conn, err := natslib.Connect(url,
			natslib.Name("rest-relay"),
			natslib.Timeout(retryDelay),
			natslib.MaxReconnects(-1),
			natslib.DisconnectErrHandler(func(_ *natslib.Conn, err error) {
				if err != nil {
					logs.Warn("nats disconnected", "error", err)
				}
			}),
			natslib.ReconnectHandler(func(c *natslib.Conn) {
				logs.Info("nats reconnected", "url", c.ConnectedUrl())
			}),
		)
		if err == nil {
			logs.Info("connected to nats", "attempt", attempt, "max_attempts", retryCount)
			return conn, nil
		}
		lastErr = err
		logs.Error("failed to connect to nats", "attempt", attempt, "max_attempts", retryCount, "error", err)
		if attempt < retryCount {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("connect to nats after %d attempts: %w", retryCount, lastErr)
}

// ConnectJetStream returns both the connection and a JetStream context.
func ConnectJetStream(cfg config.Config) (*natslib.Conn, jetstream.JetStream, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	js, err := GetJetStream(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, js, nil
}

// GetJetStream returns a JetStream context from the connection.
func GetJetStream(conn *natslib.Conn) (jetstream.JetStream, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	return js, nil
}

// Cleanup drains and closes the provided NATS connection.
func Cleanup(conn *natslib.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Drain()
	conn.Close()
}

// MessageAcker is the acknowledgement surface of a JetStream message.
type MessageAcker interface {
	Ack() error
	Nak() error
	Term() error
	InProgress() error
	NakWithDelay(delay time.Duration) error
	NumDelivered() uint64
}

// MaxDeliveries is how often a message is offered before it is terminated.
const MaxDeliveries = 5

// NackWithBackoff naks with a delay of 1s, 2s, 4s ... capped at 60s, and
// terminates the message once MaxDeliveries is reached.
func NackWithBackoff(msg MessageAcker) {
	deliveries := msg.NumDelivered()
	if deliveries >= MaxDeliveries {
		logs.Warn("nats message terminated after max deliveries", "deliveries", deliveries, "reason", "max_retries_exceeded")
		_ = msg.Term()
		return
	}
	delay := nakDelay(deliveries)
	logs.Warn("nats message nak with backoff", "deliveries", deliveries, "delay", delay, "reason", "retry_with_backoff")
	_ = msg.NakWithDelay(delay)
}

func nakDelay(deliveries uint64) time.Duration {
	if deliveries == 0 {
		deliveries = 1
	}
	secs := 60
	if deliveries <= 6 {
		if s := 1 << (deliveries - 1); s < secs {
			secs = s
		}
	}
	return time.Duration(secs) * time.Second
}
