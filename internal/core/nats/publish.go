package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher is the publishing half of jetstream.JetStream.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// PublishJSON marshals v and publishes it to subject.
func PublishJSON(ctx context.Context, pub Publisher, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", subject, err)
	}
	if _, err := pub.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// PublishCall queues a call request for the relay. The message id
// deduplicates repeated submissions of the same call.
func PublishCall(ctx context.Context, pub Publisher, req CallRequest) error {
	if req.ID == "" {
		return fmt.Errorf("publish call: empty id")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal call %s: %w", req.ID, err)
	}
	if _, err := pub.Publish(ctx, SubjectCalls, data, jetstream.WithMsgID(req.ID)); err != nil {
		return fmt.Errorf("publish call %s: %w", req.ID, err)
	}
	return nil
}
