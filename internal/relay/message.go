package relay

import (
	"time"

	natscore "restdispatch/internal/core/nats"

	"github.com/nats-io/nats.go/jetstream"
)

// Message is what the handler needs from a delivered call request.
type Message interface {
	natscore.MessageAcker
	Data() []byte
}

// jetstreamMessage adapts jetstream.Msg to Message.
type jetstreamMessage struct {
	msg jetstream.Msg
}

func (w *jetstreamMessage) Data() []byte { return w.msg.Data() }
func (w *jetstreamMessage) Ack() error   { return w.msg.Ack() }
func (w *jetstreamMessage) Nak() error   { return w.msg.Nak() }
func (w *jetstreamMessage) Term() error  { return w.msg.Term() }

func (w *jetstreamMessage) InProgress() error {
	return w.msg.InProgress()
}

func (w *jetstreamMessage) NakWithDelay(delay time.Duration) error {
	return w.msg.NakWithDelay(delay)
}

func (w *jetstreamMessage) NumDelivered() uint64 {
	md, err := w.msg.Metadata()
	if err != nil {
		return 1
	}
	return md.NumDelivered
}

func wrapJetStreamMsg(msg jetstream.Msg) Message {
	return &jetstreamMessage{msg: msg}
}

func messageMetadata(msg jetstream.Msg) (deliveries, sequence uint64) {
	md, err := msg.Metadata()
	if err != nil {
		return 0, 0
	}
	return md.NumDelivered, md.Sequence.Stream
}
