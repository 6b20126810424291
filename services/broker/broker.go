// Package broker fans messages out to in-process subscribers through watermill.
package broker

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core/chat"
)

// GoChannel delivers every published message to all current subscribers of its topic.
type GoChannel struct {
	pubSub *gochannel.GoChannel
}

var _ chat.Broker = (*GoChannel)(nil)

func NewGoChannel(debug bool) *GoChannel {
	return &GoChannel{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NewStdLogger(debug, false),
		),
	}
}

func (b *GoChannel) Publish(_ context.Context, topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return errors.Wrapf(b.pubSub.Publish(topic, msg), "publishing on %s", topic)
}

func (b *GoChannel) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	messages, err := b.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribing to %s", topic)
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range messages {
			payload := msg.Payload
			msg.Ack()
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *GoChannel) Close() error {
	return b.pubSub.Close()
}
