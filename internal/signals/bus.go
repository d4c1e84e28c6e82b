// Package signals is the client's typed publish/subscribe channel for
// cross-cutting events (upgrade prompts, session teardown, realtime loss).
//
// Delivery is synchronous: Publish returns after every current subscriber
// has handled the payload. Handlers must not publish on the same topic.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"ai-notetaking-client/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type Bus struct {
	pubSub *gochannel.GoChannel
	logger logger.ILogger
}

func NewBus(log logger.ILogger) *Bus {
	if log == nil {
		log = logger.NewNopLogger()
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		},
		NewWatermillLogger(log),
	)
	return &Bus{pubSub: pubSub, logger: log}
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}

// Topic binds a topic name to its payload type.
type Topic[T any] struct {
	name string
}

func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

func (t Topic[T]) Name() string {
	return t.name
}

func Publish[T any](ctx context.Context, bus *Bus, topic Topic[T], payload T) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s signal: %w", topic.name, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), raw)
	msg.SetContext(ctx)
	return bus.pubSub.Publish(topic.name, msg)
}

// Subscribe registers handler for topic. The returned function unregisters
// it; no payload reaches the handler after it returns.
func Subscribe[T any](bus *Bus, topic Topic[T], handler func(T)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := bus.pubSub.Subscribe(ctx, topic.name)
	if err != nil {
		cancel()
		return nil, err
	}

	var active atomic.Bool
	active.Store(true)

	go func() {
		for msg := range messages {
			if active.Load() {
				deliver(bus.logger, topic, msg, handler)
			}
			msg.Ack()
		}
	}()

	return func() {
		active.Store(false)
		cancel()
	}, nil
}

func deliver[T any](log logger.ILogger, topic Topic[T], msg *message.Message, handler func(T)) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("SIGNALS", "Signal handler panicked", map[string]interface{}{
				"topic": topic.name,
				"panic": fmt.Sprint(r),
			})
		}
	}()

	var payload T
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Error("SIGNALS", "Failed to decode signal payload", map[string]interface{}{
			"topic": topic.name,
			"error": err,
		})
		return
	}
	handler(payload)
}
