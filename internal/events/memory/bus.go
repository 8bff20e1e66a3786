// Package memory is an in-process event bus for single-instance deployments
// and tests. It stands in for Kafka when no brokers are configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

// Bus fans published events out to the subscription of their topic.
// Events on a topic without a subscription are discarded.
type Bus struct {
	mu     sync.Mutex
	size   int
	topics map[string]chan interfaces.Message
	logger *zap.Logger
}

// NewBus creates a bus whose subscriptions buffer size messages each.
func NewBus(size int, logger *zap.Logger) *Bus {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{size: size, topics: make(map[string]chan interfaces.Message), logger: logger}
}

func (b *Bus) channel(topic string, create bool) chan interfaces.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.topics[topic]
	if !ok && create {
		ch = make(chan interfaces.Message, b.size)
		b.topics[topic] = ch
	}
	return ch
}

// Publish implements interfaces.EventPublisher. It blocks while the
// subscription buffer is full.
func (b *Bus) Publish(ctx context.Context, topic, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}

	ch := b.channel(topic, false)
	if ch == nil {
		b.logger.Debug("no subscription, event discarded", zap.String("topic", topic))
		return nil
	}

	select {
	case ch <- interfaces.Message{Topic: topic, Key: key, Value: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the consumer of topic. Events published before the
// first Subscribe call for a topic are not kept.
func (b *Bus) Subscribe(topic string) *Subscription {
	return &Subscription{topic: topic, ch: b.channel(topic, true), logger: b.logger}
}

// Pending reports how many events wait on topic.
func (b *Bus) Pending(topic string) int {
	return len(b.channel(topic, false))
}

// Subscription consumes one topic of a Bus.
type Subscription struct {
	topic  string
	ch     chan interfaces.Message
	logger *zap.Logger
}

// Consume implements interfaces.EventConsumer.
func (s *Subscription) Consume(ctx context.Context, handle func(ctx context.Context, msg interfaces.Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.ch:
			if err := handle(ctx, msg); err != nil {
				s.logger.Error("event handler failed", zap.String("topic", s.topic), zap.String("key", msg.Key), zap.Error(err))
			}
		}
	}
}

// Drain hands every buffered message to handle and returns once the buffer
// is empty.
func (s *Subscription) Drain(ctx context.Context, handle func(ctx context.Context, msg interfaces.Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.ch:
			if err := handle(ctx, msg); err != nil {
				s.logger.Error("event handler failed", zap.String("topic", s.topic), zap.String("key", msg.Key), zap.Error(err))
			}
		default:
			return nil
		}
	}
}

var _ interfaces.EventPublisher = (*Bus)(nil)
var _ interfaces.EventConsumer = (*Subscription)(nil)
