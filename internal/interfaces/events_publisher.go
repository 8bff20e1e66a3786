package interfaces

import "context"

// EventPublisher sends an event to a topic. key groups related events (the
// user id for work items) so a partitioned bus keeps their order.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// Message is one event delivered by an EventConsumer.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// EventConsumer delivers messages to handle, one at a time, until ctx ends.
// Retrying is the handler's job: once handle returns, the message counts as
// consumed and a returned error is only logged.
type EventConsumer interface {
	Consume(ctx context.Context, handle func(ctx context.Context, msg Message) error) error
}
