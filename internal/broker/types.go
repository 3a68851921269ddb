package broker

import (
	"context"
	"errors"
)

// WorkQueue is the well-known queue inference requests are published to.
const WorkQueue = "llm_queue"

var (
	// ErrQueueNotFound is returned for operations on undeclared queues.
	ErrQueueNotFound = errors.New("broker: queue not found")
	// ErrPreconditionFailed is returned when a redeclaration conflicts with
	// the existing queue, or a conditional delete does not hold.
	ErrPreconditionFailed = errors.New("broker: precondition failed")
	// ErrResourceLocked is returned when consuming from an exclusive queue
	// that already has a consumer.
	ErrResourceLocked = errors.New("broker: resource locked")
	// ErrUnknownDeliveryTag is returned when acking or nacking a tag that is
	// not outstanding.
	ErrUnknownDeliveryTag = errors.New("broker: unknown delivery tag")
	// ErrInvalidArgument is returned for malformed names, filters and
	// requests.
	ErrInvalidArgument = errors.New("broker: invalid argument")
	// ErrClosed is returned after the channel is closed.
	ErrClosed = errors.New("broker: closed")
)

// QueueSpec declares a queue. An empty Name asks the broker to generate one.
type QueueSpec struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	// DeadLetterQueue is declared alongside the queue when set.
	DeadLetterQueue string
	// Passive only checks that the queue exists.
	Passive bool
}

// QueueInfo describes a queue's state.
type QueueInfo struct {
	Name            string
	Durable         bool
	Exclusive       bool
	AutoDelete      bool
	DeadLetterQueue string
	Ready           int
	Unacked         int
	Consumers       int
}

// Messages is ready plus unacknowledged.
func (i QueueInfo) Messages() int { return i.Ready + i.Unacked }

// Publishing is a message as sent by a producer.
type Publishing struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Headers       map[string]string
}

// Delivery is a message as received by a consumer.
type Delivery struct {
	DeliveryTag   uint64
	ConsumerTag   string
	Queue         string
	MessageID     string
	Body          []byte
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Headers       map[string]string
	TimestampMs   int64
	Redelivered   bool
	DeliveryCount uint32
}

// ConsumeOptions configures a consumer.
type ConsumeOptions struct {
	// ConsumerTag identifies the consumer. Generated when empty.
	ConsumerTag string
	// Prefetch bounds unacknowledged deliveries. Zero means unlimited.
	Prefetch int
	// Exclusive fails if the queue already has consumers and blocks new ones.
	Exclusive bool
}

// DeleteOptions makes DeleteQueue conditional.
type DeleteOptions struct {
	IfUnused bool
	IfEmpty  bool
}

// PeekOptions selects ready messages for inspection.
type PeekOptions struct {
	// Filter is a CEL expression over the message. Empty matches all.
	Filter string
	Limit  int
}

// Channel is the broker protocol.
//
// Consume returns a channel of deliveries that is closed when ctx is
// cancelled, the queue is deleted or the Channel is closed. Closing the
// consumer returns its unacknowledged deliveries to the queue.
type Channel interface {
	DeclareQueue(ctx context.Context, spec QueueSpec) (QueueInfo, error)
	DeleteQueue(ctx context.Context, name string, opts DeleteOptions) (int, error)
	PurgeQueue(ctx context.Context, name string) (int, error)
	QueueInfo(ctx context.Context, name string) (QueueInfo, error)
	Publish(ctx context.Context, queue string, msg Publishing) error
	Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan Delivery, error)
	Ack(ctx context.Context, deliveryTag uint64) error
	Nack(ctx context.Context, deliveryTag uint64, requeue bool) error
	Close() error
}
