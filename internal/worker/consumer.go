package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rzbill/llmq/internal/broker"
	"github.com/rzbill/llmq/internal/metrics"
	"github.com/rzbill/llmq/internal/processor"
	"github.com/rzbill/llmq/pkg/log"
)

var (
	// ErrDeserialize marks a message body that is not a chat request.
	ErrDeserialize = errors.New("worker: cannot decode request")
	// ErrProcessing marks a processor failure.
	ErrProcessing = errors.New("worker: processing failed")
	// ErrStreamClosed is returned by Run when deliveries stop while the
	// caller's context is still live.
	ErrStreamClosed = errors.New("worker: delivery stream closed")
)

// Outcomes recorded in llmq_worker_messages_total.
const (
	OutcomeOK           = "ok"
	OutcomeDeserialize  = "deserialize_error"
	OutcomeProcessing   = "processing_error"
	OutcomeNoReplyQueue = "reply_queue_missing"
)

// Consumer handles one message at a time from a queue.
type Consumer struct {
	queue  string
	dlq    string
	proc   processor.Processor
	logger log.Logger
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithQueue sets the consumed queue. Defaults to broker.WorkQueue.
func WithQueue(name string) ConsumerOption { return func(c *Consumer) { c.queue = name } }

// WithDeadLetterQueue declares the consumed queue with a dead-letter queue.
func WithDeadLetterQueue(name string) ConsumerOption { return func(c *Consumer) { c.dlq = name } }

// WithLogger sets the consumer logger.
func WithLogger(l log.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConsumer returns a Consumer feeding proc.
func NewConsumer(proc processor.Processor, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		queue:  broker.WorkQueue,
		proc:   proc,
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("worker").With(log.Queue(c.queue))
	return c
}

// Queue returns the consumed queue.
func (c *Consumer) Queue() string { return c.queue }

// Process decodes body, runs the processor and returns the JSON reply.
// Errors wrap ErrDeserialize or ErrProcessing.
func (c *Consumer) Process(ctx context.Context, body []byte) ([]byte, error) {
	req, err := processor.DecodeRequest(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeserialize, err)
	}
	res, err := c.proc.Process(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}
	out, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("%w: encode response: %w", ErrProcessing, err)
	}
	return out, nil
}

// Run declares the queue and handles deliveries from ch until ctx ends,
// returning nil, or the stream breaks, returning the cause. Per-message
// failures never stop the loop.
func (c *Consumer) Run(ctx context.Context, ch broker.Channel) error {
	if _, err := ch.DeclareQueue(ctx, broker.QueueSpec{
		Name:            c.queue,
		Durable:         true,
		DeadLetterQueue: c.dlq,
	}); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("declare %s: %w", c.queue, err)
	}
	deliveries, err := ch.Consume(ctx, c.queue, broker.ConsumeOptions{Prefetch: 1})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.Info("waiting for messages")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrStreamClosed
			}
			if err := c.Handle(ctx, ch, d); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Handle settles one delivery. The returned error is a broker failure;
// decode and processing failures are logged and the message dropped.
func (c *Consumer) Handle(ctx context.Context, ch broker.Channel, d broker.Delivery) error {
	if d.CorrelationID != "" {
		ctx = log.ContextWithCorrelationID(ctx, d.CorrelationID)
	}
	logger := c.logger.WithContext(ctx).With(log.F("delivery_tag", d.DeliveryTag))

	reply, err := c.Process(ctx, d.Body)
	if err != nil {
		if ctx.Err() != nil {
			// left unacked, the broker requeues it when the consumer goes
			return ctx.Err()
		}
		outcome := OutcomeProcessing
		if errors.Is(err, ErrDeserialize) {
			outcome = OutcomeDeserialize
		}
		logger.Error("dropping message", log.Err(err), log.Str("outcome", outcome))
		metrics.RecordWorkerMessage(outcome)
		return ch.Nack(ctx, d.DeliveryTag, false)
	}

	outcome := OutcomeOK
	if d.ReplyTo != "" {
		err := ch.Publish(ctx, d.ReplyTo, broker.Publishing{
			Body:          reply,
			CorrelationID: d.CorrelationID,
			ContentType:   "application/json",
		})
		switch {
		case errors.Is(err, broker.ErrQueueNotFound):
			logger.Warn("reply queue gone, discarding reply", log.Str("reply_to", d.ReplyTo))
			outcome = OutcomeNoReplyQueue
		case err != nil:
			return fmt.Errorf("publish reply: %w", err)
		}
	}
	if err := ch.Ack(ctx, d.DeliveryTag); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	metrics.RecordWorkerMessage(outcome)
	logger.Debug("message processed")
	return nil
}
