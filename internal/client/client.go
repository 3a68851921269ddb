package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	llmqv1 "github.com/rzbill/llmq/api/llmq/v1"
	"github.com/rzbill/llmq/internal/broker"
	"github.com/rzbill/llmq/pkg/log"
)

// pingTimeout bounds the health check made by Dial.
const pingTimeout = 10 * time.Second

// Client talks to a remote broker. It is safe for concurrent use.
type Client struct {
	conn   grpc.ClientConnInterface
	owned  io.Closer
	api    llmqv1.BrokerClient
	health healthpb.HealthClient
	logger log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ broker.Channel = (*Client)(nil)

// Option configures a Client.
type Option func(*options)

type options struct {
	logger   log.Logger
	dialOpts []grpc.DialOption
}

// WithLogger sets the client logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDialOptions appends gRPC dial options. Insecure transport credentials
// are used unless overridden here.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

func buildOptions(opts []Option) options {
	o := options{logger: log.NewNopLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// New wraps an existing connection. Close does not close conn.
func New(conn grpc.ClientConnInterface, opts ...Option) *Client {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:   conn,
		api:    llmqv1.NewBrokerClient(conn),
		health: healthpb.NewHealthClient(conn),
		logger: o.logger.WithComponent("client"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dial connects to the broker at addr and verifies it is serving.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, o.dialOpts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := New(conn, opts...)
	c.owned = conn
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Ping(pctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return c, nil
}

// Ping checks that the broker reports the Broker service as serving.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: llmqv1.ServiceName})
	if err != nil {
		return fromStatus(err)
	}
	if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: broker status %s", ErrUnavailable, res.GetStatus())
	}
	return nil
}

// DeclareQueue implements broker.Channel.
func (c *Client) DeclareQueue(ctx context.Context, spec broker.QueueSpec) (broker.QueueInfo, error) {
	res, err := c.api.DeclareQueue(ctx, &llmqv1.DeclareQueueRequest{
		Queue: llmqv1.QueueSpec{
			Name:            spec.Name,
			Durable:         spec.Durable,
			Exclusive:       spec.Exclusive,
			AutoDelete:      spec.AutoDelete,
			DeadLetterQueue: spec.DeadLetterQueue,
		},
		Passive: spec.Passive,
	})
	if err != nil {
		return broker.QueueInfo{}, fromStatus(err)
	}
	return queueInfoFromWire(*res), nil
}

// DeleteQueue implements broker.Channel.
func (c *Client) DeleteQueue(ctx context.Context, name string, opts broker.DeleteOptions) (int, error) {
	res, err := c.api.DeleteQueue(ctx, &llmqv1.DeleteQueueRequest{Name: name, IfUnused: opts.IfUnused, IfEmpty: opts.IfEmpty})
	if err != nil {
		return 0, fromStatus(err)
	}
	return int(res.Messages), nil
}

// PurgeQueue implements broker.Channel.
func (c *Client) PurgeQueue(ctx context.Context, name string) (int, error) {
	res, err := c.api.PurgeQueue(ctx, &llmqv1.PurgeQueueRequest{Name: name})
	if err != nil {
		return 0, fromStatus(err)
	}
	return int(res.Messages), nil
}

// QueueInfo implements broker.Channel.
func (c *Client) QueueInfo(ctx context.Context, name string) (broker.QueueInfo, error) {
	res, err := c.api.QueueInfo(ctx, &llmqv1.QueueInfoRequest{Name: name})
	if err != nil {
		return broker.QueueInfo{}, fromStatus(err)
	}
	return queueInfoFromWire(*res), nil
}

// ListQueues returns every queue on the broker.
func (c *Client) ListQueues(ctx context.Context) ([]broker.QueueInfo, error) {
	res, err := c.api.ListQueues(ctx, &llmqv1.ListQueuesRequest{})
	if err != nil {
		return nil, fromStatus(err)
	}
	out := make([]broker.QueueInfo, 0, len(res.Queues))
	for _, q := range res.Queues {
		out = append(out, queueInfoFromWire(q))
	}
	return out, nil
}

// Peek lists ready messages matching opts without consuming them.
func (c *Client) Peek(ctx context.Context, queue string, opts broker.PeekOptions) ([]broker.Delivery, error) {
	res, err := c.api.ListReady(ctx, &llmqv1.ListReadyRequest{Queue: queue, Filter: opts.Filter, Limit: int32(opts.Limit)})
	if err != nil {
		return nil, fromStatus(err)
	}
	out := make([]broker.Delivery, 0, len(res.Messages))
	for _, m := range res.Messages {
		out = append(out, deliveryFromWire(m))
	}
	return out, nil
}

// Publish implements broker.Channel.
func (c *Client) Publish(ctx context.Context, queue string, msg broker.Publishing) error {
	_, err := c.api.Publish(ctx, &llmqv1.PublishRequest{
		Queue:         queue,
		Body:          msg.Body,
		CorrelationID: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		ContentType:   msg.ContentType,
		Headers:       msg.Headers,
	})
	return fromStatus(err)
}

// Consume implements broker.Channel. The returned channel closes when ctx
// ends, the client is closed or the stream breaks.
func (c *Client) Consume(ctx context.Context, queue string, opts broker.ConsumeOptions) (<-chan broker.Delivery, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, broker.ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	stream, err := c.api.Consume(sctx, &llmqv1.ConsumeRequest{
		Queue:       queue,
		ConsumerTag: opts.ConsumerTag,
		Prefetch:    int32(opts.Prefetch),
		Exclusive:   opts.Exclusive,
	})
	if err != nil {
		stop()
		cancel()
		c.wg.Done()
		return nil, fromStatus(err)
	}
	// the broker sends headers once the consumer is registered; a stream
	// that ends without them carries the registration error
	md, err := stream.Header()
	if err == nil && len(md.Get(llmqv1.ConsumeReadyHeader)) == 0 {
		if _, err = stream.Recv(); err == nil {
			err = fmt.Errorf("%w: consume stream opened without ready header", ErrUnavailable)
		}
	}
	if err != nil {
		stop()
		cancel()
		c.wg.Done()
		return nil, fromStatus(err)
	}

	out := make(chan broker.Delivery)
	go func() {
		defer c.wg.Done()
		defer stop()
		defer cancel()
		defer close(out)
		for {
			m, err := stream.Recv()
			if err != nil {
				if sctx.Err() == nil && !errors.Is(err, io.EOF) {
					c.logger.Warn("consume stream ended", log.Queue(queue), log.Err(err))
				}
				return
			}
			select {
			case out <- deliveryFromWire(*m):
			case <-sctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Ack implements broker.Channel.
func (c *Client) Ack(ctx context.Context, tag uint64) error {
	_, err := c.api.Ack(ctx, &llmqv1.AckRequest{DeliveryTag: tag})
	return fromStatus(err)
}

// Nack implements broker.Channel.
func (c *Client) Nack(ctx context.Context, tag uint64, requeue bool) error {
	_, err := c.api.Nack(ctx, &llmqv1.NackRequest{DeliveryTag: tag, Requeue: requeue})
	return fromStatus(err)
}

// Close ends every consumer stream and closes the connection if Dial
// opened it.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	if c.owned != nil {
		return c.owned.Close()
	}
	return nil
}

func queueInfoFromWire(q llmqv1.QueueInfo) broker.QueueInfo {
	return broker.QueueInfo{
		Name:            q.Name,
		Durable:         q.Durable,
		Exclusive:       q.Exclusive,
		AutoDelete:      q.AutoDelete,
		DeadLetterQueue: q.DeadLetterQueue,
		Ready:           int(q.MessagesReady),
		Unacked:         int(q.MessagesUnacknowledged),
		Consumers:       int(q.Consumers),
	}
}

func deliveryFromWire(d llmqv1.Delivery) broker.Delivery {
	return broker.Delivery{
		DeliveryTag:   d.DeliveryTag,
		ConsumerTag:   d.ConsumerTag,
		Queue:         d.Queue,
		MessageID:     d.MessageID,
		Body:          d.Body,
		CorrelationID: d.CorrelationID,
		ReplyTo:       d.ReplyTo,
		ContentType:   d.ContentType,
		Headers:       d.Headers,
		TimestampMs:   d.TimestampMs,
		Redelivered:   d.Redelivered,
		DeliveryCount: d.DeliveryCount,
	}
}
