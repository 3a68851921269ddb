package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/rzbill/llmq/internal/broker"
	"github.com/rzbill/llmq/internal/metrics"
	"github.com/rzbill/llmq/pkg/log"
)

var (
	// ErrCallTimeout is returned when no reply arrives within the call timeout.
	ErrCallTimeout = errors.New("rpc: call timed out")
	// ErrClosed is returned by calls on a closed Client.
	ErrClosed = errors.New("rpc: client closed")
	// ErrReplyQueueLost is returned to calls in flight when the reply
	// consumer stops, e.g. because the broker connection broke.
	ErrReplyQueueLost = errors.New("rpc: reply queue lost")
)

const (
	// DefaultTimeout bounds a call unless overridden.
	DefaultTimeout = 60 * time.Second
	// abandonedTTL is how long ids of given-up calls are remembered, so
	// their late replies are recognised.
	abandonedTTL = 10 * time.Minute
)

// Reply is the answer to a call.
type Reply struct {
	Body          []byte
	CorrelationID string
	ContentType   string
	Headers       map[string]string
}

// Client issues calls. It is safe for concurrent use.
type Client struct {
	ch        broker.Channel
	workQueue string
	timeout   time.Duration
	logger    log.Logger
	abandoned *ttlcache.Cache[string, struct{}]

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	sess    *session
	waiters map[string]chan broker.Delivery
	wg      sync.WaitGroup
}

// session is one reply queue with its consumer. lost closes when the
// consumer stops.
type session struct {
	queue string
	lost  chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithWorkQueue sets the queue calls are published to.
func WithWorkQueue(name string) Option { return func(c *Client) { c.workQueue = name } }

// WithDefaultTimeout sets the timeout of calls that do not pass their own.
// Zero waits forever.
func WithDefaultTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithLogger sets the client logger.
func WithLogger(l log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a Client publishing through ch. The Client does not own ch.
func New(ch broker.Channel, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ch:        ch,
		workQueue: broker.WorkQueue,
		timeout:   DefaultTimeout,
		logger:    log.NewNopLogger(),
		abandoned: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](abandonedTTL),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
		ctx:     ctx,
		cancel:  cancel,
		waiters: make(map[string]chan broker.Delivery),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.WithComponent("rpc")
	go c.abandoned.Start()
	return c
}

// CallOption configures one call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout    time.Duration
	hasTimeout bool
	headers    map[string]string
}

// WithTimeout bounds this call. Zero waits until ctx ends.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout, o.hasTimeout = d, true }
}

// WithHeaders attaches headers to the request message.
func WithHeaders(h map[string]string) CallOption {
	return func(o *callOptions) { o.headers = h }
}

// ReplyQueue returns the name of the current reply queue, declaring it if
// needed.
func (c *Client) ReplyQueue(ctx context.Context) (string, error) {
	s, err := c.replySession(ctx)
	if err != nil {
		return "", err
	}
	return s.queue, nil
}

// Call publishes payload to the work queue and waits for its reply.
func (c *Client) Call(ctx context.Context, payload []byte, opts ...CallOption) (Reply, error) {
	o := callOptions{timeout: c.timeout}
	for _, fn := range opts {
		fn(&o)
	}
	start := time.Now()
	reply, err := c.call(ctx, payload, o)
	metrics.RecordRPCCall(outcome(err), time.Since(start))
	return reply, err
}

func (c *Client) call(ctx context.Context, payload []byte, o callOptions) (Reply, error) {
	s, err := c.replySession(ctx)
	if err != nil {
		return Reply{}, err
	}

	cid := uuid.NewString()
	wait := make(chan broker.Delivery, 1)
	c.mu.Lock()
	c.waiters[cid] = wait
	c.mu.Unlock()

	logger := c.logger.With(log.CorrelationID(cid))
	err = c.ch.Publish(ctx, c.workQueue, broker.Publishing{
		Body:          payload,
		CorrelationID: cid,
		ReplyTo:       s.queue,
		ContentType:   "application/json",
		Headers:       o.headers,
	})
	if err != nil {
		c.forget(cid, false)
		return Reply{}, fmt.Errorf("publish to %s: %w", c.workQueue, err)
	}
	logger.Debug("call published", log.Queue(c.workQueue))

	var timeout <-chan time.Time
	if o.timeout > 0 {
		t := time.NewTimer(o.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case d := <-wait:
		return Reply{Body: d.Body, CorrelationID: d.CorrelationID, ContentType: d.ContentType, Headers: d.Headers}, nil
	case <-timeout:
		c.forget(cid, true)
		logger.Warn("call timed out", log.Dur("timeout", o.timeout))
		return Reply{}, fmt.Errorf("%w after %s", ErrCallTimeout, o.timeout)
	case <-ctx.Done():
		c.forget(cid, true)
		return Reply{}, ctx.Err()
	case <-s.lost:
		c.forget(cid, true)
		return Reply{}, ErrReplyQueueLost
	}
}

// forget drops a waiter. Abandoned ids are remembered so a late reply is
// not reported as unknown.
func (c *Client) forget(cid string, abandoned bool) {
	c.mu.Lock()
	delete(c.waiters, cid)
	c.mu.Unlock()
	if abandoned {
		c.abandoned.Set(cid, struct{}{}, ttlcache.DefaultTTL)
	}
}

// replySession returns the live reply session, declaring the reply queue and
// starting its dispatcher on first use or after the previous one was lost.
func (c *Client) replySession(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.sess != nil {
		select {
		case <-c.sess.lost:
		default:
			return c.sess, nil
		}
	}

	info, err := c.ch.DeclareQueue(ctx, broker.QueueSpec{Exclusive: true, AutoDelete: true})
	if err != nil {
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}
	deliveries, err := c.ch.Consume(c.ctx, info.Name, broker.ConsumeOptions{Exclusive: true})
	if err != nil {
		return nil, fmt.Errorf("consume reply queue %s: %w", info.Name, err)
	}
	s := &session{queue: info.Name, lost: make(chan struct{})}
	c.sess = s
	c.wg.Add(1)
	go c.dispatch(s, deliveries)
	c.logger.Debug("reply queue ready", log.Queue(info.Name))
	return s, nil
}

// dispatch routes replies to waiters until the consumer stops.
func (c *Client) dispatch(s *session, deliveries <-chan broker.Delivery) {
	defer c.wg.Done()
	defer close(s.lost)
	for d := range deliveries {
		c.mu.Lock()
		wait, ok := c.waiters[d.CorrelationID]
		delete(c.waiters, d.CorrelationID)
		c.mu.Unlock()

		switch {
		case ok:
			wait <- d
		case c.abandoned.Has(d.CorrelationID):
			c.logger.Debug("late reply for abandoned call dropped", log.CorrelationID(d.CorrelationID))
		default:
			c.logger.Warn("reply with unknown correlation id dropped", log.CorrelationID(d.CorrelationID), log.Queue(s.queue))
		}
		if err := c.ch.Ack(c.ctx, d.DeliveryTag); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("ack reply failed", log.Err(err), log.CorrelationID(d.CorrelationID))
		}
	}
	if c.ctx.Err() == nil {
		c.logger.Warn("reply consumer stopped", log.Queue(s.queue))
	}
}

// Close stops the reply consumer. Calls in flight fail with
// ErrReplyQueueLost. The broker channel is left open.
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
	c.abandoned.Stop()
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCallTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
