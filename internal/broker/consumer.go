package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/llmq/pkg/id"
	"github.com/rzbill/llmq/pkg/log"
)

// claimRetryDelay paces a consumer after a storage error.
const claimRetryDelay = 100 * time.Millisecond

type consumer struct {
	e        *Engine
	qs       *queueState
	tag      string
	prefetch int
	excl     bool
	logger   log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan Delivery
	done   chan struct{}
	wake   chan struct{}

	mu       sync.Mutex
	inflight map[uint64]id.ID
}

// Consume registers a consumer on queueName. The returned channel is closed
// when ctx ends, the queue is deleted or the engine is closed.
func (e *Engine) Consume(ctx context.Context, queueName string, opts ConsumeOptions) (<-chan Delivery, error) {
	qs, err := e.lookup(queueName)
	if err != nil {
		return nil, err
	}
	if opts.Prefetch < 0 {
		return nil, fmt.Errorf("%w: negative prefetch", ErrInvalidArgument)
	}
	tag := opts.ConsumerTag
	if tag == "" {
		tag = "ctag-" + uuid.NewString()
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()
	if e.shut.Load() {
		return nil, ErrClosed
	}
	if qs.deleted {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, queueName)
	}
	if _, dup := qs.consumers[tag]; dup {
		return nil, fmt.Errorf("%w: consumer tag %s in use", ErrPreconditionFailed, tag)
	}
	if len(qs.consumers) > 0 && (opts.Exclusive || qs.spec.Exclusive) {
		return nil, fmt.Errorf("%w: queue %s already has a consumer", ErrResourceLocked, queueName)
	}
	for _, other := range qs.consumers {
		if other.excl {
			return nil, fmt.Errorf("%w: queue %s has an exclusive consumer", ErrResourceLocked, queueName)
		}
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &consumer{
		e:        e,
		qs:       qs,
		tag:      tag,
		prefetch: opts.Prefetch,
		excl:     opts.Exclusive,
		logger:   e.logger.With(log.Queue(queueName), log.Str("consumer_tag", tag)),
		ctx:      cctx,
		cancel:   cancel,
		out:      make(chan Delivery),
		done:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
		inflight: make(map[uint64]id.ID),
	}
	qs.consumers[tag] = c

	e.wg.Add(1)
	go c.run()
	c.logger.Debug("consumer started", log.Int("prefetch", opts.Prefetch))
	return c.out, nil
}

// poke wakes the loop after an ack or nack freed a prefetch slot.
func (c *consumer) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// release drops tag from the inflight set.
func (c *consumer) release(tag uint64) (id.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgID, ok := c.inflight[tag]
	if ok {
		delete(c.inflight, tag)
	}
	return msgID, ok
}

func (c *consumer) full() bool {
	if c.prefetch <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight) >= c.prefetch
}

func (c *consumer) run() {
	defer c.e.wg.Done()
	defer c.cleanup()

	for c.ctx.Err() == nil {
		if c.full() {
			select {
			case <-c.ctx.Done():
				return
			case <-c.wake:
			}
			continue
		}

		wait := c.qs.waitCh()
		d, ok, err := c.claim()
		if err != nil {
			c.logger.Error("claim failed", log.Err(err))
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(claimRetryDelay):
			}
			continue
		}
		if !ok {
			select {
			case <-c.ctx.Done():
				return
			case <-wait:
			}
			continue
		}

		select {
		case c.out <- d:
		case <-c.ctx.Done():
			// still inflight, cleanup requeues it
			return
		}
	}
}

// claim moves one message to this consumer. ok is false when the queue is
// empty or gone.
func (c *consumer) claim() (Delivery, bool, error) {
	qs := c.qs
	qs.mu.Lock()
	defer qs.mu.Unlock()
	if qs.deleted {
		c.cancel()
		return Delivery{}, false, nil
	}
	msgs, err := qs.q.Claim(c.ctx, 1)
	if err != nil || len(msgs) == 0 {
		return Delivery{}, false, err
	}
	m := msgs[0]
	tag := c.e.nextTag.Add(1)

	c.mu.Lock()
	c.inflight[tag] = m.ID
	c.mu.Unlock()
	c.e.tagMu.Lock()
	c.e.tags[tag] = c
	c.e.tagMu.Unlock()

	return toDelivery(tag, c.tag, qs.spec.Name, m), true, nil
}

// cleanup requeues unacknowledged deliveries, unregisters the consumer and
// deletes an auto-delete queue once its last consumer is gone.
func (c *consumer) cleanup() {
	c.cancel()

	c.mu.Lock()
	tags := make([]uint64, 0, len(c.inflight))
	ids := make([]id.ID, 0, len(c.inflight))
	for tag, msgID := range c.inflight {
		tags = append(tags, tag)
		ids = append(ids, msgID)
	}
	c.inflight = map[uint64]id.ID{}
	c.mu.Unlock()

	c.e.tagMu.Lock()
	for _, tag := range tags {
		delete(c.e.tags, tag)
	}
	c.e.tagMu.Unlock()

	qs := c.qs
	qs.mu.Lock()
	requeued := 0
	if len(ids) > 0 && !qs.deleted {
		n, err := qs.q.Requeue(context.Background(), ids...)
		if err != nil {
			c.logger.Error("requeue on consumer exit failed", log.Err(err), log.Int("messages", len(ids)))
		}
		requeued = n
	}
	delete(qs.consumers, c.tag)
	autoDelete := qs.spec.AutoDelete && len(qs.consumers) == 0 && !qs.deleted
	qs.mu.Unlock()

	if requeued > 0 {
		qs.signal()
	}
	close(c.out)
	close(c.done)
	c.logger.Debug("consumer stopped", log.Int("requeued", requeued))

	if autoDelete {
		if _, err := c.e.deleteQueue(context.Background(), qs.spec.Name, DeleteOptions{IfUnused: true}); err != nil {
			c.logger.Debug("auto-delete skipped", log.Err(err))
		}
	}
}
