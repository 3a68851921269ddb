package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rzbill/llmq/internal/metrics"
	"github.com/rzbill/llmq/internal/queue"
	pebblestore "github.com/rzbill/llmq/internal/storage/pebble"
	"github.com/rzbill/llmq/pkg/id"
	"github.com/rzbill/llmq/pkg/log"
)

// Header keys set on dead-lettered messages.
const (
	HeaderDeathQueue  = "x-death-queue"
	HeaderDeathReason = "x-death-reason"
)

// Engine is the in-process broker. It implements Channel.
type Engine struct {
	db     *pebblestore.DB
	ids    *id.Generator
	logger log.Logger

	mu     sync.RWMutex
	queues map[string]*queueState
	closed bool
	// shut mirrors closed for checks made while holding a queue lock.
	shut atomic.Bool

	tagMu   sync.Mutex
	tags    map[uint64]*consumer
	nextTag atomic.Uint64

	wg sync.WaitGroup
}

var _ Channel = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// queueState is the runtime side of a declared queue. mu serialises every
// mutation of the queue and its consumer set.
type queueState struct {
	spec queue.Spec
	q    *queue.Queue

	mu        sync.Mutex
	consumers map[string]*consumer
	deleted   bool

	nmu    sync.Mutex
	notify chan struct{}
}

func newQueueState(spec queue.Spec, q *queue.Queue) *queueState {
	return &queueState{spec: spec, q: q, consumers: make(map[string]*consumer), notify: make(chan struct{})}
}

// waitCh returns a channel closed by the next signal.
func (qs *queueState) waitCh() <-chan struct{} {
	qs.nmu.Lock()
	defer qs.nmu.Unlock()
	return qs.notify
}

// signal wakes every consumer waiting for messages.
func (qs *queueState) signal() {
	qs.nmu.Lock()
	close(qs.notify)
	qs.notify = make(chan struct{})
	qs.nmu.Unlock()
}

// Open loads declared queues from db. Durable queues get their unacked
// messages back on the ready list. Non-durable and exclusive queues are
// removed.
func Open(ctx context.Context, db *pebblestore.DB, opts ...Option) (*Engine, error) {
	e := &Engine{
		db:     db,
		ids:    id.NewGenerator(),
		logger: log.NewNopLogger(),
		queues: make(map[string]*queueState),
		tags:   make(map[uint64]*consumer),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.WithComponent("broker")

	specs, err := queue.LoadSpecs(db)
	if err != nil {
		return nil, fmt.Errorf("load queue declarations: %w", err)
	}
	for _, s := range specs {
		q, err := queue.Open(db, s.Name, e.ids)
		if err != nil {
			return nil, err
		}
		if !s.Durable || s.Exclusive {
			if err := q.Drop(ctx); err != nil {
				return nil, err
			}
			if err := queue.DeleteSpec(db, s.Name); err != nil {
				return nil, err
			}
			e.logger.Debug("removed transient queue", log.Queue(s.Name))
			continue
		}
		n, err := q.Recover(ctx)
		if err != nil {
			return nil, fmt.Errorf("recover %s: %w", s.Name, err)
		}
		st := q.Stats()
		e.logger.Info("queue restored", log.Queue(s.Name), log.Int("ready", st.Ready), log.Int("recovered", n))
		e.queues[s.Name] = newQueueState(s, q)
	}
	return e, nil
}

func (e *Engine) lookup(name string) (*queueState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	qs, ok := e.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return qs, nil
}

func (e *Engine) info(qs *queueState) QueueInfo {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	st := qs.q.Stats()
	return QueueInfo{
		Name:            qs.spec.Name,
		Durable:         qs.spec.Durable,
		Exclusive:       qs.spec.Exclusive,
		AutoDelete:      qs.spec.AutoDelete,
		DeadLetterQueue: qs.spec.DeadLetterQueue,
		Ready:           st.Ready,
		Unacked:         st.Unacked,
		Consumers:       len(qs.consumers),
	}
}

// DeclareQueue creates spec.Name if needed and returns its state.
// Redeclaring with a different durability fails with ErrPreconditionFailed.
func (e *Engine) DeclareQueue(ctx context.Context, spec QueueSpec) (QueueInfo, error) {
	if spec.Name == "" {
		if spec.Passive {
			return QueueInfo{}, fmt.Errorf("%w: passive declare needs a name", ErrInvalidArgument)
		}
		spec.Name = "amq.gen-" + uuid.NewString()
	}
	if err := queue.ValidateName(spec.Name); err != nil {
		return QueueInfo{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if spec.DeadLetterQueue == spec.Name {
		return QueueInfo{}, fmt.Errorf("%w: queue %s cannot dead-letter to itself", ErrPreconditionFailed, spec.Name)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return QueueInfo{}, ErrClosed
	}
	if qs, ok := e.queues[spec.Name]; ok {
		e.mu.Unlock()
		if !spec.Passive && qs.spec.Durable != spec.Durable {
			return QueueInfo{}, fmt.Errorf("%w: queue %s exists with durable=%t", ErrPreconditionFailed, spec.Name, qs.spec.Durable)
		}
		return e.info(qs), nil
	}
	if spec.Passive {
		e.mu.Unlock()
		return QueueInfo{}, fmt.Errorf("%w: %s", ErrQueueNotFound, spec.Name)
	}

	if spec.DeadLetterQueue != "" {
		if _, ok := e.queues[spec.DeadLetterQueue]; !ok {
			if _, err := e.createLocked(queue.Spec{Name: spec.DeadLetterQueue, Durable: spec.Durable}); err != nil {
				e.mu.Unlock()
				return QueueInfo{}, err
			}
		}
	}
	qs, err := e.createLocked(queue.Spec{
		Name:            spec.Name,
		Durable:         spec.Durable,
		Exclusive:       spec.Exclusive,
		AutoDelete:      spec.AutoDelete,
		DeadLetterQueue: spec.DeadLetterQueue,
	})
	e.mu.Unlock()
	if err != nil {
		return QueueInfo{}, err
	}
	return e.info(qs), nil
}

func (e *Engine) createLocked(s queue.Spec) (*queueState, error) {
	if err := queue.ValidateName(s.Name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	saved, err := queue.SaveSpec(e.db, s)
	if err != nil {
		return nil, err
	}
	q, err := queue.Open(e.db, s.Name, e.ids)
	if err != nil {
		return nil, err
	}
	qs := newQueueState(saved, q)
	e.queues[s.Name] = qs
	e.logger.Info("queue declared",
		log.Queue(s.Name),
		log.Bool("durable", s.Durable),
		log.Bool("exclusive", s.Exclusive),
		log.Bool("auto_delete", s.AutoDelete),
		log.Str("dead_letter_queue", s.DeadLetterQueue),
	)
	return qs, nil
}

// DeleteQueue removes a queue and its messages, cancelling its consumers.
// It returns the number of messages that were in the queue.
func (e *Engine) DeleteQueue(ctx context.Context, name string, opts DeleteOptions) (int, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return 0, ErrClosed
	}
	return e.deleteQueue(ctx, name, opts)
}

func (e *Engine) deleteQueue(ctx context.Context, name string, opts DeleteOptions) (int, error) {
	e.mu.Lock()
	qs, ok := e.queues[name]
	if !ok {
		e.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	qs.mu.Lock()
	st := qs.q.Stats()
	if opts.IfUnused && len(qs.consumers) > 0 {
		qs.mu.Unlock()
		e.mu.Unlock()
		return 0, fmt.Errorf("%w: queue %s has %d consumers", ErrPreconditionFailed, name, len(qs.consumers))
	}
	if opts.IfEmpty && st.Total() > 0 {
		qs.mu.Unlock()
		e.mu.Unlock()
		return 0, fmt.Errorf("%w: queue %s has %d messages", ErrPreconditionFailed, name, st.Total())
	}
	qs.deleted = true
	cons := make([]*consumer, 0, len(qs.consumers))
	for _, c := range qs.consumers {
		cons = append(cons, c)
	}
	qs.mu.Unlock()
	delete(e.queues, name)
	e.mu.Unlock()

	for _, c := range cons {
		c.cancel()
		<-c.done
	}
	qs.signal()

	if err := qs.q.Drop(ctx); err != nil {
		return 0, err
	}
	if err := queue.DeleteSpec(e.db, name); err != nil {
		return 0, fmt.Errorf("delete declaration %s: %w", name, err)
	}
	e.logger.Info("queue deleted", log.Queue(name), log.Int("messages", st.Total()))
	return st.Total(), nil
}

// PurgeQueue drops the ready messages of a queue.
func (e *Engine) PurgeQueue(ctx context.Context, name string) (int, error) {
	qs, err := e.lookup(name)
	if err != nil {
		return 0, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()
	n, err := qs.q.Purge(ctx)
	if err != nil {
		return 0, err
	}
	e.logger.Info("queue purged", log.Queue(name), log.Int("messages", n))
	return n, nil
}

// QueueInfo returns the state of a queue.
func (e *Engine) QueueInfo(_ context.Context, name string) (QueueInfo, error) {
	qs, err := e.lookup(name)
	if err != nil {
		return QueueInfo{}, err
	}
	return e.info(qs), nil
}

// ListQueues returns every queue sorted by name.
func (e *Engine) ListQueues(_ context.Context) ([]QueueInfo, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	states := make([]*queueState, 0, len(e.queues))
	for _, qs := range e.queues {
		states = append(states, qs)
	}
	e.mu.RUnlock()

	out := make([]QueueInfo, 0, len(states))
	for _, qs := range states {
		out = append(out, e.info(qs))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// QueueSamples implements metrics.QueueSource.
func (e *Engine) QueueSamples() []metrics.QueueSample {
	infos, err := e.ListQueues(context.Background())
	if err != nil {
		return nil
	}
	out := make([]metrics.QueueSample, 0, len(infos))
	for _, i := range infos {
		out = append(out, metrics.QueueSample{Name: i.Name, Ready: i.Ready, Unacked: i.Unacked, Consumers: i.Consumers})
	}
	return out
}

// Publish appends msg to queue.
func (e *Engine) Publish(ctx context.Context, queueName string, msg Publishing) error {
	qs, err := e.lookup(queueName)
	if err != nil {
		return err
	}
	return e.publish(ctx, qs, queue.Header{
		CorrelationID: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		ContentType:   msg.ContentType,
		Headers:       msg.Headers,
	}, msg.Body)
}

func (e *Engine) publish(ctx context.Context, qs *queueState, h queue.Header, body []byte) error {
	qs.mu.Lock()
	if qs.deleted {
		qs.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueNotFound, qs.spec.Name)
	}
	_, err := qs.q.Enqueue(ctx, h, body)
	qs.mu.Unlock()
	if err != nil {
		return err
	}
	metrics.RecordPublished(qs.spec.Name)
	qs.signal()
	return nil
}

// Peek returns ready messages matching opts without delivering them.
// Returned deliveries carry no delivery tag.
func (e *Engine) Peek(_ context.Context, name string, opts PeekOptions) ([]Delivery, error) {
	qs, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	f, err := queue.CompileFilter(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %v", ErrInvalidArgument, err)
	}
	msgs, err := qs.q.Peek(opts.Limit, f)
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toDelivery(0, "", name, m))
	}
	return out, nil
}

// Ack acknowledges a delivery, removing its message.
func (e *Engine) Ack(ctx context.Context, tag uint64) error {
	c, msgID, err := e.settle(tag)
	if err != nil {
		return err
	}
	qs := c.qs
	qs.mu.Lock()
	err = qs.q.Ack(ctx, msgID)
	qs.mu.Unlock()
	c.poke()
	if err != nil {
		return err
	}
	metrics.RecordAcked(qs.spec.Name)
	return nil
}

// Nack rejects a delivery. With requeue the message returns to the head of
// the queue; without, it is dropped or dead-lettered.
func (e *Engine) Nack(ctx context.Context, tag uint64, requeue bool) error {
	c, msgID, err := e.settle(tag)
	if err != nil {
		return err
	}
	defer c.poke()
	qs := c.qs
	metrics.RecordNacked(qs.spec.Name, requeue)

	if requeue {
		qs.mu.Lock()
		_, err := qs.q.Requeue(ctx, msgID)
		qs.mu.Unlock()
		if err != nil {
			return err
		}
		qs.signal()
		return nil
	}

	dlq := qs.spec.DeadLetterQueue
	var target *queueState
	if dlq != "" {
		if target, err = e.lookup(dlq); err != nil {
			e.logger.Warn("dead-letter queue missing, message dropped", log.Queue(qs.spec.Name), log.Str("dead_letter_queue", dlq))
			target = nil
		}
	}
	if target == nil {
		qs.mu.Lock()
		m, err := qs.q.Take(ctx, msgID)
		qs.mu.Unlock()
		if err != nil {
			return err
		}
		e.logger.Debug("message dropped", log.Queue(qs.spec.Name), log.CorrelationID(m.Header.CorrelationID))
		return nil
	}

	unlock := lockPair(qs, target)
	if target.deleted {
		m, err := qs.q.Take(ctx, msgID)
		unlock()
		if err != nil {
			return err
		}
		e.logger.Warn("dead-letter queue deleted, message dropped", log.Queue(qs.spec.Name),
			log.Str("dead_letter_queue", dlq), log.CorrelationID(m.Header.CorrelationID))
		return nil
	}
	_, err = qs.q.MoveTo(ctx, msgID, target.q, func(h *queue.Header) {
		hdrs := make(map[string]string, len(h.Headers)+2)
		for k, v := range h.Headers {
			hdrs[k] = v
		}
		hdrs[HeaderDeathQueue] = qs.spec.Name
		hdrs[HeaderDeathReason] = "rejected"
		h.Headers = hdrs
		h.TimestampMs = 0
	})
	unlock()
	if err != nil {
		return fmt.Errorf("dead-letter to %s: %w", dlq, err)
	}
	metrics.RecordPublished(target.spec.Name)
	metrics.RecordDeadLettered(qs.spec.Name)
	target.signal()
	return nil
}

// lockPair locks two queue states in name order and returns the unlock.
func lockPair(a, b *queueState) func() {
	if b.spec.Name < a.spec.Name {
		a, b = b, a
	}
	a.mu.Lock()
	b.mu.Lock()
	return func() {
		b.mu.Unlock()
		a.mu.Unlock()
	}
}

// settle removes tag from the outstanding set and returns its owner.
func (e *Engine) settle(tag uint64) (*consumer, id.ID, error) {
	e.tagMu.Lock()
	c, ok := e.tags[tag]
	delete(e.tags, tag)
	e.tagMu.Unlock()
	if !ok {
		return nil, id.Zero, fmt.Errorf("%w: %d", ErrUnknownDeliveryTag, tag)
	}
	msgID, ok := c.release(tag)
	if !ok {
		return nil, id.Zero, fmt.Errorf("%w: %d", ErrUnknownDeliveryTag, tag)
	}
	return c, msgID, nil
}

// Close cancels every consumer, returning their unacked deliveries to the
// queues. The underlying store is not closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.shut.Store(true)
	var cons []*consumer
	for _, qs := range e.queues {
		qs.mu.Lock()
		for _, c := range qs.consumers {
			cons = append(cons, c)
		}
		qs.mu.Unlock()
	}
	e.mu.Unlock()

	for _, c := range cons {
		c.cancel()
	}
	e.wg.Wait()
	return nil
}

func toDelivery(tag uint64, consumerTag, queueName string, m queue.Message) Delivery {
	return Delivery{
		DeliveryTag:   tag,
		ConsumerTag:   consumerTag,
		Queue:         queueName,
		MessageID:     m.ID.String(),
		Body:          m.Body,
		CorrelationID: m.Header.CorrelationID,
		ReplyTo:       m.Header.ReplyTo,
		ContentType:   m.Header.ContentType,
		Headers:       m.Header.Headers,
		TimestampMs:   m.Header.TimestampMs,
		Redelivered:   m.Redelivered(),
		DeliveryCount: m.Header.DeliveryCount,
	}
}
