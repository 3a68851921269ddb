package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/rzbill/llmq/internal/storage/pebble"
	"github.com/rzbill/llmq/pkg/id"
)

// ErrNotUnacked is returned when acking or taking a message that is not
// currently delivered.
var ErrNotUnacked = errors.New("queue: message not unacked")

// Message is a stored message.
type Message struct {
	ID     id.ID
	Header Header
	Body   []byte
}

// Redelivered reports whether the message was handed out before.
func (m Message) Redelivered() bool { return m.Header.DeliveryCount > 1 }

// Stats is a point-in-time view of a queue's depth.
type Stats struct {
	Ready   int
	Unacked int
}

// Total is ready plus unacked, the backlog signal.
func (s Stats) Total() int { return s.Ready + s.Unacked }

// Queue is a single durable FIFO. It is safe for concurrent use.
type Queue struct {
	db   *pebblestore.DB
	name string
	ids  *id.Generator

	mu      sync.Mutex
	ready   int
	unacked int
}

// Open attaches to the keyspace of name and restores its counters.
func Open(db *pebblestore.DB, name string, ids *id.Generator) (*Queue, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = id.NewGenerator()
	}
	q := &Queue{db: db, name: name, ids: ids}
	var err error
	if q.ready, err = db.CountPrefix(readyPrefix(name)); err != nil {
		return nil, fmt.Errorf("count ready %s: %w", name, err)
	}
	if q.unacked, err = db.CountPrefix(unackedPrefix(name)); err != nil {
		return nil, fmt.Errorf("count unacked %s: %w", name, err)
	}
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Ready: q.ready, Unacked: q.unacked}
}

// Enqueue appends a message to the tail. DeliveryCount is reset and
// TimestampMs defaults to now.
func (q *Queue) Enqueue(ctx context.Context, h Header, body []byte) (id.ID, error) {
	h.DeliveryCount = 0
	if h.TimestampMs == 0 {
		h.TimestampMs = time.Now().UnixMilli()
	}
	rec, err := encodeRecord(h, body)
	if err != nil {
		return id.Zero, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	msgID := q.ids.Next()
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Set(readyKey(q.name, msgID), rec, nil); err != nil {
		return id.Zero, err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return id.Zero, fmt.Errorf("enqueue %s: %w", q.name, err)
	}
	q.ready++
	return msgID, nil
}

// Claim moves up to max messages from the head of the ready list to unacked
// and returns them with their delivery count incremented.
func (q *Queue) Claim(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready == 0 {
		return nil, nil
	}

	b := q.db.NewBatch()
	defer b.Close()
	out := make([]Message, 0, max)
	var firstErr error
	corrupt := 0
	err := q.db.ScanPrefix(readyPrefix(q.name), func(k, v []byte) bool {
		msgID, ok := idFromKey(k)
		if !ok {
			return true
		}
		h, body, err := decodeRecord(v)
		if err != nil {
			// unreadable records would block the head forever
			_ = b.Delete(k, nil)
			corrupt++
			return true
		}
		h.DeliveryCount++
		rec, err := encodeRecord(h, body)
		if err != nil {
			firstErr = err
			return false
		}
		if err := b.Delete(k, nil); err != nil {
			firstErr = err
			return false
		}
		if err := b.Set(unackedKey(q.name, msgID), rec, nil); err != nil {
			firstErr = err
			return false
		}
		out = append(out, Message{ID: msgID, Header: h, Body: body})
		return len(out) < max
	})
	if err == nil {
		err = firstErr
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", q.name, err)
	}
	if len(out) == 0 && corrupt == 0 {
		return nil, nil
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("claim %s: %w", q.name, err)
	}
	q.ready -= len(out) + corrupt
	q.unacked += len(out)
	return out, nil
}

// Ack deletes delivered messages.
func (q *Queue) Ack(ctx context.Context, ids ...id.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	b := q.db.NewBatch()
	defer b.Close()
	for _, msgID := range ids {
		k := unackedKey(q.name, msgID)
		if _, err := q.db.Get(k); err != nil {
			if errors.Is(err, pebblestore.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNotUnacked, msgID)
			}
			return err
		}
		if err := b.Delete(k, nil); err != nil {
			return err
		}
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("ack %s: %w", q.name, err)
	}
	q.unacked -= len(ids)
	return nil
}

// Requeue returns delivered messages to the ready list under their original
// ids. Unknown ids are skipped.
func (q *Queue) Requeue(ctx context.Context, ids ...id.ID) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b := q.db.NewBatch()
	defer b.Close()
	moved := 0
	for _, msgID := range ids {
		k := unackedKey(q.name, msgID)
		v, err := q.db.Get(k)
		if err != nil {
			if errors.Is(err, pebblestore.ErrNotFound) {
				continue
			}
			return 0, err
		}
		if err := b.Delete(k, nil); err != nil {
			return 0, err
		}
		if err := b.Set(readyKey(q.name, msgID), v, nil); err != nil {
			return 0, err
		}
		moved++
	}
	if moved == 0 {
		return 0, nil
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return 0, fmt.Errorf("requeue %s: %w", q.name, err)
	}
	q.unacked -= moved
	q.ready += moved
	return moved, nil
}

// Take removes a delivered message and returns it. Used for nack without
// requeue, where the caller decides between dropping and dead-lettering.
func (q *Queue) Take(ctx context.Context, msgID id.ID) (Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := unackedKey(q.name, msgID)
	v, err := q.db.Get(k)
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return Message{}, fmt.Errorf("%w: %s", ErrNotUnacked, msgID)
		}
		return Message{}, err
	}
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(k, nil); err != nil {
		return Message{}, err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return Message{}, fmt.Errorf("take %s: %w", q.name, err)
	}
	q.unacked--
	h, body, err := decodeRecord(v)
	if err != nil {
		return Message{ID: msgID}, err
	}
	return Message{ID: msgID, Header: h, Body: body}, nil
}

// MoveTo removes a delivered message and appends it to the ready list of dst
// in one batch, so a crash leaves it in exactly one of them. mutate, if set,
// rewrites the header first. Both queues must share a store.
func (q *Queue) MoveTo(ctx context.Context, msgID id.ID, dst *Queue, mutate func(*Header)) (Message, error) {
	if dst == q {
		return Message{}, fmt.Errorf("queue: move %s onto itself", q.name)
	}
	first, second := q, dst
	if dst.name < q.name {
		first, second = dst, q
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	k := unackedKey(q.name, msgID)
	v, err := q.db.Get(k)
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return Message{}, fmt.Errorf("%w: %s", ErrNotUnacked, msgID)
		}
		return Message{}, err
	}
	h, body, err := decodeRecord(v)
	if err != nil {
		return Message{ID: msgID}, err
	}
	if mutate != nil {
		mutate(&h)
	}
	h.DeliveryCount = 0
	if h.TimestampMs == 0 {
		h.TimestampMs = time.Now().UnixMilli()
	}
	rec, err := encodeRecord(h, body)
	if err != nil {
		return Message{ID: msgID}, err
	}

	newID := dst.ids.Next()
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(k, nil); err != nil {
		return Message{}, err
	}
	if err := b.Set(readyKey(dst.name, newID), rec, nil); err != nil {
		return Message{}, err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return Message{}, fmt.Errorf("move %s to %s: %w", q.name, dst.name, err)
	}
	q.unacked--
	dst.ready++
	return Message{ID: newID, Header: h, Body: body}, nil
}

// Recover moves every unacked message back to ready.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	var ids []id.ID
	err := q.db.ScanPrefix(unackedPrefix(q.name), func(k, _ []byte) bool {
		if msgID, ok := idFromKey(k); ok {
			ids = append(ids, msgID)
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return q.Requeue(ctx, ids...)
}

// Purge deletes all ready messages and returns how many were removed.
// Unacked messages are left to their consumers.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.ready
	if err := q.db.DeletePrefix(ctx, readyPrefix(q.name)); err != nil {
		return 0, fmt.Errorf("purge %s: %w", q.name, err)
	}
	q.ready = 0
	return n, nil
}

// Drop deletes every message of the queue.
func (q *Queue) Drop(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.db.DeletePrefix(ctx, queuePrefix(q.name)); err != nil {
		return fmt.Errorf("drop %s: %w", q.name, err)
	}
	q.ready, q.unacked = 0, 0
	return nil
}

// Peek returns up to limit ready messages from the head that match f,
// without claiming them.
func (q *Queue) Peek(limit int, f Filter) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []Message
	err := q.db.ScanPrefix(readyPrefix(q.name), func(k, v []byte) bool {
		msgID, ok := idFromKey(k)
		if !ok {
			return true
		}
		h, body, err := decodeRecord(v)
		if err != nil {
			return true
		}
		m := Message{ID: msgID, Header: h, Body: body}
		if f.Match(m) {
			out = append(out, m)
		}
		return len(out) < limit
	})
	return out, err
}
