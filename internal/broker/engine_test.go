package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	pebblestore "github.com/rzbill/llmq/internal/storage/pebble"
)

func openTestDB(t *testing.T, dir string) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	return db
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db := openTestDB(t, t.TempDir())
	e, err := Open(context.Background(), db)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() {
		_ = e.Close()
		_ = db.Close()
	})
	return e
}

func recv(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		if !ok {
			t.Fatalf("delivery channel closed")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
	return Delivery{}
}

func expectNone(t *testing.T, ch <-chan Delivery) {
	t.Helper()
	select {
	case d, ok := <-ch:
		if ok {
			t.Fatalf("unexpected delivery %q", d.Body)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func declare(t *testing.T, e *Engine, spec QueueSpec) QueueInfo {
	t.Helper()
	info, err := e.DeclareQueue(context.Background(), spec)
	if err != nil {
		t.Fatalf("declare %s: %v", spec.Name, err)
	}
	return info
}

func publish(t *testing.T, e *Engine, q, body string) {
	t.Helper()
	if err := e.Publish(context.Background(), q, Publishing{Body: []byte(body), CorrelationID: "c-" + body, ReplyTo: "replies"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestPublishConsumeAck(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	declare(t, e, QueueSpec{Name: WorkQueue, Durable: true})
	publish(t, e, WorkQueue, "abc")

	ch, err := e.Consume(ctx, WorkQueue, ConsumeOptions{Prefetch: 1})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	d := recv(t, ch)
	if string(d.Body) != "abc" || d.CorrelationID != "c-abc" || d.ReplyTo != "replies" || d.Redelivered {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	info, _ := e.QueueInfo(ctx, WorkQueue)
	if info.Unacked != 1 || info.Consumers != 1 {
		t.Fatalf("info = %+v", info)
	}
	if err := e.Ack(ctx, d.DeliveryTag); err != nil {
		t.Fatalf("ack: %v", err)
	}
	info, _ = e.QueueInfo(ctx, WorkQueue)
	if info.Messages() != 0 {
		t.Fatalf("expected empty queue, got %+v", info)
	}
	if err := e.Ack(ctx, d.DeliveryTag); !errors.Is(err, ErrUnknownDeliveryTag) {
		t.Fatalf("double ack: want ErrUnknownDeliveryTag, got %v", err)
	}
}

func TestPrefetchLimitsUnacked(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	declare(t, e, QueueSpec{Name: "q"})
	publish(t, e, "q", "1")
	publish(t, e, "q", "2")

	ch, _ := e.Consume(ctx, "q", ConsumeOptions{Prefetch: 1})
	first := recv(t, ch)
	expectNone(t, ch)

	if err := e.Ack(ctx, first.DeliveryTag); err != nil {
		t.Fatalf("ack: %v", err)
	}
	second := recv(t, ch)
	if string(second.Body) != "2" {
		t.Fatalf("expected second message, got %q", second.Body)
	}
}

func TestConsumerExitRequeuesUnacked(t *testing.T) {
	e := newTestEngine(t)
	declare(t, e, QueueSpec{Name: "q"})
	publish(t, e, "q", "x")

	cctx, cancel := context.WithCancel(context.Background())
	ch, _ := e.Consume(cctx, "q", ConsumeOptions{Prefetch: 1})
	d := recv(t, ch)
	cancel()
	for range ch {
	}

	if err := e.Ack(context.Background(), d.DeliveryTag); !errors.Is(err, ErrUnknownDeliveryTag) {
		t.Fatalf("ack after consumer exit: want ErrUnknownDeliveryTag, got %v", err)
	}

	ch2, _ := e.Consume(context.Background(), "q", ConsumeOptions{Prefetch: 1})
	again := recv(t, ch2)
	if string(again.Body) != "x" || !again.Redelivered || again.DeliveryCount != 2 {
		t.Fatalf("expected redelivery, got %+v", again)
	}
}

func TestNackWithoutRequeueDrops(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	declare(t, e, QueueSpec{Name: "q"})
	publish(t, e, "q", "bad")

	ch, _ := e.Consume(ctx, "q", ConsumeOptions{Prefetch: 1})
	d := recv(t, ch)
	if err := e.Nack(ctx, d.DeliveryTag, false); err != nil {
		t.Fatalf("nack: %v", err)
	}
	expectNone(t, ch)
	info, _ := e.QueueInfo(ctx, "q")
	if info.Messages() != 0 {
		t.Fatalf("message should be gone, got %+v", info)
	}
}

func TestNackWithRequeueRedelivers(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	declare(t, e, QueueSpec{Name: "q"})
	publish(t, e, "q", "retry")

	ch, _ := e.Consume(ctx, "q", ConsumeOptions{Prefetch: 1})
	d := recv(t, ch)
	if err := e.Nack(ctx, d.DeliveryTag, true); err != nil {
		t.Fatalf("nack: %v", err)
	}
	again := recv(t, ch)
	if string(again.Body) != "retry" || !again.Redelivered {
		t.Fatalf("expected redelivery, got %+v", again)
	}
}

func TestNackDeadLetters(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	declare(t, e, QueueSpec{Name: WorkQueue, Durable: true, DeadLetterQueue: WorkQueue + ".dlq"})
	publish(t, e, WorkQueue, "bad")

	ch, _ := e.Consume(ctx, WorkQueue, ConsumeOptions{Prefetch: 1})
	d := recv(t, ch)
	if err := e.Nack(ctx, d.DeliveryTag, false); err != nil {
		t.Fatalf("nack: %v", err)
	}

	dlq, err := e.QueueInfo(ctx, WorkQueue+".dlq")
	if err != nil {
		t.Fatalf("dlq info: %v", err)
	}
	if dlq.Ready != 1 || !dlq.Durable {
		t.Fatalf("dlq = %+v", dlq)
	}
	msgs, err := e.Peek(ctx, WorkQueue+".dlq", PeekOptions{})
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if msgs[0].Headers[HeaderDeathQueue] != WorkQueue || msgs[0].CorrelationID != "c-bad" {
		t.Fatalf("dead-lettered message = %+v", msgs[0])
	}
}

func TestRedeclareConflictingDurability(t *testing.T) {
	e := newTestEngine(t)
	declare(t, e, QueueSpec{Name: "q", Durable: true})
	if _, err := e.DeclareQueue(context.Background(), QueueSpec{Name: "q"}); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("want ErrPreconditionFailed, got %v", err)
	}
	if _, err := e.DeclareQueue(context.Background(), QueueSpec{Name: "q", Passive: true}); err != nil {
		t.Fatalf("passive declare: %v", err)
	}
	if _, err := e.DeclareQueue(context.Background(), QueueSpec{Name: "missing", Passive: true}); !errors.Is(err, ErrQueueNotFound) {
		t.Fatalf("passive missing: want ErrQueueNotFound, got %v", err)
	}
}

func TestGeneratedExclusiveAutoDeleteQueue(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	info := declare(t, e, QueueSpec{Exclusive: true, AutoDelete: true})
	if info.Name == "" {
		t.Fatalf("expected generated name")
	}

	cctx, cancel := context.WithCancel(ctx)
	ch, err := e.Consume(cctx, info.Name, ConsumeOptions{})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := e.Consume(ctx, info.Name, ConsumeOptions{}); !errors.Is(err, ErrResourceLocked) {
		t.Fatalf("second consumer: want ErrResourceLocked, got %v", err)
	}
	cancel()
	for range ch {
	}
	waitFor(t, func() bool {
		_, err := e.QueueInfo(ctx, info.Name)
		return errors.Is(err, ErrQueueNotFound)
	})
}

func TestDeleteQueueClosesConsumers(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	declare(t, e, QueueSpec{Name: "q"})
	publish(t, e, "q", "a")
	ch, _ := e.Consume(ctx, "q", ConsumeOptions{})

	if _, err := e.DeleteQueue(ctx, "q", DeleteOptions{IfUnused: true}); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("if-unused: want ErrPreconditionFailed, got %v", err)
	}
	n, err := e.DeleteQueue(ctx, "q", DeleteOptions{})
	if err != nil || n != 1 {
		t.Fatalf("delete: %d %v", n, err)
	}
	for range ch {
	}
	if err := e.Publish(ctx, "q", Publishing{Body: []byte("x")}); !errors.Is(err, ErrQueueNotFound) {
		t.Fatalf("publish after delete: want ErrQueueNotFound, got %v", err)
	}
}

func TestPurgeQueue(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	declare(t, e, QueueSpec{Name: "q"})
	publish(t, e, "q", "a")
	publish(t, e, "q", "b")
	n, err := e.PurgeQueue(ctx, "q")
	if err != nil || n != 2 {
		t.Fatalf("purge: %d %v", n, err)
	}
}

func TestPeekFilter(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	declare(t, e, QueueSpec{Name: "q"})
	publish(t, e, "q", `{"new_message":"hi"}`)
	publish(t, e, "q", `{"new_message":"I am thrilled"}`)

	msgs, err := e.Peek(ctx, "q", PeekOptions{Filter: `text.contains("thrilled")`})
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 match, got %d", len(msgs))
	}
	if _, err := e.Peek(ctx, "q", PeekOptions{Filter: "size +"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("bad filter: want ErrInvalidArgument, got %v", err)
	}
}

func TestRestartKeepsDurableQueues(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db := openTestDB(t, dir)
	e, err := Open(ctx, db)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	declare(t, e, QueueSpec{Name: "durable", Durable: true})
	declare(t, e, QueueSpec{Name: "transient"})
	publish(t, e, "durable", "keep")
	publish(t, e, "durable", "inflight")
	ch, _ := e.Consume(ctx, "durable", ConsumeOptions{Prefetch: 1})
	recv(t, ch)
	_ = e.Close()
	_ = db.Close()

	db = openTestDB(t, dir)
	defer db.Close()
	e, err = Open(ctx, db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e.Close()

	info, err := e.QueueInfo(ctx, "durable")
	if err != nil {
		t.Fatalf("durable info: %v", err)
	}
	if info.Ready != 2 || info.Unacked != 0 {
		t.Fatalf("durable after restart = %+v", info)
	}
	if _, err := e.QueueInfo(ctx, "transient"); !errors.Is(err, ErrQueueNotFound) {
		t.Fatalf("transient should be gone, got %v", err)
	}
}

func TestClosedEngineRejects(t *testing.T) {
	e := newTestEngine(t)
	declare(t, e, QueueSpec{Name: "q"})
	_ = e.Close()
	if err := e.Publish(context.Background(), "q", Publishing{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}
