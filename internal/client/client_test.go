package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rzbill/llmq/internal/broker"
	cfgpkg "github.com/rzbill/llmq/internal/config"
	"github.com/rzbill/llmq/internal/runtime"
	grpcserver "github.com/rzbill/llmq/internal/server/grpc"
	pebblestore "github.com/rzbill/llmq/internal/storage/pebble"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	rt, err := runtime.Open(context.Background(), runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever, Config: cfgpkg.Default()})
	require.NoError(t, err)
	srv := grpcserver.New(rt)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.GRPC().Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	c := New(conn)
	t.Cleanup(func() {
		_ = c.Close()
		_ = conn.Close()
		srv.Close()
		_ = rt.Close()
	})
	return c
}

func recv(t *testing.T, ch <-chan broker.Delivery) broker.Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	return broker.Delivery{}
}

func TestChannelRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Ping(ctx))

	reply, err := c.DeclareQueue(ctx, broker.QueueSpec{Exclusive: true, AutoDelete: true})
	require.NoError(t, err)
	require.Contains(t, reply.Name, "amq.gen-")

	ch, err := c.Consume(ctx, broker.WorkQueue, broker.ConsumeOptions{Prefetch: 1})
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, broker.WorkQueue, broker.Publishing{
		Body:          []byte("abc"),
		CorrelationID: "r1",
		ReplyTo:       reply.Name,
	}))
	d := recv(t, ch)
	require.Equal(t, "abc", string(d.Body))
	require.Equal(t, "r1", d.CorrelationID)
	require.Equal(t, reply.Name, d.ReplyTo)
	require.False(t, d.Redelivered)

	info, err := c.QueueInfo(ctx, broker.WorkQueue)
	require.NoError(t, err)
	require.Equal(t, 1, info.Unacked)
	require.Equal(t, 1, info.Messages())

	require.NoError(t, c.Ack(ctx, d.DeliveryTag))
	err = c.Ack(ctx, d.DeliveryTag)
	require.True(t, errors.Is(err, broker.ErrUnknownDeliveryTag), "got %v", err)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestSentinelMapping(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Publish(ctx, "missing", broker.Publishing{Body: []byte("x")})
	require.ErrorIs(t, err, broker.ErrQueueNotFound)

	_, err = c.DeclareQueue(ctx, broker.QueueSpec{Name: broker.WorkQueue, Durable: false})
	require.ErrorIs(t, err, broker.ErrPreconditionFailed)

	_, err = c.DeclareQueue(ctx, broker.QueueSpec{Name: "nope", Passive: true})
	require.ErrorIs(t, err, broker.ErrQueueNotFound)

	_, err = c.Consume(ctx, "missing", broker.ConsumeOptions{})
	require.ErrorIs(t, err, broker.ErrQueueNotFound)

	_, err = c.Peek(ctx, broker.WorkQueue, broker.PeekOptions{Filter: "size +"})
	require.ErrorIs(t, err, broker.ErrInvalidArgument)
}

func TestExclusiveConsumerLocked(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q, err := c.DeclareQueue(ctx, broker.QueueSpec{Exclusive: true, AutoDelete: true})
	require.NoError(t, err)
	_, err = c.Consume(ctx, q.Name, broker.ConsumeOptions{})
	require.NoError(t, err)
	_, err = c.Consume(ctx, q.Name, broker.ConsumeOptions{})
	require.ErrorIs(t, err, broker.ErrResourceLocked)
}

func TestNackDeadLetters(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.Consume(ctx, broker.WorkQueue, broker.ConsumeOptions{Prefetch: 1})
	require.NoError(t, err)
	require.NoError(t, c.Publish(ctx, broker.WorkQueue, broker.Publishing{Body: []byte("not json")}))
	d := recv(t, ch)
	require.NoError(t, c.Nack(ctx, d.DeliveryTag, false))

	require.Eventually(t, func() bool {
		dlq, err := c.QueueInfo(ctx, "llm_queue.dlq")
		return err == nil && dlq.Ready == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs, err := c.Peek(ctx, "llm_queue.dlq", broker.PeekOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, broker.WorkQueue, msgs[0].Headers[broker.HeaderDeathQueue])
}

func TestCloseEndsConsumers(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.Consume(ctx, broker.WorkQueue, broker.ConsumeOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("consumer channel not closed")
	}
	_, err = c.Consume(ctx, broker.WorkQueue, broker.ConsumeOptions{})
	require.ErrorIs(t, err, broker.ErrClosed)
	require.True(t, IsTransport(err))
}
