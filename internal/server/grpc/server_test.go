package grpcserver

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	llmqv1 "github.com/rzbill/llmq/api/llmq/v1"
	cfgpkg "github.com/rzbill/llmq/internal/config"
	"github.com/rzbill/llmq/internal/runtime"
	pebblestore "github.com/rzbill/llmq/internal/storage/pebble"
)

const bufSize = 1 << 20

func dialer(s *grpc.Server) func(context.Context, string) (net.Conn, error) {
	lis := bufconn.Listen(bufSize)
	go func() { _ = s.Serve(lis) }()
	return func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
}

func newTestConn(t *testing.T) *grpc.ClientConn {
	t.Helper()
	rt, err := runtime.Open(context.Background(), runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	srv := New(rt)
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer(srv.GRPC())),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Close()
		_ = rt.Close()
	})
	return conn
}

func TestHealthOverGRPC(t *testing.T) {
	conn := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: llmqv1.ServiceName})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status %s", res.GetStatus())
	}
}

func TestPublishConsumeAckOverGRPC(t *testing.T) {
	conn := newTestConn(t)
	c := llmqv1.NewBrokerClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := c.DeclareQueue(ctx, &llmqv1.DeclareQueueRequest{Queue: llmqv1.QueueSpec{Name: "jobs", Durable: true}})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if info.Name != "jobs" || !info.Durable {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := c.Publish(ctx, &llmqv1.PublishRequest{Queue: "jobs", Body: []byte("abc"), CorrelationID: "r1", ReplyTo: "replies"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sctx, scancel := context.WithCancel(ctx)
	defer scancel()
	stream, err := c.Consume(sctx, &llmqv1.ConsumeRequest{Queue: "jobs", Prefetch: 1})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	d, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(d.Body) != "abc" || d.CorrelationID != "r1" || d.ReplyTo != "replies" || d.DeliveryTag == 0 {
		t.Fatalf("unexpected delivery %+v", d)
	}

	q, err := c.QueueInfo(ctx, &llmqv1.QueueInfoRequest{Name: "jobs"})
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if q.Messages != 1 || q.MessagesUnacknowledged != 1 || q.Consumers != 1 {
		t.Fatalf("unexpected stats %+v", q)
	}

	if _, err := c.Ack(ctx, &llmqv1.AckRequest{DeliveryTag: d.DeliveryTag}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	q, err = c.QueueInfo(ctx, &llmqv1.QueueInfoRequest{Name: "jobs"})
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if q.Messages != 0 {
		t.Fatalf("expected empty queue, got %d", q.Messages)
	}
}

func TestStatusCodes(t *testing.T) {
	conn := newTestConn(t)
	c := llmqv1.NewBrokerClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Publish(ctx, &llmqv1.PublishRequest{Queue: "missing", Body: []byte("x")})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("publish to missing queue: %v", err)
	}
	_, err = c.Ack(ctx, &llmqv1.AckRequest{DeliveryTag: 999})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("ack unknown tag: %v", err)
	}
	_, err = c.DeclareQueue(ctx, &llmqv1.DeclareQueueRequest{Queue: llmqv1.QueueSpec{Name: "llm_queue", Durable: false}})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("conflicting redeclare: %v", err)
	}
	_, err = c.ListReady(ctx, &llmqv1.ListReadyRequest{Queue: "llm_queue", Filter: "size +"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("bad filter: %v", err)
	}

	stream, err := c.Consume(ctx, &llmqv1.ConsumeRequest{Queue: "missing"})
	if err == nil {
		_, err = stream.Recv()
	}
	if status.Code(err) != codes.NotFound {
		t.Fatalf("consume missing queue: %v", err)
	}
}

func TestConsumeStreamEndRequeues(t *testing.T) {
	conn := newTestConn(t)
	c := llmqv1.NewBrokerClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.Publish(ctx, &llmqv1.PublishRequest{Queue: "llm_queue", Body: []byte("job")}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	sctx, scancel := context.WithCancel(ctx)
	stream, err := c.Consume(sctx, &llmqv1.ConsumeRequest{Queue: "llm_queue", Prefetch: 1})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := stream.Recv(); err != nil {
		t.Fatalf("recv: %v", err)
	}
	scancel()
	if _, err := stream.Recv(); err == nil || err == io.EOF {
		t.Fatalf("expected cancellation, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		q, err := c.QueueInfo(ctx, &llmqv1.QueueInfoRequest{Name: "llm_queue"})
		if err != nil {
			t.Fatalf("info: %v", err)
		}
		if q.MessagesReady == 1 && q.Consumers == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("message not requeued: %+v", q)
		}
		time.Sleep(10 * time.Millisecond)
	}

	stream, err = c.Consume(ctx, &llmqv1.ConsumeRequest{Queue: "llm_queue", Prefetch: 1})
	if err != nil {
		t.Fatalf("consume again: %v", err)
	}
	d, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv again: %v", err)
	}
	if !d.Redelivered || d.DeliveryCount != 2 {
		t.Fatalf("expected redelivery, got %+v", d)
	}
}

func TestListQueuesAndReady(t *testing.T) {
	conn := newTestConn(t)
	c := llmqv1.NewBrokerClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, body := range []string{`{"new_message":"I am thrilled"}`, `{"new_message":"meh"}`} {
		if _, err := c.Publish(ctx, &llmqv1.PublishRequest{Queue: "llm_queue", Body: []byte(body)}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	ls, err := c.ListQueues(ctx, &llmqv1.ListQueuesRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	names := map[string]bool{}
	for _, q := range ls.Queues {
		names[q.Name] = true
	}
	for _, want := range []string{"llm_queue", "llm_queue.dlq", "userapi_queue"} {
		if !names[want] {
			t.Fatalf("missing %s in %v", want, names)
		}
	}

	res, err := c.ListReady(ctx, &llmqv1.ListReadyRequest{Queue: "llm_queue", Filter: `text.contains("thrilled")`, Limit: 10})
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].DeliveryTag != 0 {
		t.Fatalf("unexpected peek %+v", res.Messages)
	}
}
