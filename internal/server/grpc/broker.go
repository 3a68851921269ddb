package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	llmqv1 "github.com/rzbill/llmq/api/llmq/v1"
	"github.com/rzbill/llmq/internal/broker"
	"github.com/rzbill/llmq/pkg/log"
)

type brokerSvc struct {
	llmqv1.UnimplementedBrokerServer
	b      *broker.Engine
	logger log.Logger
}

func (s *brokerSvc) DeclareQueue(ctx context.Context, req *llmqv1.DeclareQueueRequest) (*llmqv1.QueueInfo, error) {
	info, err := s.b.DeclareQueue(ctx, broker.QueueSpec{
		Name:            req.Queue.Name,
		Durable:         req.Queue.Durable,
		Exclusive:       req.Queue.Exclusive,
		AutoDelete:      req.Queue.AutoDelete,
		DeadLetterQueue: req.Queue.DeadLetterQueue,
		Passive:         req.Passive,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	out := QueueInfoToWire(info)
	return &out, nil
}

func (s *brokerSvc) DeleteQueue(ctx context.Context, req *llmqv1.DeleteQueueRequest) (*llmqv1.DeleteQueueResponse, error) {
	n, err := s.b.DeleteQueue(ctx, req.Name, broker.DeleteOptions{IfUnused: req.IfUnused, IfEmpty: req.IfEmpty})
	if err != nil {
		return nil, toStatus(err)
	}
	return &llmqv1.DeleteQueueResponse{Messages: int64(n)}, nil
}

func (s *brokerSvc) PurgeQueue(ctx context.Context, req *llmqv1.PurgeQueueRequest) (*llmqv1.PurgeQueueResponse, error) {
	n, err := s.b.PurgeQueue(ctx, req.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	return &llmqv1.PurgeQueueResponse{Messages: int64(n)}, nil
}

func (s *brokerSvc) QueueInfo(ctx context.Context, req *llmqv1.QueueInfoRequest) (*llmqv1.QueueInfo, error) {
	info, err := s.b.QueueInfo(ctx, req.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	out := QueueInfoToWire(info)
	return &out, nil
}

func (s *brokerSvc) ListQueues(ctx context.Context, _ *llmqv1.ListQueuesRequest) (*llmqv1.ListQueuesResponse, error) {
	infos, err := s.b.ListQueues(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &llmqv1.ListQueuesResponse{Queues: make([]llmqv1.QueueInfo, 0, len(infos))}
	for _, i := range infos {
		out.Queues = append(out.Queues, QueueInfoToWire(i))
	}
	return out, nil
}

func (s *brokerSvc) Publish(ctx context.Context, req *llmqv1.PublishRequest) (*llmqv1.PublishResponse, error) {
	err := s.b.Publish(ctx, req.Queue, broker.Publishing{
		Body:          req.Body,
		CorrelationID: req.CorrelationID,
		ReplyTo:       req.ReplyTo,
		ContentType:   req.ContentType,
		Headers:       req.Headers,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &llmqv1.PublishResponse{}, nil
}

func (s *brokerSvc) Ack(ctx context.Context, req *llmqv1.AckRequest) (*llmqv1.AckResponse, error) {
	if err := s.b.Ack(ctx, req.DeliveryTag); err != nil {
		return nil, toStatus(err)
	}
	return &llmqv1.AckResponse{}, nil
}

func (s *brokerSvc) Nack(ctx context.Context, req *llmqv1.NackRequest) (*llmqv1.NackResponse, error) {
	if err := s.b.Nack(ctx, req.DeliveryTag, req.Requeue); err != nil {
		return nil, toStatus(err)
	}
	return &llmqv1.NackResponse{}, nil
}

func (s *brokerSvc) ListReady(ctx context.Context, req *llmqv1.ListReadyRequest) (*llmqv1.ListReadyResponse, error) {
	ds, err := s.b.Peek(ctx, req.Queue, broker.PeekOptions{Filter: req.Filter, Limit: int(req.Limit)})
	if err != nil {
		return nil, toStatus(err)
	}
	out := &llmqv1.ListReadyResponse{Messages: make([]llmqv1.Delivery, 0, len(ds))}
	for _, d := range ds {
		out.Messages = append(out.Messages, DeliveryToWire(d))
	}
	return out, nil
}

// Consume streams deliveries until the client goes away. Deliveries still
// unacknowledged when the stream ends return to the queue.
func (s *brokerSvc) Consume(req *llmqv1.ConsumeRequest, stream llmqv1.Broker_ConsumeServer) error {
	ctx := stream.Context()
	ch, err := s.b.Consume(ctx, req.Queue, broker.ConsumeOptions{
		ConsumerTag: req.ConsumerTag,
		Prefetch:    int(req.Prefetch),
		Exclusive:   req.Exclusive,
	})
	if err != nil {
		return toStatus(err)
	}
	if err := stream.SendHeader(metadata.Pairs(llmqv1.ConsumeReadyHeader, req.Queue)); err != nil {
		return err
	}
	s.logger.Debug("stream consumer attached", log.Queue(req.Queue))
	for d := range ch {
		w := DeliveryToWire(d)
		if err := stream.Send(&w); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	// channel closed by the broker: queue deleted or shutting down
	if _, err := s.b.QueueInfo(ctx, req.Queue); err != nil {
		return toStatus(err)
	}
	return status.Error(codes.Unavailable, "consumer cancelled by broker")
}

// toStatus maps broker errors onto gRPC codes. The message keeps the broker
// error text so clients can recover the exact sentinel.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, broker.ErrQueueNotFound):
		code = codes.NotFound
	case errors.Is(err, broker.ErrPreconditionFailed),
		errors.Is(err, broker.ErrUnknownDeliveryTag),
		errors.Is(err, broker.ErrResourceLocked):
		code = codes.FailedPrecondition
	case errors.Is(err, broker.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, broker.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(code, err.Error())
}

// QueueInfoToWire converts broker state to its wire form.
func QueueInfoToWire(i broker.QueueInfo) llmqv1.QueueInfo {
	return llmqv1.QueueInfo{
		Name:                   i.Name,
		Durable:                i.Durable,
		Exclusive:              i.Exclusive,
		AutoDelete:             i.AutoDelete,
		DeadLetterQueue:        i.DeadLetterQueue,
		Messages:               int64(i.Messages()),
		MessagesReady:          int64(i.Ready),
		MessagesUnacknowledged: int64(i.Unacked),
		Consumers:              int64(i.Consumers),
	}
}

// DeliveryToWire converts a broker delivery to its wire form.
func DeliveryToWire(d broker.Delivery) llmqv1.Delivery {
	return llmqv1.Delivery{
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
