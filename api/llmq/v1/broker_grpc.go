package llmqv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "llmq.v1.Broker"

// ConsumeReadyHeader is sent as stream header metadata once a Consume
// stream's consumer is registered.
const ConsumeReadyHeader = "llmq-consume-ready"

const (
	methodDeclareQueue = "/" + ServiceName + "/DeclareQueue"
	methodDeleteQueue  = "/" + ServiceName + "/DeleteQueue"
	methodPurgeQueue   = "/" + ServiceName + "/PurgeQueue"
	methodQueueInfo    = "/" + ServiceName + "/QueueInfo"
	methodListQueues   = "/" + ServiceName + "/ListQueues"
	methodPublish      = "/" + ServiceName + "/Publish"
	methodAck          = "/" + ServiceName + "/Ack"
	methodNack         = "/" + ServiceName + "/Nack"
	methodListReady    = "/" + ServiceName + "/ListReady"
	methodConsume      = "/" + ServiceName + "/Consume"
)

// BrokerServer is the server API for the Broker service.
type BrokerServer interface {
	DeclareQueue(context.Context, *DeclareQueueRequest) (*QueueInfo, error)
	DeleteQueue(context.Context, *DeleteQueueRequest) (*DeleteQueueResponse, error)
	PurgeQueue(context.Context, *PurgeQueueRequest) (*PurgeQueueResponse, error)
	QueueInfo(context.Context, *QueueInfoRequest) (*QueueInfo, error)
	ListQueues(context.Context, *ListQueuesRequest) (*ListQueuesResponse, error)
	Publish(context.Context, *PublishRequest) (*PublishResponse, error)
	Ack(context.Context, *AckRequest) (*AckResponse, error)
	Nack(context.Context, *NackRequest) (*NackResponse, error)
	ListReady(context.Context, *ListReadyRequest) (*ListReadyResponse, error)
	Consume(*ConsumeRequest, Broker_ConsumeServer) error
}

// UnimplementedBrokerServer returns codes.Unimplemented for every method.
// Embed it to stay forward compatible.
type UnimplementedBrokerServer struct{}

func (UnimplementedBrokerServer) DeclareQueue(context.Context, *DeclareQueueRequest) (*QueueInfo, error) {
	return nil, status.Error(codes.Unimplemented, "method DeclareQueue not implemented")
}
func (UnimplementedBrokerServer) DeleteQueue(context.Context, *DeleteQueueRequest) (*DeleteQueueResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteQueue not implemented")
}
func (UnimplementedBrokerServer) PurgeQueue(context.Context, *PurgeQueueRequest) (*PurgeQueueResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PurgeQueue not implemented")
}
func (UnimplementedBrokerServer) QueueInfo(context.Context, *QueueInfoRequest) (*QueueInfo, error) {
	return nil, status.Error(codes.Unimplemented, "method QueueInfo not implemented")
}
func (UnimplementedBrokerServer) ListQueues(context.Context, *ListQueuesRequest) (*ListQueuesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListQueues not implemented")
}
func (UnimplementedBrokerServer) Publish(context.Context, *PublishRequest) (*PublishResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Publish not implemented")
}
func (UnimplementedBrokerServer) Ack(context.Context, *AckRequest) (*AckResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Ack not implemented")
}
func (UnimplementedBrokerServer) Nack(context.Context, *NackRequest) (*NackResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Nack not implemented")
}
func (UnimplementedBrokerServer) ListReady(context.Context, *ListReadyRequest) (*ListReadyResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListReady not implemented")
}
func (UnimplementedBrokerServer) Consume(*ConsumeRequest, Broker_ConsumeServer) error {
	return status.Error(codes.Unimplemented, "method Consume not implemented")
}

// Broker_ConsumeServer is the server side of the Consume stream.
type Broker_ConsumeServer interface {
	Send(*Delivery) error
	grpc.ServerStream
}

type brokerConsumeServer struct {
	grpc.ServerStream
}

func (s *brokerConsumeServer) Send(d *Delivery) error { return s.ServerStream.SendMsg(d) }

// RegisterBrokerServer registers srv on s.
func RegisterBrokerServer(s grpc.ServiceRegistrar, srv BrokerServer) {
	s.RegisterService(&Broker_ServiceDesc, srv)
}

// unary builds a MethodDesc handler for a request type Req.
func unary[Req any, Resp any](method string, call func(BrokerServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BrokerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BrokerServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func consumeHandler(srv any, stream grpc.ServerStream) error {
	in := new(ConsumeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BrokerServer).Consume(in, &brokerConsumeServer{ServerStream: stream})
}

// Broker_ServiceDesc describes the Broker service for grpc.Server.
var Broker_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DeclareQueue", Handler: unary(methodDeclareQueue, BrokerServer.DeclareQueue)},
		{MethodName: "DeleteQueue", Handler: unary(methodDeleteQueue, BrokerServer.DeleteQueue)},
		{MethodName: "PurgeQueue", Handler: unary(methodPurgeQueue, BrokerServer.PurgeQueue)},
		{MethodName: "QueueInfo", Handler: unary(methodQueueInfo, BrokerServer.QueueInfo)},
		{MethodName: "ListQueues", Handler: unary(methodListQueues, BrokerServer.ListQueues)},
		{MethodName: "Publish", Handler: unary(methodPublish, BrokerServer.Publish)},
		{MethodName: "Ack", Handler: unary(methodAck, BrokerServer.Ack)},
		{MethodName: "Nack", Handler: unary(methodNack, BrokerServer.Nack)},
		{MethodName: "ListReady", Handler: unary(methodListReady, BrokerServer.ListReady)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Consume", Handler: consumeHandler, ServerStreams: true},
	},
	Metadata: "llmq/v1/broker.msgpack",
}

// BrokerClient is the client API for the Broker service.
type BrokerClient interface {
	DeclareQueue(ctx context.Context, in *DeclareQueueRequest, opts ...grpc.CallOption) (*QueueInfo, error)
	DeleteQueue(ctx context.Context, in *DeleteQueueRequest, opts ...grpc.CallOption) (*DeleteQueueResponse, error)
	PurgeQueue(ctx context.Context, in *PurgeQueueRequest, opts ...grpc.CallOption) (*PurgeQueueResponse, error)
	QueueInfo(ctx context.Context, in *QueueInfoRequest, opts ...grpc.CallOption) (*QueueInfo, error)
	ListQueues(ctx context.Context, in *ListQueuesRequest, opts ...grpc.CallOption) (*ListQueuesResponse, error)
	Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*PublishResponse, error)
	Ack(ctx context.Context, in *AckRequest, opts ...grpc.CallOption) (*AckResponse, error)
	Nack(ctx context.Context, in *NackRequest, opts ...grpc.CallOption) (*NackResponse, error)
	ListReady(ctx context.Context, in *ListReadyRequest, opts ...grpc.CallOption) (*ListReadyResponse, error)
	Consume(ctx context.Context, in *ConsumeRequest, opts ...grpc.CallOption) (Broker_ConsumeClient, error)
}

// Broker_ConsumeClient is the client side of the Consume stream.
type Broker_ConsumeClient interface {
	Recv() (*Delivery, error)
	grpc.ClientStream
}

type brokerClient struct {
	cc grpc.ClientConnInterface
}

// NewBrokerClient wraps cc.
func NewBrokerClient(cc grpc.ClientConnInterface) BrokerClient {
	return &brokerClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *brokerClient) DeclareQueue(ctx context.Context, in *DeclareQueueRequest, opts ...grpc.CallOption) (*QueueInfo, error) {
	return invoke[QueueInfo](ctx, c.cc, methodDeclareQueue, in, opts)
}

func (c *brokerClient) DeleteQueue(ctx context.Context, in *DeleteQueueRequest, opts ...grpc.CallOption) (*DeleteQueueResponse, error) {
	return invoke[DeleteQueueResponse](ctx, c.cc, methodDeleteQueue, in, opts)
}

func (c *brokerClient) PurgeQueue(ctx context.Context, in *PurgeQueueRequest, opts ...grpc.CallOption) (*PurgeQueueResponse, error) {
	return invoke[PurgeQueueResponse](ctx, c.cc, methodPurgeQueue, in, opts)
}

func (c *brokerClient) QueueInfo(ctx context.Context, in *QueueInfoRequest, opts ...grpc.CallOption) (*QueueInfo, error) {
	return invoke[QueueInfo](ctx, c.cc, methodQueueInfo, in, opts)
}

func (c *brokerClient) ListQueues(ctx context.Context, in *ListQueuesRequest, opts ...grpc.CallOption) (*ListQueuesResponse, error) {
	return invoke[ListQueuesResponse](ctx, c.cc, methodListQueues, in, opts)
}

func (c *brokerClient) Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*PublishResponse, error) {
	return invoke[PublishResponse](ctx, c.cc, methodPublish, in, opts)
}

func (c *brokerClient) Ack(ctx context.Context, in *AckRequest, opts ...grpc.CallOption) (*AckResponse, error) {
	return invoke[AckResponse](ctx, c.cc, methodAck, in, opts)
}

func (c *brokerClient) Nack(ctx context.Context, in *NackRequest, opts ...grpc.CallOption) (*NackResponse, error) {
	return invoke[NackResponse](ctx, c.cc, methodNack, in, opts)
}

func (c *brokerClient) ListReady(ctx context.Context, in *ListReadyRequest, opts ...grpc.CallOption) (*ListReadyResponse, error) {
	return invoke[ListReadyResponse](ctx, c.cc, methodListReady, in, opts)
}

func (c *brokerClient) Consume(ctx context.Context, in *ConsumeRequest, opts ...grpc.CallOption) (Broker_ConsumeClient, error) {
	stream, err := c.cc.NewStream(ctx, &Broker_ServiceDesc.Streams[0], methodConsume, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &brokerConsumeClient{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type brokerConsumeClient struct {
	grpc.ClientStream
}

func (x *brokerConsumeClient) Recv() (*Delivery, error) {
	m := new(Delivery)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
