// Package llmqv1 defines the llmq.v1.Broker gRPC service: its request and
// response messages, the MessagePack codec they travel in, the service
// descriptor and a client stub.
//
// The messages are plain Go structs. Calls made through BrokerClient select
// the codec with the "msgpack" content-subtype, so the same server can keep
// serving protobuf services such as grpc.health.v1.Health.
package llmqv1
