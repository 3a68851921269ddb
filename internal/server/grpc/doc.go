// Package grpcserver hosts the broker's gRPC endpoint. It registers the
// llmq.v1.Broker service on top of the runtime's broker engine together
// with the standard grpc.health.v1.Health service.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()})
//	s := grpcserver.New(rt)
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
