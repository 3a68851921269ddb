// Package runtime wires storage, configuration and the broker engine into a
// single broker node. It exposes Open/Close and a health check used by the
// gRPC and HTTP servers.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(ctx, runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(ctx)
//	_ = rt.Broker().Publish(ctx, "llm_queue", broker.Publishing{Body: []byte("{}")})
package runtime
