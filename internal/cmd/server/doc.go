// Package serverrun exposes the Run entrypoint used by `llmq broker start`.
// It opens the runtime and serves the broker over gRPC and the management
// API over HTTP until the context ends.
//
// Example:
//
//	opts, _ := serverrun.OptionsFromConfig(config.Default())
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
