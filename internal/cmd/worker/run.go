// Package workerrun starts a worker process for `llmq worker start`.
package workerrun

import (
	"context"

	"github.com/rzbill/llmq/internal/client"
	cfgpkg "github.com/rzbill/llmq/internal/config"
	"github.com/rzbill/llmq/internal/connect"
	"github.com/rzbill/llmq/internal/processor"
	"github.com/rzbill/llmq/internal/worker"
	logpkg "github.com/rzbill/llmq/pkg/log"
)

// NewProcessor returns the HTTP forwarder when a processor URL is set and
// the built-in lexicon otherwise.
func NewProcessor(cfg cfgpkg.WorkerConfig) processor.Processor {
	if cfg.ProcessorURL != "" {
		return processor.NewHTTP(cfg.ProcessorURL, cfg.ProcessorTimeout.D())
	}
	return processor.Lexicon{}
}

// Run consumes from the broker at cfg.Worker.BrokerAddr until ctx ends.
// It fails once the broker stays unreachable for all connect attempts.
func Run(ctx context.Context, cfg cfgpkg.Config, logger logpkg.Logger) error {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	wc := cfg.Worker
	proc := NewProcessor(wc)
	consumer := worker.NewConsumer(proc,
		worker.WithQueue(wc.Queue),
		worker.WithDeadLetterQueue(wc.DeadLetterQueue),
		worker.WithLogger(logger),
	)

	opts := connect.OptionsFromConfig(wc.Connect)
	opts.Logger = logger
	opts.Target = wc.BrokerAddr
	mgr := connect.New(func(ctx context.Context) (*client.Client, error) {
		return client.Dial(ctx, wc.BrokerAddr, client.WithLogger(logger))
	}, opts)

	logger.Info("starting llmq worker",
		logpkg.Str("broker", wc.BrokerAddr),
		logpkg.Queue(wc.Queue),
		logpkg.Str("dead_letter_queue", wc.DeadLetterQueue),
		logpkg.Str("http", wc.HTTPAddr),
		logpkg.Bool("external_processor", wc.ProcessorURL != ""),
	)
	return worker.New(consumer, worker.Managed(mgr), wc.HTTPAddr, logger).Run(ctx)
}
