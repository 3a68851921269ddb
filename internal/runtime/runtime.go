package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/rzbill/llmq/internal/broker"
	cfgpkg "github.com/rzbill/llmq/internal/config"
	"github.com/rzbill/llmq/internal/metrics"
	pebblestore "github.com/rzbill/llmq/internal/storage/pebble"
	"github.com/rzbill/llmq/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	// FsyncInterval is the group-commit window for FsyncModeInterval.
	FsyncInterval cfgpkg.Duration
	Config        cfgpkg.Config
	Logger        log.Logger
}

// Runtime wires storage, the broker engine and config for a single broker
// node.
type Runtime struct {
	db     *pebblestore.DB
	engine *broker.Engine
	config cfgpkg.Config
	logger log.Logger
}

// Open initializes storage, restores the broker and declares the queues
// listed in the broker config.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval.D(),
		Metrics:       metrics.StorageHook{},
	})
	if err != nil {
		return nil, err
	}
	engine, err := broker.Open(ctx, db, broker.WithLogger(logger))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	rt := &Runtime{db: db, engine: engine, config: opts.Config, logger: logger}

	for _, q := range opts.Config.Broker.Queues {
		if _, err := engine.DeclareQueue(ctx, broker.QueueSpec{
			Name:            q.Name,
			Durable:         q.Durable,
			DeadLetterQueue: q.DeadLetterQueue,
		}); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("declare %s: %w", q.Name, err)
		}
	}
	return rt, nil
}

// Close stops the broker, then closes storage.
func (r *Runtime) Close() error {
	var errs []error
	if r.engine != nil {
		errs = append(errs, r.engine.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

// CheckHealth verifies the store answers reads and the broker is open.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	if err := it.Close(); err != nil {
		return err
	}
	if _, err := r.engine.ListQueues(ctx); err != nil {
		return err
	}
	return nil
}

// Broker returns the broker engine.
func (r *Runtime) Broker() *broker.Engine { return r.engine }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the process logger.
func (r *Runtime) Logger() log.Logger { return r.logger }
