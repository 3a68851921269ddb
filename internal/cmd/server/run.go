package serverrun

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/llmq/internal/config"
	"github.com/rzbill/llmq/internal/runtime"
	grpcserver "github.com/rzbill/llmq/internal/server/grpc"
	httpserver "github.com/rzbill/llmq/internal/server/http"
	pebblestore "github.com/rzbill/llmq/internal/storage/pebble"
	logpkg "github.com/rzbill/llmq/pkg/log"
)

// Options configures a broker node.
type Options struct {
	DataDir       string
	GRPCAddr      string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval cfgpkg.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// OptionsFromConfig fills Options from the broker section of cfg.
func OptionsFromConfig(cfg cfgpkg.Config) (Options, error) {
	mode, err := pebblestore.ParseFsyncMode(cfg.Broker.Fsync)
	if err != nil {
		return Options{}, err
	}
	if mode == pebblestore.FsyncModeUnspecified {
		mode = pebblestore.FsyncModeAlways
	}
	return Options{
		DataDir:       cfg.Broker.DataDir,
		GRPCAddr:      cfg.Broker.GRPCAddr,
		HTTPAddr:      cfg.Broker.HTTPAddr,
		Fsync:         mode,
		FsyncInterval: cfg.Broker.FsyncInterval,
		Config:        cfg,
	}, nil
}

// Run starts the gRPC and HTTP servers and blocks until ctx is cancelled or
// either server fails.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = logpkg.ApplyConfig(opts.Config.Log); err != nil {
			return err
		}
	}
	restore := logpkg.RedirectStdLog(logger)
	defer restore()

	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")
	rt, err := runtime.Open(ctx, runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("close runtime", logpkg.Err(err))
		}
	}()

	logger.Info("starting llmq broker",
		logpkg.Str("data_dir", storeDir),
		logpkg.Str("grpc", opts.GRPCAddr),
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("fsync", opts.Config.Broker.Fsync),
	)

	gsrv := grpcserver.New(rt)
	hsrv := httpserver.New(rt, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gsrv.ListenAndServe(gctx, opts.GRPCAddr); err != nil && gctx.Err() == nil {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	if opts.HTTPAddr != "" {
		g.Go(func() error {
			if err := hsrv.ListenAndServe(gctx, opts.HTTPAddr); err != nil && gctx.Err() == nil {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		// stop serving before the runtime closes the engine and the db
		gsrv.Close()
		hsrv.Close()
		return nil
	})
	err = g.Wait()
	logger.Info("llmq broker stopped")
	return err
}
