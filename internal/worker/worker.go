package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/llmq/internal/broker"
	"github.com/rzbill/llmq/internal/client"
	"github.com/rzbill/llmq/internal/connect"
	"github.com/rzbill/llmq/pkg/log"
)

// Dialer opens a broker connection. connect.Manager retries it.
type Dialer interface {
	Connect(ctx context.Context) (broker.Channel, error)
}

// Worker is the worker process: a supervised consumer plus an HTTP server
// sharing one processor.
type Worker struct {
	consumer *Consumer
	dialer   Dialer
	httpAddr string
	logger   log.Logger

	// bound is set once the HTTP listener is up; used by tests.
	bound chan net.Addr
}

// New returns a Worker. An empty httpAddr disables the HTTP server.
func New(c *Consumer, d Dialer, httpAddr string, logger log.Logger) *Worker {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Worker{
		consumer: c,
		dialer:   d,
		httpAddr: httpAddr,
		logger:   logger.WithComponent("worker"),
		bound:    make(chan net.Addr, 1),
	}
}

// Run serves until ctx ends or the broker cannot be reached any more.
// Both tasks stop when either fails.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.supervise(gctx) })
	if w.httpAddr != "" {
		g.Go(func() error { return w.serveHTTP(gctx) })
	}
	return g.Wait()
}

// supervise keeps a consumer attached, reconnecting after stream breaks.
// connect.ErrConnectionExhausted ends it.
func (w *Worker) supervise(ctx context.Context) error {
	for {
		ch, err := w.dialer.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker: %w", err)
		}
		err = w.consumer.Run(ctx, ch)
		_ = ch.Close()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !isRecoverable(err) {
			return err
		}
		w.logger.Warn("broker stream lost, reconnecting", log.Err(err))
	}
}

// isRecoverable reports whether reconnecting can help.
func isRecoverable(err error) bool {
	return errors.Is(err, ErrStreamClosed) || client.IsTransport(err)
}

func (w *Worker) serveHTTP(ctx context.Context) error {
	l, err := net.Listen("tcp", w.httpAddr)
	if err != nil {
		return fmt.Errorf("worker http: %w", err)
	}
	srv := &http.Server{
		Handler:           NewHandler(w.consumer, w.logger),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.ToStdLogger(w.logger, log.WarnLevel),
	}
	w.logger.Info("http listening", log.Str("addr", l.Addr().String()))
	w.bound <- l.Addr()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ConnectFunc adapts a connect.Manager over a concrete channel type.
type ConnectFunc func(ctx context.Context) (broker.Channel, error)

// Connect calls f.
func (f ConnectFunc) Connect(ctx context.Context) (broker.Channel, error) { return f(ctx) }

// Managed wraps m as a Dialer.
func Managed[T broker.Channel](m *connect.Manager[T]) Dialer {
	return ConnectFunc(func(ctx context.Context) (broker.Channel, error) {
		ch, err := m.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return ch, nil
	})
}
