package connect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/rzbill/llmq/internal/config"
	"github.com/rzbill/llmq/pkg/log"
)

// ErrConnectionExhausted is returned once every attempt has failed.
var ErrConnectionExhausted = errors.New("connect: connection attempts exhausted")

// Defaults match the broker clients' historical behaviour.
const (
	DefaultMaxAttempts = 10
	DefaultDelay       = 5 * time.Second
)

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options tunes a Manager. Zero values take the defaults.
type Options struct {
	MaxAttempts int
	Delay       time.Duration
	// Jitter adds up to Jitter*delay of random wait.
	Jitter float64
	// Factor grows the delay after each failure. 0 or 1 keeps it fixed.
	Factor float64
	Logger log.Logger
	Sleep  SleepFunc
	// Target names the endpoint in logs.
	Target string
}

// Manager connects through a dial function with bounded retries.
type Manager[T any] struct {
	dial func(context.Context) (T, error)
	opts Options
}

// New returns a Manager for dial.
func New[T any](dial func(context.Context) (T, error), opts Options) *Manager[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.Delay == 0 && opts.Sleep == nil {
		opts.Delay = DefaultDelay
	}
	if opts.Factor <= 0 {
		opts.Factor = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	opts.Logger = opts.Logger.WithComponent("connect")
	return &Manager[T]{dial: dial, opts: opts}
}

// Connect dials until it succeeds, ctx ends or MaxAttempts is reached.
// There is no wait after the final failed attempt.
func (m *Manager[T]) Connect(ctx context.Context) (T, error) {
	var zero T
	backoff := wait.Backoff{
		Duration: m.opts.Delay,
		Factor:   m.opts.Factor,
		Jitter:   m.opts.Jitter,
		Steps:    m.opts.MaxAttempts,
	}
	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		conn, err := m.dial(ctx)
		if err == nil {
			if attempt > 1 {
				m.opts.Logger.Info("connected", log.Str("target", m.opts.Target), log.Int("attempt", attempt))
			}
			return conn, nil
		}
		lastErr = err
		if attempt == m.opts.MaxAttempts {
			break
		}
		delay := backoff.Step()
		m.opts.Logger.Warn("connection failed, retrying",
			log.Str("target", m.opts.Target),
			log.Int("attempt", attempt),
			log.Int("max_attempts", m.opts.MaxAttempts),
			log.Dur("delay", delay),
			log.Err(err),
		)
		if err := m.opts.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrConnectionExhausted, m.opts.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OptionsFromConfig maps a connect config section to Options.
func OptionsFromConfig(c config.ConnectConfig) Options {
	return Options{
		MaxAttempts: c.MaxAttempts,
		Delay:       c.Delay.D(),
		Jitter:      c.Jitter,
		Factor:      c.Factor,
	}
}
