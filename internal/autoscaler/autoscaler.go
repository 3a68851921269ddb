package autoscaler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/rzbill/llmq/internal/config"
	"github.com/rzbill/llmq/internal/metrics"
	"github.com/rzbill/llmq/pkg/log"
)

var (
	// ErrMetricUnavailable means the backlog or a replica count could not be
	// read; the tick takes no action.
	ErrMetricUnavailable = errors.New("autoscaler: metric unavailable")
	// ErrScaleCommand means the deployer rejected a scale request.
	ErrScaleCommand = errors.New("autoscaler: scale command failed")
)

// BacklogReader reports the number of messages waiting on a queue.
type BacklogReader interface {
	Backlog(ctx context.Context, queue string) (int, error)
}

// Deployer reads and changes service replica counts. SetReplicaCount must
// not issue a command when n equals the current count.
type Deployer interface {
	ReplicaCount(ctx context.Context, service string) (int, error)
	SetReplicaCount(ctx context.Context, service string, n int) error
}

// Direction is the outcome of one decision.
type Direction string

const (
	ScaleUp   Direction = "up"
	ScaleDown Direction = "down"
	Hold      Direction = "none"
)

// Decide applies a target's thresholds. total is the replica count summed
// over all of the target's services, current the count of the service that
// is scaled. Changes are one replica at a time and never go below zero.
func Decide(t config.TargetConfig, backlog, total, current int) (Direction, int) {
	switch {
	case backlog > t.Policy.ScaleUpThreshold && total < t.Max:
		return ScaleUp, current + 1
	case backlog < t.Policy.ScaleDownThreshold && total > t.Min && current > 0:
		return ScaleDown, current - 1
	default:
		return Hold, current
	}
}

// Decision records what one tick observed and did.
type Decision struct {
	Target    string
	Backlog   int
	Replicas  int
	Service   string
	Current   int
	Desired   int
	Direction Direction
}

// Controller polls every target on its own interval.
type Controller struct {
	targets  []config.TargetConfig
	reader   BacklogReader
	deployer Deployer
	clock    clock.WithTicker
	timeout  time.Duration
	logger   log.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.WithTicker) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithRequestTimeout bounds the reads and the scale command of one tick.
func WithRequestTimeout(d time.Duration) Option { return func(ctl *Controller) { ctl.timeout = d } }

// WithLogger sets the controller logger.
func WithLogger(l log.Logger) Option {
	return func(ctl *Controller) {
		if l != nil {
			ctl.logger = l
		}
	}
}

// New returns a Controller for targets.
func New(targets []config.TargetConfig, r BacklogReader, d Deployer, opts ...Option) *Controller {
	c := &Controller{
		targets:  targets,
		reader:   r,
		deployer: d,
		clock:    clock.RealClock{},
		timeout:  10 * time.Second,
		logger:   log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("autoscaler")
	return c
}

// Run polls until ctx ends. Tick errors are logged and never stop it.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range c.targets {
		g.Go(func() error {
			c.watch(gctx, t)
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) watch(ctx context.Context, t config.TargetConfig) {
	logger := c.logger.With(log.Str("target", t.Name), log.Queue(t.Queue))
	interval := t.Policy.PollInterval.D()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger.Info("monitoring", log.Dur("interval", interval), log.Int("min", t.Min), log.Int("max", t.Max))

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		dec, err := c.Tick(ctx, t)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, ErrScaleCommand):
			logger.Error("scale failed", log.Err(err))
		case err != nil:
			logger.Warn("skipping tick", log.Err(err))
		default:
			logger.Debug("tick",
				log.Int("backlog", dec.Backlog),
				log.Int("replicas", dec.Replicas),
				log.Str("direction", string(dec.Direction)),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

// Tick observes t once and scales it if the thresholds say so.
func (c *Controller) Tick(ctx context.Context, t config.TargetConfig) (Decision, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	dec := Decision{Target: t.Name, Service: t.Scaled(), Direction: Hold}

	backlog, err := c.reader.Backlog(ctx, t.Queue)
	if err != nil {
		metrics.RecordTickError(t.Name, "backlog")
		return dec, fmt.Errorf("%w: backlog of %s: %w", ErrMetricUnavailable, t.Queue, err)
	}
	dec.Backlog = backlog

	var errs error
	counted := false
	for _, svc := range t.Services {
		n, err := c.deployer.ReplicaCount(ctx, svc)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", svc, err))
			continue
		}
		dec.Replicas += n
		if svc == dec.Service {
			dec.Current, counted = n, true
		}
	}
	if !counted && errs == nil {
		n, err := c.deployer.ReplicaCount(ctx, dec.Service)
		if err != nil {
			errs = fmt.Errorf("%s: %w", dec.Service, err)
		}
		dec.Current = n
	}
	if errs != nil {
		metrics.RecordTickError(t.Name, "replicas")
		return dec, fmt.Errorf("%w: replica counts: %w", ErrMetricUnavailable, errs)
	}
	metrics.RecordAutoscalerObservation(t.Name, dec.Backlog, dec.Replicas)

	dec.Direction, dec.Desired = Decide(t, dec.Backlog, dec.Replicas, dec.Current)
	if dec.Direction == Hold {
		return dec, nil
	}
	c.logger.Info("scaling",
		log.Str("target", t.Name),
		log.Str("service", dec.Service),
		log.Str("direction", string(dec.Direction)),
		log.Int("backlog", dec.Backlog),
		log.Int("from", dec.Current),
		log.Int("to", dec.Desired),
	)
	if err := c.deployer.SetReplicaCount(ctx, dec.Service, dec.Desired); err != nil {
		metrics.RecordTickError(t.Name, "scale")
		return dec, fmt.Errorf("%w: %s to %d: %w", ErrScaleCommand, dec.Service, dec.Desired, err)
	}
	metrics.RecordScaleEvent(t.Name, string(dec.Direction))
	return dec, nil
}
