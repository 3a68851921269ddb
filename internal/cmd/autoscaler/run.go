// Package autoscalerrun starts the autoscaler for `llmq autoscaler start`.
package autoscalerrun

import (
	"context"
	"fmt"
	"net/http"

	"k8s.io/klog/v2"

	"github.com/rzbill/llmq/internal/autoscaler"
	cfgpkg "github.com/rzbill/llmq/internal/config"
	logpkg "github.com/rzbill/llmq/pkg/log"
)

// NewDeployer builds the deployer named by cfg.Kind.
func NewDeployer(cfg cfgpkg.DeployerConfig, logger logpkg.Logger) (autoscaler.Deployer, error) {
	switch cfg.Kind {
	case cfgpkg.DeployerCompose, "":
		return autoscaler.NewCompose(cfg, autoscaler.WithComposeLogger(logger)), nil
	case cfgpkg.DeployerKubernetes:
		// client-go logs through klog
		klog.SetLogger(logpkg.ToLogr(logger.WithComponent("client-go")))
		return autoscaler.NewKubeFromConfig(cfg.Kubeconfig, cfg.Namespace, logger)
	default:
		return nil, fmt.Errorf("unknown deployer %q", cfg.Kind)
	}
}

// Run polls every configured target until ctx ends.
func Run(ctx context.Context, cfg cfgpkg.Config, logger logpkg.Logger) error {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	ac := cfg.Autoscaler
	reader, err := autoscaler.NewBacklogReader(ac, &http.Client{Timeout: ac.RequestTimeout.D()})
	if err != nil {
		return err
	}
	deployer, err := NewDeployer(ac.Deployer, logger)
	if err != nil {
		return err
	}
	logger.Info("starting llmq autoscaler",
		logpkg.Str("source", ac.Source),
		logpkg.Str("deployer", ac.Deployer.Kind),
		logpkg.Int("targets", len(ac.Targets)),
	)
	ctl := autoscaler.New(ac.Targets, reader, deployer,
		autoscaler.WithLogger(logger),
		autoscaler.WithRequestTimeout(ac.RequestTimeout.D()),
	)
	return ctl.Run(ctx)
}
