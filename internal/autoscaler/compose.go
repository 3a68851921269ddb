package autoscaler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rzbill/llmq/internal/config"
	"github.com/rzbill/llmq/pkg/log"
)

// Runner executes a command in dir and returns its stdout.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec. Stderr is folded into the error.
func ExecRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, bytes.TrimSpace(ee.Stderr))
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// ComposeDeployer scales Docker Compose services by counting and creating
// containers.
type ComposeDeployer struct {
	command []string
	file    string
	project string
	dir     string
	run     Runner
	logger  log.Logger
}

// ComposeOption configures a ComposeDeployer.
type ComposeOption func(*ComposeDeployer)

// WithRunner replaces command execution, for tests.
func WithRunner(r Runner) ComposeOption { return func(d *ComposeDeployer) { d.run = r } }

// WithComposeCommand overrides the compose invocation, e.g. "docker-compose".
func WithComposeCommand(argv ...string) ComposeOption {
	return func(d *ComposeDeployer) {
		if len(argv) > 0 {
			d.command = argv
		}
	}
}

// WithComposeLogger sets the deployer logger.
func WithComposeLogger(l log.Logger) ComposeOption {
	return func(d *ComposeDeployer) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewCompose returns a deployer for the compose project described by cfg.
func NewCompose(cfg config.DeployerConfig, opts ...ComposeOption) *ComposeDeployer {
	d := &ComposeDeployer{
		command: []string{"docker", "compose"},
		file:    cfg.ComposeFile,
		project: cfg.ComposeProject,
		dir:     cfg.ComposeDir,
		run:     ExecRunner,
		logger:  log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("compose")
	return d
}

func (d *ComposeDeployer) exec(ctx context.Context, args ...string) ([]byte, error) {
	argv := append([]string{}, d.command[1:]...)
	if d.file != "" {
		argv = append(argv, "-f", d.file)
	}
	if d.project != "" {
		argv = append(argv, "-p", d.project)
	}
	argv = append(argv, args...)
	return d.run(ctx, d.dir, d.command[0], argv...)
}

// ReplicaCount counts the service's containers.
func (d *ComposeDeployer) ReplicaCount(ctx context.Context, service string) (int, error) {
	out, err := d.exec(ctx, "ps", "-q", service)
	if err != nil {
		return 0, err
	}
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n, sc.Err()
}

// SetReplicaCount scales service to n without recreating running
// containers. Nothing runs when n is already the count.
func (d *ComposeDeployer) SetReplicaCount(ctx context.Context, service string, n int) error {
	if n < 0 {
		return fmt.Errorf("scale %s: negative replica count %d", service, n)
	}
	current, err := d.ReplicaCount(ctx, service)
	if err != nil {
		return err
	}
	if current == n {
		return nil
	}
	if _, err := d.exec(ctx, "up", "-d", "--scale", fmt.Sprintf("%s=%d", service, n), "--no-recreate"); err != nil {
		return err
	}
	d.logger.Info("scaled service", log.Str("service", service), log.Int("from", current), log.Int("to", n))
	return nil
}
