package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/llmq/pkg/log"
)

// Backlog sources understood by the autoscaler.
const (
	SourceAPI        = "api"
	SourcePrometheus = "prometheus"
)

// Deployer kinds understood by the autoscaler.
const (
	DeployerCompose    = "compose"
	DeployerKubernetes = "kubernetes"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Log        log.Config       `json:"log" yaml:"log"`
	Broker     BrokerConfig     `json:"broker" yaml:"broker"`
	Client     ClientConfig     `json:"client" yaml:"client"`
	Worker     WorkerConfig     `json:"worker" yaml:"worker"`
	Autoscaler AutoscalerConfig `json:"autoscaler" yaml:"autoscaler"`
}

// BrokerConfig configures `llmq broker start`.
type BrokerConfig struct {
	// DataDir is the storage root. Empty means DefaultDataDir().
	DataDir       string   `json:"dataDir" yaml:"dataDir"`
	GRPCAddr      string   `json:"grpcAddr" yaml:"grpcAddr"`
	HTTPAddr      string   `json:"httpAddr" yaml:"httpAddr"`
	Fsync         string   `json:"fsync" yaml:"fsync"`
	FsyncInterval Duration `json:"fsyncInterval" yaml:"fsyncInterval"`
	// Queues are declared at startup.
	Queues []QueueConfig `json:"queues" yaml:"queues"`
}

// QueueConfig is a queue declared by the broker on boot.
type QueueConfig struct {
	Name            string `json:"name" yaml:"name"`
	Durable         bool   `json:"durable" yaml:"durable"`
	DeadLetterQueue string `json:"deadLetterQueue,omitempty" yaml:"deadLetterQueue,omitempty"`
}

// ConnectConfig bounds broker connection retries.
type ConnectConfig struct {
	MaxAttempts int      `json:"maxAttempts" yaml:"maxAttempts"`
	Delay       Duration `json:"delay" yaml:"delay"`
	// Jitter is a fraction of Delay added at random. Zero keeps the delay fixed.
	Jitter float64 `json:"jitter" yaml:"jitter"`
	// Factor multiplies the delay after each failure. 1 keeps it fixed.
	Factor float64 `json:"factor" yaml:"factor"`
}

// ClientConfig configures RPC callers.
type ClientConfig struct {
	BrokerAddr string `json:"brokerAddr" yaml:"brokerAddr"`
	WorkQueue  string `json:"workQueue" yaml:"workQueue"`
	// CallTimeout bounds a single call. Zero waits forever.
	CallTimeout Duration      `json:"callTimeout" yaml:"callTimeout"`
	Connect     ConnectConfig `json:"connect" yaml:"connect"`
}

// WorkerConfig configures `llmq worker start`.
type WorkerConfig struct {
	BrokerAddr string `json:"brokerAddr" yaml:"brokerAddr"`
	Queue      string `json:"queue" yaml:"queue"`
	// DeadLetterQueue receives rejected requests when set.
	DeadLetterQueue  string        `json:"deadLetterQueue,omitempty" yaml:"deadLetterQueue,omitempty"`
	HTTPAddr         string        `json:"httpAddr" yaml:"httpAddr"`
	ProcessorURL     string        `json:"processorUrl" yaml:"processorUrl"`
	ProcessorTimeout Duration      `json:"processorTimeout" yaml:"processorTimeout"`
	Connect          ConnectConfig `json:"connect" yaml:"connect"`
}

// AutoscalerConfig configures `llmq autoscaler start`.
type AutoscalerConfig struct {
	Source         string         `json:"source" yaml:"source"`
	APIURL         string         `json:"apiUrl" yaml:"apiUrl"`
	PrometheusURL  string         `json:"prometheusUrl" yaml:"prometheusUrl"`
	RequestTimeout Duration       `json:"requestTimeout" yaml:"requestTimeout"`
	Deployer       DeployerConfig `json:"deployer" yaml:"deployer"`
	Targets        []TargetConfig `json:"targets" yaml:"targets"`
}

// DeployerConfig selects how replica counts are read and changed.
type DeployerConfig struct {
	Kind string `json:"kind" yaml:"kind"`
	// Compose settings.
	ComposeFile    string `json:"composeFile,omitempty" yaml:"composeFile,omitempty"`
	ComposeProject string `json:"composeProject,omitempty" yaml:"composeProject,omitempty"`
	ComposeDir     string `json:"composeDir,omitempty" yaml:"composeDir,omitempty"`
	// Kubernetes settings. An empty Kubeconfig means in-cluster.
	Kubeconfig string `json:"kubeconfig,omitempty" yaml:"kubeconfig,omitempty"`
	Namespace  string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// TargetConfig is one monitored queue and the services that drain it.
type TargetConfig struct {
	Name         string       `json:"name" yaml:"name"`
	Queue        string       `json:"queue" yaml:"queue"`
	Services     []string     `json:"services" yaml:"services"`
	ScaleService string       `json:"scaleService" yaml:"scaleService"`
	Min          int          `json:"min" yaml:"min"`
	Max          int          `json:"max" yaml:"max"`
	Policy       PolicyConfig `json:"policy" yaml:"policy"`
}

// PolicyConfig holds scaling thresholds.
type PolicyConfig struct {
	ScaleUpThreshold   int      `json:"scaleUpThreshold" yaml:"scaleUpThreshold"`
	ScaleDownThreshold int      `json:"scaleDownThreshold" yaml:"scaleDownThreshold"`
	PollInterval       Duration `json:"pollInterval" yaml:"pollInterval"`
}

// Default returns built-in defaults.
func Default() Config {
	connect := ConnectConfig{MaxAttempts: 10, Delay: Duration(5 * time.Second), Factor: 1}
	policy := PolicyConfig{ScaleUpThreshold: 100, ScaleDownThreshold: 10, PollInterval: Duration(30 * time.Second)}
	return Config{
		Log: log.Config{Level: "info", Format: "text"},
		Broker: BrokerConfig{
			GRPCAddr:      ":50051",
			HTTPAddr:      ":15672",
			Fsync:         "always",
			FsyncInterval: Duration(5 * time.Millisecond),
			Queues: []QueueConfig{
				{Name: "llm_queue", Durable: true, DeadLetterQueue: "llm_queue.dlq"},
				{Name: "userapi_queue", Durable: true},
			},
		},
		Client: ClientConfig{
			BrokerAddr:  "127.0.0.1:50051",
			WorkQueue:   "llm_queue",
			CallTimeout: Duration(60 * time.Second),
			Connect:     connect,
		},
		Worker: WorkerConfig{
			BrokerAddr:       "127.0.0.1:50051",
			Queue:            "llm_queue",
			DeadLetterQueue:  "llm_queue.dlq",
			HTTPAddr:         ":8000",
			ProcessorTimeout: Duration(120 * time.Second),
			Connect:          connect,
		},
		Autoscaler: AutoscalerConfig{
			Source:         SourceAPI,
			APIURL:         "http://127.0.0.1:15672",
			PrometheusURL:  "http://127.0.0.1:15672/metrics",
			RequestTimeout: Duration(10 * time.Second),
			Deployer:       DeployerConfig{Kind: DeployerCompose, ComposeFile: "docker-compose.yaml", Namespace: "default"},
			Targets: []TargetConfig{
				{Name: "llm", Queue: "llm_queue", Services: []string{"llm"}, ScaleService: "llm", Min: 1, Max: 5, Policy: policy},
				{Name: "userapi", Queue: "userapi_queue", Services: []string{"userapi1", "userapi2"}, ScaleService: "userapi1", Min: 1, Max: 5, Policy: policy},
			},
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	defaults := Default()
	cfg := defaults
	// lists from the file replace the default lists, they are never merged
	cfg.Broker.Queues = nil
	cfg.Autoscaler.Targets = nil
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if cfg.Broker.Queues == nil {
		cfg.Broker.Queues = defaults.Broker.Queues
	}
	if cfg.Autoscaler.Targets == nil {
		cfg.Autoscaler.Targets = defaults.Autoscaler.Targets
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.Client.CallTimeout < 0 {
		errs = append(errs, errors.New("client.callTimeout must not be negative"))
	}
	for _, cc := range []struct {
		name string
		c    ConnectConfig
	}{{"client.connect", c.Client.Connect}, {"worker.connect", c.Worker.Connect}} {
		if cc.c.MaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("%s.maxAttempts must be at least 1", cc.name))
		}
		if cc.c.Delay < 0 || cc.c.Jitter < 0 || cc.c.Factor < 0 {
			errs = append(errs, fmt.Errorf("%s: delay, jitter and factor must not be negative", cc.name))
		}
	}
	for i, q := range c.Broker.Queues {
		if q.Name == "" {
			errs = append(errs, fmt.Errorf("broker.queues[%d]: name is required", i))
		}
	}

	a := c.Autoscaler
	switch a.Source {
	case SourceAPI, SourcePrometheus:
	default:
		errs = append(errs, fmt.Errorf("autoscaler.source %q: want %s or %s", a.Source, SourceAPI, SourcePrometheus))
	}
	switch a.Deployer.Kind {
	case DeployerCompose, DeployerKubernetes:
	default:
		errs = append(errs, fmt.Errorf("autoscaler.deployer.kind %q: want %s or %s", a.Deployer.Kind, DeployerCompose, DeployerKubernetes))
	}
	seen := make(map[string]bool, len(a.Targets))
	for _, t := range a.Targets {
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("autoscaler target %q declared twice", t.Name))
		}
		seen[t.Name] = true
	}
	return errors.Join(errs...)
}

// Validate checks a single autoscaler target.
func (t TargetConfig) Validate() error {
	var errs []error
	if t.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if t.Queue == "" {
		errs = append(errs, errors.New("queue is required"))
	}
	if len(t.Services) == 0 {
		errs = append(errs, errors.New("at least one service is required"))
	}
	if t.ScaleService != "" {
		found := false
		for _, s := range t.Services {
			if s == t.ScaleService {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, fmt.Errorf("scaleService %q is not among services", t.ScaleService))
		}
	}
	if t.Min < 0 || t.Min > t.Max {
		errs = append(errs, fmt.Errorf("want 0 <= min <= max, got min=%d max=%d", t.Min, t.Max))
	}
	if t.Policy.ScaleDownThreshold >= t.Policy.ScaleUpThreshold {
		errs = append(errs, fmt.Errorf("scaleDownThreshold %d must be below scaleUpThreshold %d",
			t.Policy.ScaleDownThreshold, t.Policy.ScaleUpThreshold))
	}
	if t.Policy.PollInterval <= 0 {
		errs = append(errs, errors.New("pollInterval must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("autoscaler target %q: %w", t.Name, err)
	}
	return nil
}

// Scaled returns the service that receives scale commands.
func (t TargetConfig) Scaled() string {
	if t.ScaleService != "" {
		return t.ScaleService
	}
	if len(t.Services) > 0 {
		return t.Services[0]
	}
	return ""
}
