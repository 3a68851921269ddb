package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "llm_queue", cfg.Client.WorkQueue)
	require.Equal(t, 60*time.Second, cfg.Client.CallTimeout.D())
	require.Equal(t, 10, cfg.Client.Connect.MaxAttempts)
	require.Equal(t, 5*time.Second, cfg.Client.Connect.Delay.D())
	require.Len(t, cfg.Autoscaler.Targets, 2)
	require.Equal(t, "userapi1", cfg.Autoscaler.Targets[1].Scaled())
}

func TestLoadJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "llmq.json")
	data := []byte(`{"client":{"workQueue":"jobs","callTimeout":"2s"},"worker":{"connect":{"maxAttempts":3,"delay":250}}}`)
	require.NoError(t, os.WriteFile(file, data, 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, "jobs", cfg.Client.WorkQueue)
	require.Equal(t, 2*time.Second, cfg.Client.CallTimeout.D())
	require.Equal(t, 3, cfg.Worker.Connect.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Worker.Connect.Delay.D())
	// untouched sections keep defaults
	require.Equal(t, ":50051", cfg.Broker.GRPCAddr)
	require.Equal(t, Default().Broker.Queues, cfg.Broker.Queues)
	require.Equal(t, Default().Autoscaler.Targets, cfg.Autoscaler.Targets)
}

func TestLoadJSONListsReplaceDefaults(t *testing.T) {
	file := filepath.Join(t.TempDir(), "llmq.json")
	data := []byte(`{
  "broker": {"queues": [{"name": "jobs", "durable": true}]},
  "autoscaler": {"targets": [{
    "name": "api", "queue": "api_queue", "services": ["api"], "min": 0, "max": 3,
    "policy": {"scaleUpThreshold": 20, "scaleDownThreshold": 2, "pollInterval": "10s"}
  }]}
}`)
	require.NoError(t, os.WriteFile(file, data, 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	if diff := cmp.Diff([]QueueConfig{{Name: "jobs", Durable: true}}, cfg.Broker.Queues); diff != "" {
		t.Fatalf("queues mismatch (-want +got):\n%s", diff)
	}
	want := []TargetConfig{{
		Name:     "api",
		Queue:    "api_queue",
		Services: []string{"api"},
		Max:      3,
		Policy:   PolicyConfig{ScaleUpThreshold: 20, ScaleDownThreshold: 2, PollInterval: Duration(10 * time.Second)},
	}}
	if diff := cmp.Diff(want, cfg.Autoscaler.Targets); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadEmptyListClearsDefaults(t *testing.T) {
	file := filepath.Join(t.TempDir(), "llmq.yaml")
	require.NoError(t, os.WriteFile(file, []byte("broker:\n  queues: []\n"), 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)
	require.Empty(t, cfg.Broker.Queues)
	require.Len(t, cfg.Autoscaler.Targets, 2)
}

func TestLoadYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "llmq.yaml")
	data := []byte(`
autoscaler:
  source: prometheus
  deployer:
    kind: kubernetes
    namespace: inference
  targets:
    - name: llm
      queue: llm_queue
      services: [llm]
      min: 1
      max: 8
      policy:
        scaleUpThreshold: 50
        scaleDownThreshold: 5
        pollInterval: 15s
`)
	require.NoError(t, os.WriteFile(file, data, 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	want := []TargetConfig{{
		Name:     "llm",
		Queue:    "llm_queue",
		Services: []string{"llm"},
		Min:      1,
		Max:      8,
		Policy:   PolicyConfig{ScaleUpThreshold: 50, ScaleDownThreshold: 5, PollInterval: Duration(15 * time.Second)},
	}}
	if diff := cmp.Diff(want, cfg.Autoscaler.Targets); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "llm", cfg.Autoscaler.Targets[0].Scaled())
	require.Equal(t, DeployerKubernetes, cfg.Autoscaler.Deployer.Kind)
}

func TestLoadBadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"client":`), 0o644))
	_, err := Load(file)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("LLMQ_BROKER_ADDR", "broker:7000")
	t.Setenv("LLMQ_CALL_TIMEOUT", "0s")
	t.Setenv("LLMQ_CONNECT_MAX_ATTEMPTS", "4")
	t.Setenv("LLMQ_WORKER_DLQ", "")
	t.Setenv("LLMQ_LOG_LEVEL", "debug")
	FromEnv(&cfg)

	require.Equal(t, "broker:7000", cfg.Client.BrokerAddr)
	require.Equal(t, "broker:7000", cfg.Worker.BrokerAddr)
	require.Zero(t, cfg.Client.CallTimeout)
	require.Equal(t, 4, cfg.Worker.Connect.MaxAttempts)
	require.Empty(t, cfg.Worker.DeadLetterQueue)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"thresholds inverted", func(c *Config) { c.Autoscaler.Targets[0].Policy.ScaleDownThreshold = 100 }},
		{"min above max", func(c *Config) { c.Autoscaler.Targets[0].Min = 9 }},
		{"zero poll interval", func(c *Config) { c.Autoscaler.Targets[0].Policy.PollInterval = 0 }},
		{"scale service not listed", func(c *Config) { c.Autoscaler.Targets[1].ScaleService = "other" }},
		{"duplicate target", func(c *Config) { c.Autoscaler.Targets[1].Name = "llm" }},
		{"unknown source", func(c *Config) { c.Autoscaler.Source = "statsd" }},
		{"unknown deployer", func(c *Config) { c.Autoscaler.Deployer.Kind = "nomad" }},
		{"no connect attempts", func(c *Config) { c.Worker.Connect.MaxAttempts = 0 }},
		{"negative timeout", func(c *Config) { c.Client.CallTimeout = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
