package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays LLMQ_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			} else if ms, err := strconv.Atoi(v); err == nil {
				*dst = Duration(time.Duration(ms) * time.Millisecond)
			}
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("LLMQ_LOG_LEVEL", &cfg.Log.Level)
	str("LLMQ_LOG_FORMAT", &cfg.Log.Format)

	str("LLMQ_DATA_DIR", &cfg.Broker.DataDir)
	str("LLMQ_GRPC_ADDR", &cfg.Broker.GRPCAddr)
	str("LLMQ_HTTP_ADDR", &cfg.Broker.HTTPAddr)
	str("LLMQ_FSYNC", &cfg.Broker.Fsync)
	dur("LLMQ_FSYNC_INTERVAL", &cfg.Broker.FsyncInterval)

	if v := os.Getenv("LLMQ_BROKER_ADDR"); v != "" {
		cfg.Client.BrokerAddr = v
		cfg.Worker.BrokerAddr = v
	}
	str("LLMQ_WORK_QUEUE", &cfg.Client.WorkQueue)
	dur("LLMQ_CALL_TIMEOUT", &cfg.Client.CallTimeout)
	num("LLMQ_CONNECT_MAX_ATTEMPTS", &cfg.Client.Connect.MaxAttempts)
	num("LLMQ_CONNECT_MAX_ATTEMPTS", &cfg.Worker.Connect.MaxAttempts)
	dur("LLMQ_CONNECT_DELAY", &cfg.Client.Connect.Delay)
	dur("LLMQ_CONNECT_DELAY", &cfg.Worker.Connect.Delay)

	str("LLMQ_WORKER_QUEUE", &cfg.Worker.Queue)
	str("LLMQ_WORKER_HTTP_ADDR", &cfg.Worker.HTTPAddr)
	str("LLMQ_PROCESSOR_URL", &cfg.Worker.ProcessorURL)
	dur("LLMQ_PROCESSOR_TIMEOUT", &cfg.Worker.ProcessorTimeout)
	if v, ok := os.LookupEnv("LLMQ_WORKER_DLQ"); ok {
		cfg.Worker.DeadLetterQueue = strings.TrimSpace(v)
	}

	str("LLMQ_AUTOSCALER_SOURCE", &cfg.Autoscaler.Source)
	str("LLMQ_AUTOSCALER_API_URL", &cfg.Autoscaler.APIURL)
	str("LLMQ_AUTOSCALER_PROMETHEUS_URL", &cfg.Autoscaler.PrometheusURL)
	dur("LLMQ_AUTOSCALER_REQUEST_TIMEOUT", &cfg.Autoscaler.RequestTimeout)
	str("LLMQ_DEPLOYER", &cfg.Autoscaler.Deployer.Kind)
	str("LLMQ_COMPOSE_FILE", &cfg.Autoscaler.Deployer.ComposeFile)
	str("LLMQ_COMPOSE_DIR", &cfg.Autoscaler.Deployer.ComposeDir)
	str("LLMQ_KUBECONFIG", &cfg.Autoscaler.Deployer.Kubeconfig)
	str("LLMQ_KUBE_NAMESPACE", &cfg.Autoscaler.Deployer.Namespace)
}
