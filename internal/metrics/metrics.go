package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "llmq"

// Registry holds every llmq collector. The broker, worker and autoscaler
// serve it on /metrics.
var Registry = prometheus.NewRegistry()

var (
	publishedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages accepted by the broker.",
		},
		[]string{"queue"},
	)
	ackedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_acked_total",
			Help:      "Deliveries acknowledged by consumers.",
		},
		[]string{"queue"},
	)
	nackedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_nacked_total",
			Help:      "Deliveries rejected by consumers, by requeue flag.",
		},
		[]string{"queue", "requeue"},
	)
	deadLetteredCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dead_lettered_total",
			Help:      "Rejected messages routed to a dead-letter queue.",
		},
		[]string{"queue"},
	)
	storageCommitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_commit_seconds",
			Help:      "Pebble batch commit latency.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)
	rpcCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_call_duration_seconds",
			Help:      "End-to-end RPC call latency seen by the caller, by outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)
	workerMessagesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_messages_total",
			Help:      "Messages handled by the worker, by outcome.",
		},
		[]string{"outcome"},
	)
	autoscalerBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "autoscaler_backlog",
			Help:      "Last backlog observed per target.",
		},
		[]string{"target"},
	)
	autoscalerReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "autoscaler_replicas",
			Help:      "Last summed replica count observed per target.",
		},
		[]string{"target"},
	)
	autoscalerScaleEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autoscaler_scale_events_total",
			Help:      "Scale commands issued, by direction.",
		},
		[]string{"target", "direction"},
	)
	autoscalerTickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autoscaler_tick_errors_total",
			Help:      "Autoscaler ticks that ended in an error, by kind.",
		},
		[]string{"target", "kind"},
	)
)

var registerMetrics sync.Once

// Register adds all llmq collectors plus the Go and process collectors to
// Registry. Safe to call more than once.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			publishedCounter,
			ackedCounter,
			nackedCounter,
			deadLetteredCounter,
			storageCommitSeconds,
			rpcCallSeconds,
			workerMessagesCounter,
			autoscalerBacklog,
			autoscalerReplicas,
			autoscalerScaleEvents,
			autoscalerTickErrors,
		)
	})
}

// RecordPublished counts a publish into queue.
func RecordPublished(queue string) { publishedCounter.WithLabelValues(queue).Inc() }

// RecordAcked counts an ack on queue.
func RecordAcked(queue string) { ackedCounter.WithLabelValues(queue).Inc() }

// RecordNacked counts a nack on queue.
func RecordNacked(queue string, requeue bool) {
	r := "false"
	if requeue {
		r = "true"
	}
	nackedCounter.WithLabelValues(queue, r).Inc()
}

// RecordDeadLettered counts a message moved from queue to its dead-letter queue.
func RecordDeadLettered(queue string) { deadLetteredCounter.WithLabelValues(queue).Inc() }

// RecordRPCCall observes one client call.
func RecordRPCCall(outcome string, elapsed time.Duration) {
	rpcCallSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordWorkerMessage counts one message handled by a worker.
func RecordWorkerMessage(outcome string) { workerMessagesCounter.WithLabelValues(outcome).Inc() }

// RecordAutoscalerObservation stores the inputs of the last tick.
func RecordAutoscalerObservation(target string, backlog, replicas int) {
	autoscalerBacklog.WithLabelValues(target).Set(float64(backlog))
	autoscalerReplicas.WithLabelValues(target).Set(float64(replicas))
}

// RecordScaleEvent counts a scale command; direction is "up" or "down".
func RecordScaleEvent(target, direction string) {
	autoscalerScaleEvents.WithLabelValues(target, direction).Inc()
}

// RecordTickError counts a failed tick.
func RecordTickError(target, kind string) { autoscalerTickErrors.WithLabelValues(target, kind).Inc() }

// StorageHook feeds Pebble commit latencies into storage_commit_seconds. It
// satisfies pebblestore.MetricsHook.
type StorageHook struct{}

func (StorageHook) ObserveWrite(time.Duration, int) {}
func (StorageHook) ObserveRead(time.Duration, int)  {}
func (StorageHook) ObserveBatchCommit(elapsed time.Duration, _ int, _ int) {
	storageCommitSeconds.Observe(elapsed.Seconds())
}
