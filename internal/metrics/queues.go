package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QueueSample is one queue's depth at scrape time.
type QueueSample struct {
	Name      string
	Ready     int
	Unacked   int
	Consumers int
}

// QueueSource lists queue depths. The broker engine implements it.
type QueueSource interface {
	QueueSamples() []QueueSample
}

var (
	descQueueMessages = prometheus.NewDesc(
		namespace+"_queue_messages",
		"Messages ready plus unacknowledged. The autoscaler's backlog signal.",
		[]string{"queue"}, nil,
	)
	descQueueReady = prometheus.NewDesc(
		namespace+"_queue_messages_ready",
		"Messages waiting for a consumer.",
		[]string{"queue"}, nil,
	)
	descQueueUnacked = prometheus.NewDesc(
		namespace+"_queue_messages_unacked",
		"Messages delivered and not yet acknowledged.",
		[]string{"queue"}, nil,
	)
	descQueueConsumers = prometheus.NewDesc(
		namespace+"_queue_consumers",
		"Active consumers.",
		[]string{"queue"}, nil,
	)
)

type queueCollector struct {
	src QueueSource
}

var _ prometheus.Collector = &queueCollector{}

// NewQueueCollector exposes per-queue gauges read from src on every scrape.
func NewQueueCollector(src QueueSource) prometheus.Collector {
	return &queueCollector{src: src}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descQueueMessages
	ch <- descQueueReady
	ch <- descQueueUnacked
	ch <- descQueueConsumers
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.QueueSamples() {
		ch <- prometheus.MustNewConstMetric(descQueueMessages, prometheus.GaugeValue, float64(s.Ready+s.Unacked), s.Name)
		ch <- prometheus.MustNewConstMetric(descQueueReady, prometheus.GaugeValue, float64(s.Ready), s.Name)
		ch <- prometheus.MustNewConstMetric(descQueueUnacked, prometheus.GaugeValue, float64(s.Unacked), s.Name)
		ch <- prometheus.MustNewConstMetric(descQueueConsumers, prometheus.GaugeValue, float64(s.Consumers), s.Name)
	}
}
