package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeSource []QueueSample

func (f fakeSource) QueueSamples() []QueueSample { return f }

func TestQueueCollector(t *testing.T) {
	c := NewQueueCollector(fakeSource{{Name: "llm_queue", Ready: 3, Unacked: 2, Consumers: 1}})
	want := `
# HELP llmq_queue_messages Messages ready plus unacknowledged. The autoscaler's backlog signal.
# TYPE llmq_queue_messages gauge
llmq_queue_messages{queue="llm_queue"} 5
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(want), "llmq_queue_messages"))
}

func TestRecordHelpers(t *testing.T) {
	Register()
	Register()

	RecordNacked("q-test", false)
	RecordNacked("q-test", false)
	RecordScaleEvent("t-test", "up")
	require.Equal(t, 2.0, testutil.ToFloat64(nackedCounter.WithLabelValues("q-test", "false")))
	require.Equal(t, 1.0, testutil.ToFloat64(autoscalerScaleEvents.WithLabelValues("t-test", "up")))

	StorageHook{}.ObserveBatchCommit(0, 1, 1)
	n, err := testutil.GatherAndCount(Registry, "llmq_storage_commit_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
