package iosched

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	m := NewMetrics()
	m.Merges.Add(2)

	want := `
# HELP iosched_merges_total Queued requests merged into a neighbour.
# TYPE iosched_merges_total counter
iosched_merges_total{device="3"} 2
`
	if err := testutil.CollectAndCompare(NewCollector(3, m), strings.NewReader(want), "iosched_merges_total"); err != nil {
		t.Fatal(err)
	}
}

func TestCollectorLabels(t *testing.T) {
	m := NewMetrics()
	m.RecordDispatch(DirectionRead, 500)
	m.RecordDispatch(DirectionRead, 500)
	m.RecordDispatch(DirectionWrite, 2_000_000)
	m.RecordError(ErrQueueFull)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(1, m)))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	dispatches := byName["iosched_dispatches_total"]
	require.NotNil(t, dispatches)
	got := map[string]float64{}
	for _, metric := range dispatches.GetMetric() {
		labels := map[string]string{}
		for _, lp := range metric.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		assert.Equal(t, "1", labels["device"])
		got[labels["direction"]] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"read": 2, "write": 1}, got)

	rejected := byName["iosched_requests_rejected_total"]
	require.NotNil(t, rejected)
	assert.Len(t, rejected.GetMetric(), 4)

	wait := byName["iosched_queue_wait_seconds"]
	require.NotNil(t, wait)
	require.Len(t, wait.GetMetric(), 1)
	hist := wait.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(3), hist.GetSampleCount())
	require.Len(t, hist.GetBucket(), numWaitBuckets)
	// 1us bucket holds both reads, 10ms bucket holds everything
	assert.Equal(t, uint64(2), hist.GetBucket()[0].GetCumulativeCount())
	assert.Equal(t, uint64(3), hist.GetBucket()[4].GetCumulativeCount())
}

func TestCollectorCount(t *testing.T) {
	// 2 dispatches + idle + added + 4 rejected + merges + switches +
	// 3 ops + 2 bytes + errors + depth + wait histogram
	assert.Equal(t, 18, testutil.CollectAndCount(NewCollector(0, NewMetrics())))
}
