package iosched

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "iosched"

type metricsCollector struct {
	metrics *Metrics

	dispatches    *prometheus.Desc
	idle          *prometheus.Desc
	added         *prometheus.Desc
	rejected      *prometheus.Desc
	merges        *prometheus.Desc
	switches      *prometheus.Desc
	ioOps         *prometheus.Desc
	ioBytes       *prometheus.Desc
	ioErrors      *prometheus.Desc
	maxQueueDepth *prometheus.Desc
	queueWait     *prometheus.Desc
}

// Check if metricsCollector implements necessary interface
var _ prometheus.Collector = &metricsCollector{}

// NewCollector exposes the metrics of one device to Prometheus. Every
// series carries a constant "device" label.
func NewCollector(devID uint32, m *Metrics) prometheus.Collector {
	labels := prometheus.Labels{"device": strconv.FormatUint(uint64(devID), 10)}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, variable, labels)
	}

	return &metricsCollector{
		metrics:       m,
		dispatches:    desc("dispatches_total", "Requests dispatched to the device, by scheduling direction.", "direction"),
		idle:          desc("idle_dispatches_total", "Dispatch calls that found no request queued."),
		added:         desc("requests_added_total", "Requests admitted to the queue."),
		rejected:      desc("requests_rejected_total", "Operations rejected by the queue, by reason.", "reason"),
		merges:        desc("merges_total", "Queued requests merged into a neighbour."),
		switches:      desc("elevator_switches_total", "Successful elevator switches."),
		ioOps:         desc("io_ops_total", "Requests executed against the backend, by op class.", "op"),
		ioBytes:       desc("io_bytes_total", "Bytes transferred by successful requests.", "op"),
		ioErrors:      desc("io_errors_total", "Requests the backend failed."),
		maxQueueDepth: desc("queue_depth_max", "Highest queue depth seen at admission."),
		queueWait:     desc("queue_wait_seconds", "Time from admission to dispatch."),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dispatches
	ch <- c.idle
	ch <- c.added
	ch <- c.rejected
	ch <- c.merges
	ch <- c.switches
	ch <- c.ioOps
	ch <- c.ioBytes
	ch <- c.ioErrors
	ch <- c.maxQueueDepth
	ch <- c.queueWait
}

// Collect implements the prometheus.Collector interface.
func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()

	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}

	counter(c.dispatches, snap.ReadDispatches, "read")
	counter(c.dispatches, snap.WriteDispatches, "write")
	counter(c.idle, snap.IdleDispatches)
	counter(c.added, snap.Adds)
	counter(c.rejected, snap.AddRejects, "queue_full")
	counter(c.rejected, snap.TunableRejects, "invalid_tunable")
	counter(c.rejected, snap.SwitchFailures, "switch_failed")
	counter(c.rejected, snap.DroppedOnClose, "queue_closed")
	counter(c.merges, snap.Merges)
	counter(c.switches, snap.ElevatorSwitches)
	counter(c.ioOps, snap.ReadOps, "read")
	counter(c.ioOps, snap.WriteOps, "write")
	counter(c.ioOps, snap.FlushOps, "flush")
	counter(c.ioBytes, snap.ReadBytes, "read")
	counter(c.ioBytes, snap.WriteBytes, "write")
	counter(c.ioErrors, snap.IOErrors)

	ch <- prometheus.MustNewConstMetric(c.maxQueueDepth, prometheus.GaugeValue, float64(snap.MaxQueueDepth))

	// Wait buckets are already cumulative
	buckets := make(map[float64]uint64, numWaitBuckets)
	for i, upper := range WaitBuckets {
		buckets[float64(upper)/1e9] = snap.WaitHistogram[i]
	}
	ch <- prometheus.MustNewConstHistogram(
		c.queueWait,
		c.metrics.WaitCount.Load(),
		float64(c.metrics.TotalWaitNs.Load())/1e9,
		buckets,
	)
}
