// Package metrics exposes the stack's saturating 32-bit statistics
// counters as a Prometheus collector, grounded on the custom Describe/
// Collect Collector pattern used by the sockstats exporter in the example
// pack, adapted from per-socket gauges to the fixed per-node counter set
// named in the original lcs_node statistics table.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a single saturating 32-bit statistic: increments stick at
// 0xFFFFFFFF rather than wrapping, matching the firmware's counter
// semantics.
type Counter struct {
	v uint32
}

// Inc increments the counter by one, saturating instead of wrapping.
func (c *Counter) Inc() { c.Add(1) }

// Add increments the counter by delta, saturating at 0xFFFFFFFF.
func (c *Counter) Add(delta uint32) {
	for {
		old := atomic.LoadUint32(&c.v)
		if old == 0xFFFFFFFF {
			return
		}
		next := old + delta
		if next < old { // overflowed past the saturation point
			next = 0xFFFFFFFF
		}
		if atomic.CompareAndSwapUint32(&c.v, old, next) {
			return
		}
	}
}

// Value returns the counter's current value.
func (c *Counter) Value() float64 { return float64(atomic.LoadUint32(&c.v)) }

// Stats is the fixed set of per-node counters named across the component
// specification: link, network and transport layer error/drop statistics.
type Stats struct {
	LcsLost      Counter // admitted-queue-full drops
	LcsMissed    Counter // link receive queue full, or mode-2 frame without the local-NM tag
	LcsRetry     Counter // transport/session retries; the tsa layer does not increment it
	LcsTxFailure Counter // partial USB write discarded
	LcsLateAck   Counter // ack/reply for a non-current transaction
	LcsTxError   Counter // link transmit/framing error
	LcsRxError   Counter // link receive/framing error
}

// Collector adapts a Stats block into a prometheus.Collector.
type Collector struct {
	stats *Stats
	descs map[string]*prometheus.Desc
	get   map[string]func() float64
}

// NewCollector builds a Collector over stats. descriptors and their
// accessor functions are paired up front so Collect never needs
// reflection.
func NewCollector(namespace string, stats *Stats) *Collector {
	c := &Collector{stats: stats, descs: map[string]*prometheus.Desc{}, get: map[string]func() float64{}}

	add := func(name, help string, get func() float64) {
		c.descs[name] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", name), help, nil, nil)
		c.get[name] = get
	}

	add("lcs_lost_total", "Inbound admissions dropped because the target queue was full.", stats.LcsLost.Value)
	add("lcs_missed_total", "Link-layer receive frames dropped because the network-in queue was full or the frame lacked the local-NM tag.", stats.LcsMissed.Value)
	add("lcs_retry_total", "Transport/session retransmissions (not incremented by the transport layer).", stats.LcsRetry.Value)
	add("lcs_tx_failure_total", "Partial USB writes discarded.", stats.LcsTxFailure.Value)
	add("lcs_late_ack_total", "Acknowledgements or replies received for a non-current transaction.", stats.LcsLateAck.Value)
	add("lcs_tx_error_total", "Link transmit or framing errors.", stats.LcsTxError.Value)
	add("lcs_rx_error_total", "Link receive or framing errors.", stats.LcsRxError.Value)

	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, desc := range c.descs {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, c.get[name]())
	}
}
