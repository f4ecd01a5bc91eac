// Package metrics instruments the sender and receiver engines with
// Prometheus counters and gauges. A nil *Recorder is a valid, inert
// no-op, so instrumentation can be wired unconditionally into the engines
// and only actually exposed when --metrics-addr is set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private Prometheus registry, so multiple transfers in
// the same process (tests, primarily) don't collide on metric names.
type Recorder struct {
	registry *prometheus.Registry

	packetsSent    prometheus.Counter
	packetsResent  *prometheus.CounterVec
	packetsDropped *prometheus.CounterVec
	crcFailures    prometheus.Counter
	sendWindow     prometheus.Gauge
}

// Resend reasons (timeout, dup_ack, nack) and drop reasons
// (out_of_window, unexpected_peer).
const (
	ReasonTimeout  = "timeout"
	ReasonDupAck   = "dup_ack"
	ReasonNack     = "nack"
	ReasonOutOfWin = "out_of_window"
	ReasonBadPeer  = "unexpected_peer"
)

// New creates a Recorder registered against its own prometheus.Registry.
// transferID, if non-empty, is attached as a constant "transfer_id" label
// on every metric so several concurrent gorudt processes can be told apart
// behind one Prometheus scrape target.
func New(transferID string) *Recorder {
	reg := prometheus.NewRegistry()
	var labels prometheus.Labels
	if transferID != "" {
		labels = prometheus.Labels{"transfer_id": transferID}
	}
	r := &Recorder{
		registry: reg,
		packetsSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "gorudt_packets_sent_total",
			Help:        "Total number of data/ACK/NACK packets sent.",
			ConstLabels: labels,
		}),
		packetsResent: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name:        "gorudt_packets_resent_total",
			Help:        "Total number of packets retransmitted, labeled by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		packetsDropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name:        "gorudt_packets_dropped_total",
			Help:        "Total number of received packets dropped, labeled by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		crcFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "gorudt_crc_failures_total",
			Help:        "Total number of packets rejected for a CRC mismatch.",
			ConstLabels: labels,
		}),
		sendWindow: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name:        "gorudt_send_window",
			Help:        "Current advertised send window size.",
			ConstLabels: labels,
		}),
	}
	return r
}

// Handler returns the HTTP handler serving this Recorder's metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SentPacket records the transmission of one packet. A nil receiver is a
// no-op, so callers never need to nil-check before instrumenting.
func (r *Recorder) SentPacket() {
	if r == nil {
		return
	}
	r.packetsSent.Inc()
}

// Resent records a retransmission with its triggering reason.
func (r *Recorder) Resent(reason string) {
	if r == nil {
		return
	}
	r.packetsResent.WithLabelValues(reason).Inc()
}

// Dropped records a discarded inbound packet with its reason.
func (r *Recorder) Dropped(reason string) {
	if r == nil {
		return
	}
	r.packetsDropped.WithLabelValues(reason).Inc()
}

// CRCFailure records a packet rejected for a checksum mismatch.
func (r *Recorder) CRCFailure() {
	if r == nil {
		return
	}
	r.crcFailures.Inc()
}

// SetSendWindow records the current advertised send window.
func (r *Recorder) SetSendWindow(n int) {
	if r == nil {
		return
	}
	r.sendWindow.Set(float64(n))
}
