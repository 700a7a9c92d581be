// Package ldpmetrics exposes Prometheus metrics for neighbor, adjacency,
// LIB, and PDU activity (SPEC_FULL.md §11 domain-stack wiring).
package ldpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "ldpd"
	subsystem = "ldp"
)

const (
	labelPeerLSR  = "peer_lsr_id"
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelMsgType   = "msg_type"
)

// Collector holds all ldpd Prometheus metrics.
type Collector struct {
	Neighbors        *prometheus.GaugeVec
	Adjacencies      prometheus.Gauge
	FECsInLIB        prometheus.Gauge
	LabelsAllocated  prometheus.Gauge
	PDUsSent         *prometheus.CounterVec
	PDUsReceived     *prometheus.CounterVec
	PDUsDropped      *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
}

// NewCollector creates a Collector with all ldpd metrics registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := newMetrics()
	reg.MustRegister(
		c.Neighbors,
		c.Adjacencies,
		c.FECsInLIB,
		c.LabelsAllocated,
		c.PDUsSent,
		c.PDUsReceived,
		c.PDUsDropped,
		c.StateTransitions,
	)
	return c
}

func newMetrics() *Collector {
	peerLabels := []string{labelPeerLSR}
	transitionLabels := []string{labelPeerLSR, labelFromState, labelToState}
	pduLabels := []string{labelPeerLSR, labelMsgType}

	return &Collector{
		Neighbors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "neighbor_state",
			Help: "Per-neighbor session state, one gauge value per known neighbor (1=operational, 0=otherwise).",
		}, peerLabels),
		Adjacencies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "adjacencies",
			Help: "Number of currently live hello adjacencies.",
		}),
		FECsInLIB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "lib_fecs",
			Help: "Number of FEC entries currently held in the Label Information Base.",
		}),
		LabelsAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "labels_allocated",
			Help: "Number of local labels currently allocated and not yet released.",
		}),
		PDUsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "pdus_sent_total",
			Help: "Total LDP PDUs transmitted, by peer and leading message type.",
		}, pduLabels),
		PDUsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "pdus_received_total",
			Help: "Total LDP PDUs received, by peer and leading message type.",
		}, pduLabels),
		PDUsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "pdus_dropped_total",
			Help: "Total LDP PDUs dropped due to decode or validation failure.",
		}, peerLabels),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "state_transitions_total",
			Help: "Total session FSM state transitions.",
		}, transitionLabels),
	}
}

func (c *Collector) SetNeighborOperational(peerLSRID string, operational bool) {
	v := 0.0
	if operational {
		v = 1.0
	}
	c.Neighbors.WithLabelValues(peerLSRID).Set(v)
}

func (c *Collector) SetAdjacencies(n int)     { c.Adjacencies.Set(float64(n)) }
func (c *Collector) SetFECsInLIB(n int)       { c.FECsInLIB.Set(float64(n)) }
func (c *Collector) SetLabelsAllocated(n int) { c.LabelsAllocated.Set(float64(n)) }

func (c *Collector) IncPDUSent(peerLSRID, msgType string) {
	c.PDUsSent.WithLabelValues(peerLSRID, msgType).Inc()
}

func (c *Collector) IncPDUReceived(peerLSRID, msgType string) {
	c.PDUsReceived.WithLabelValues(peerLSRID, msgType).Inc()
}

func (c *Collector) IncPDUDropped(peerLSRID string) {
	c.PDUsDropped.WithLabelValues(peerLSRID).Inc()
}

func (c *Collector) RecordStateTransition(peerLSRID, from, to string) {
	c.StateTransitions.WithLabelValues(peerLSRID, from, to).Inc()
}
