package relayer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusMetrics struct {
	Registry             *prometheus.Registry
	PacketRelayedCounter *prometheus.CounterVec
	PacketFailureCounter *prometheus.CounterVec
	PendingPacketsGauge  prometheus.Gauge
	RelayLatency         *prometheus.HistogramVec
	RelayerScoreGauge    *prometheus.GaugeVec
	CrossChainOperations *prometheus.CounterVec
	ChannelStateGauge    *prometheus.GaugeVec
}

func (m *PrometheusMetrics) IncPacketsRelayed(srcChain, dstChain, channel, relayerID string) {
	m.PacketRelayedCounter.WithLabelValues(srcChain, dstChain, channel, relayerID).Inc()
}

func (m *PrometheusMetrics) IncPacketFailure(srcChain, dstChain, cause string) {
	m.PacketFailureCounter.WithLabelValues(srcChain, dstChain, cause).Inc()
}

func (m *PrometheusMetrics) SetPendingPackets(count int) {
	m.PendingPacketsGauge.Set(float64(count))
}

func (m *PrometheusMetrics) ObserveRelayLatency(relayerID string, latency time.Duration) {
	m.RelayLatency.WithLabelValues(relayerID).Observe(latency.Seconds())
}

func (m *PrometheusMetrics) SetRelayerScore(relayerID string, score float64) {
	m.RelayerScoreGauge.WithLabelValues(relayerID).Set(score)
}

func (m *PrometheusMetrics) IncCrossChainOperation(operation, status string) {
	m.CrossChainOperations.WithLabelValues(operation, status).Inc()
}

func (m *PrometheusMetrics) SetChannelStates(counts map[ChannelState]int) {
	for _, s := range []ChannelState{ChannelInit, ChannelTryOpen, ChannelOpen, ChannelClosed} {
		m.ChannelStateGauge.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func NewPrometheusMetrics() *PrometheusMetrics {
	packetLabels := []string{"src_chain", "dst_chain", "channel", "relayer"}
	failureLabels := []string{"src_chain", "dst_chain", "cause"}
	relayerLabels := []string{"relayer"}
	operationLabels := []string{"operation", "status"}
	registry := prometheus.NewRegistry()
	registerer := promauto.With(registry)
	return &PrometheusMetrics{
		Registry: registry,
		PacketRelayedCounter: registerer.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_relayer_relayed_packets",
			Help: "The total number of relayed identity packets",
		}, packetLabels),
		PacketFailureCounter: registerer.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_relayer_packet_errors_total",
			Help: "The total number of packets that could not be relayed, by cause",
		}, failureLabels),
		PendingPacketsGauge: registerer.NewGauge(prometheus.GaugeOpts{
			Name: "identity_relayer_pending_packets",
			Help: "The number of packets awaiting acknowledgement or timeout",
		}),
		RelayLatency: registerer.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_relayer_relay_latency_seconds",
			Help:    "Time taken by a relayer to relay a packet",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, relayerLabels),
		RelayerScoreGauge: registerer.NewGaugeVec(prometheus.GaugeOpts{
			Name: "identity_relayer_relayer_score",
			Help: "The selection score of a relayer after its latest relay attempt",
		}, relayerLabels),
		CrossChainOperations: registerer.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_relayer_crosschain_operations_total",
			Help: "Cross-chain identity operations by type and final status",
		}, operationLabels),
		ChannelStateGauge: registerer.NewGaugeVec(prometheus.GaugeOpts{
			Name: "identity_relayer_channels",
			Help: "The number of channels in each handshake state",
		}, []string{"state"}),
	}
}
