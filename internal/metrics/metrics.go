// Package metrics declares the node's Prometheus collectors, grouped the
// way the teacher's eBPF metrics collector groups counters/gauges by
// subsystem, scaled down to this core's surface: forwarding rules, map
// rebuilds, and TWAMP session counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector exposed on /metrics.
type Metrics struct {
	RulesActive      prometheus.Gauge
	RuleChanges      *prometheus.CounterVec
	MapRebuilds      *prometheus.CounterVec
	MapRebuildErrors *prometheus.CounterVec

	TWAMPSessionsActive  *prometheus.GaugeVec
	TWAMPSessionsStarted *prometheus.CounterVec
	TWAMPPacketsTx       prometheus.Counter
	TWAMPPacketsRx       prometheus.Counter

	APIRequests *prometheus.CounterVec
}

// New constructs a Metrics with every collector registered against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vmark_forwarding_rules_active",
			Help: "Number of forwarding rules currently enabled.",
		}),
		RuleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vmark_forwarding_rule_changes_total",
			Help: "Forwarding rule lifecycle transitions.",
		}, []string{"verb"}),
		MapRebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vmark_forwarding_map_rebuilds_total",
			Help: "BPF map rebuilds performed per parent interface.",
		}, []string{"parent"}),
		MapRebuildErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vmark_forwarding_map_rebuild_errors_total",
			Help: "BPF map rebuilds that failed, per parent interface.",
		}, []string{"parent"}),

		TWAMPSessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vmark_twamp_sessions_active",
			Help: "Currently running TWAMP sessions.",
		}, []string{"role"}),
		TWAMPSessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vmark_twamp_sessions_started_total",
			Help: "TWAMP sessions started, by role and address family.",
		}, []string{"role", "ip_version"}),
		TWAMPPacketsTx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmark_twamp_packets_sent_total",
			Help: "TWAMP-Light test packets sent by sender sessions.",
		}),
		TWAMPPacketsRx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmark_twamp_packets_received_total",
			Help: "TWAMP-Light reply packets received by sender sessions.",
		}),

		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vmark_api_requests_total",
			Help: "Persistent API requests, by path and HTTP status text.",
		}, []string{"path", "status"}),
	}

	reg.MustRegister(
		m.RulesActive, m.RuleChanges, m.MapRebuilds, m.MapRebuildErrors,
		m.TWAMPSessionsActive, m.TWAMPSessionsStarted, m.TWAMPPacketsTx, m.TWAMPPacketsRx,
		m.APIRequests,
	)
	return m
}
