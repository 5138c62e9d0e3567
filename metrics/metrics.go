// Package metrics defines the Prometheus collectors for the detection and
// dispatch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAnalyzed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_events_analyzed_total",
			Help: "Total number of security events run through detection",
		},
	)

	EventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_events_ingested_total",
			Help: "Total number of security events accepted at the ingest boundary",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_events_dropped_total",
			Help: "Total number of security events rejected at the ingest boundary by reason",
		},
		[]string{"reason"},
	)

	ThreatsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_threats_detected_total",
			Help: "Total number of threat classifications by type",
		},
		[]string{"type"},
	)

	ThreatRecordsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_threat_records_created_total",
			Help: "Total number of threat records created by severity",
		},
		[]string{"severity"},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_detection_duration_seconds",
			Help:    "Time taken to classify one event",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_delivery_attempts_total",
			Help: "Total number of notification delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	NotificationsTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_notifications_terminal_total",
			Help: "Total number of notifications reaching a terminal status",
		},
		[]string{"status"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_dispatch_duration_seconds",
			Help:    "Time taken to drive one notification through a dispatch round",
			Buckets: prometheus.DefBuckets,
		},
	)
)
