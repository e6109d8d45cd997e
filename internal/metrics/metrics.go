package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "schoolbot"

var (
	// Events counts dispatched events by kind and outcome (ok, denied, error, unmatched).
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Chat events dispatched, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// Denials counts role gate rejections per workflow.
	Denials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "access_denied_total",
		Help:      "Events rejected by the role gate.",
	}, []string{"workflow"})

	// Attendance counts check-in verdicts.
	Attendance = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attendance_submissions_total",
		Help:      "Attendance submissions by verdict.",
	}, []string{"status"})

	// Deliveries counts notification delivery attempts by result.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_deliveries_total",
		Help:      "Notification delivery attempts by result.",
	}, []string{"result"})

	// Dispatch observes handler latency per route.
	Dispatch = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_seconds",
		Help:      "Time spent handling one event, by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)
