package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchesTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "safety_core", Name: "sos_dispatches_total", Help: "Total SOS dispatches triggered"})
	DispatchLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "safety_core", Name: "sos_dispatch_latency_seconds", Help: "Synchronous dispatch phase latency"})
	CallFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "safety_core", Name: "call_fallbacks_total", Help: "Calls routed through the system dialer fallback"})
	SMSFallbacksTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "safety_core", Name: "sms_fallbacks_total", Help: "Texts routed through the composer fallback"})

	QueueDepth        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "safety_core", Name: "offline_queue_depth", Help: "Pending offline SOS messages"})
	QueueFlushedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "safety_core", Name: "offline_queue_flushed_total", Help: "Flush results by outcome"},
		[]string{"result"},
	)

	DeviationAlertsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "safety_core", Name: "deviation_alerts_total", Help: "Route deviation alerts raised"})
	CheckInRemindersTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "safety_core", Name: "checkin_reminders_total", Help: "Check-in circle reminders sent"})

	LiveShareActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "safety_core", Name: "live_share_active", Help: "Whether a live share session is active"})
	LiveSharePushes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "safety_core", Name: "live_share_pushes_total", Help: "Live share position pushes by transport"},
		[]string{"transport", "result"},
	)
)
