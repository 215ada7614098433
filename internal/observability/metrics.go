package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chatdispatch_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chatdispatch_enqueue_total", Help: "Dispatch queue enqueue results"},
		[]string{"result"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chatdispatch_send_total", Help: "Chat send outcomes"},
		[]string{"path", "result"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "chatdispatch_send_latency_seconds", Help: "Bridge send latency"},
	)
	SelectorOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chatdispatch_selector_total", Help: "Sender selection outcomes"},
		[]string{"result"},
	)
	AutoPauses = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "chatdispatch_sender_auto_pause_total", Help: "Senders paused by the health monitor"},
	)
	DispatchJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chatdispatch_dispatch_jobs_total", Help: "Dispatch job results"},
		[]string{"result"},
	)
	DispatchRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "chatdispatch_dispatch_retries_total", Help: "Dispatch jobs scheduled for retry"},
	)
	BroadcastGroupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "chatdispatch_broadcast_group_seconds", Help: "Fan-out time of one broadcast group"},
	)
	BulkDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "chatdispatch_bulk_seconds", Help: "Wall-clock time of one bulk send"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Enqueues, Sends, SendLatency, SelectorOutcomes, AutoPauses,
		DispatchJobs, DispatchRetries, BroadcastGroupDuration, BulkDuration)
}
