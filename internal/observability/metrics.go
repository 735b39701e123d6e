package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wagate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wagate",
			Subsystem: "session",
			Name:      "state",
			Help:      "1 for the session's current state, 0 otherwise.",
		},
		[]string{"state"},
	)
	sessionDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Connection closes by cause and class.",
		},
		[]string{"cause", "class"},
	)
	sessionConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Transport open attempts by outcome.",
		},
		[]string{"outcome"},
	)
	credentialSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "credentials",
			Name:      "saves_total",
			Help:      "Credential writes by outcome.",
		},
		[]string{"success"},
	)
	outboundSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "outbound",
			Name:      "sends_total",
			Help:      "Send requests by result.",
		},
		[]string{"result"},
	)
	outboundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wagate",
			Subsystem: "outbound",
			Name:      "send_duration_seconds",
			Help:      "Transport send duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	inboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "inbound",
			Name:      "messages_total",
			Help:      "Inbound messages by routing decision.",
		},
		[]string{"decision"},
	)
)

// SessionStates lists every label RecordSessionState may set.
var SessionStates = []string{"idle", "connecting", "awaiting_pairing", "ready", "closing"}

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionState,
			sessionDisconnects,
			sessionConnectAttempts,
			credentialSaves,
			outboundSends,
			outboundDuration,
			inboundMessages,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionState(state string) {
	RegisterMetrics()
	for _, s := range SessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

func RecordDisconnect(cause, class string) {
	RegisterMetrics()
	sessionDisconnects.WithLabelValues(cause, class).Inc()
}

func RecordConnectAttempt(outcome string) {
	RegisterMetrics()
	sessionConnectAttempts.WithLabelValues(outcome).Inc()
}

func RecordCredentialSave(success bool) {
	RegisterMetrics()
	credentialSaves.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordSend(result string, duration time.Duration) {
	RegisterMetrics()
	outboundSends.WithLabelValues(result).Inc()
	if duration > 0 {
		outboundDuration.Observe(duration.Seconds())
	}
}

func RecordInbound(decision string) {
	RegisterMetrics()
	inboundMessages.WithLabelValues(decision).Inc()
}
