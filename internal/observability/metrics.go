package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects desk-level counters and latencies, exposed on /metrics.
type Metrics struct {
	// MessagesInbound counts triaged inbound messages by media kind.
	MessagesInbound *prometheus.CounterVec

	// RepliesSent counts assistant replies delivered through the channel.
	RepliesSent prometheus.Counter

	// TicketsCreated counts tickets filed from parsed handoff reports.
	TicketsCreated prometheus.Counter

	// AssistantDuration measures assistant generation latency by provider.
	AssistantDuration *prometheus.HistogramVec

	// ReconnectAttempts counts channel reconnect attempts.
	ReconnectAttempts prometheus.Counter

	// SendFailures counts outbound sends rejected or failed by the channel.
	SendFailures prometheus.Counter

	// MediaDownloadFailures counts inbound attachments that could not be
	// fetched from the network.
	MediaDownloadFailures prometheus.Counter

	// ReportParseFailures counts malformed handoff report blocks.
	ReportParseFailures prometheus.Counter
}

// NewMetrics registers and returns the desk metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesInbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "omnidesk_messages_inbound_total",
			Help: "Inbound messages processed by the triage pipeline, by media kind.",
		}, []string{"kind"}),
		RepliesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "omnidesk_replies_sent_total",
			Help: "Assistant replies delivered to contacts.",
		}),
		TicketsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "omnidesk_tickets_created_total",
			Help: "Tickets created from assistant handoff reports.",
		}),
		AssistantDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "omnidesk_assistant_duration_seconds",
			Help:    "Assistant generation latency by provider.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "omnidesk_channel_reconnect_attempts_total",
			Help: "Channel reconnect attempts after transient disconnects.",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "omnidesk_channel_send_failures_total",
			Help: "Outbound sends that failed or found the channel unavailable.",
		}),
		MediaDownloadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "omnidesk_media_download_failures_total",
			Help: "Inbound media payloads that could not be downloaded.",
		}),
		ReportParseFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "omnidesk_report_parse_failures_total",
			Help: "Handoff report blocks that failed to parse.",
		}),
	}
}
