package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_emails_sent_total",
			Help: "Total campaign emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_email_failures_total",
			Help: "Total campaign emails that failed for a single recipient",
		},
	)

	BatchPauses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_batch_pauses_total",
			Help: "Total batch-delay pauses taken by dispatcher runs",
		},
	)

	DispatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_dispatch_runs_total",
			Help: "Dispatcher runs by outcome",
		},
		[]string{"outcome"},
	)

	BirthdayGreetings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birthday_greetings_total",
			Help: "Birthday candidates by result",
		},
		[]string{"result"},
	)

	TrackingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_events_total",
			Help: "Tracking events recorded for the first time",
		},
		[]string{"type"},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(BatchPauses)
	prometheus.MustRegister(DispatchRuns)
	prometheus.MustRegister(BirthdayGreetings)
	prometheus.MustRegister(TrackingEvents)
}
