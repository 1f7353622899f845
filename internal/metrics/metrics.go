// Package metrics holds the gateway's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	SubmissionsTotal  *prometheus.CounterVec
	RetriesTotal      prometheus.Counter
	SessionReopens    prometheus.Counter
	SessionsOpened    prometheus.Counter
	IntegrityFailures prometheus.Counter
	PollCyclesTotal   prometheus.Counter
	DownloadsTotal    prometheus.Counter
	QueryPagesTotal   prometheus.Counter
}

// New creates and registers all gateway metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "einvoice_gateway_submissions_total",
			Help: "Invoice submissions by terminal outcome",
		}, []string{"outcome"}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "einvoice_gateway_retries_total",
			Help: "Transient failures retried against the authority",
		}),
		SessionReopens: factory.NewCounter(prometheus.CounterOpts{
			Name: "einvoice_gateway_session_reopens_total",
			Help: "Sessions transparently reopened after authority-side expiry",
		}),
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "einvoice_gateway_sessions_opened_total",
			Help: "Authority sessions opened",
		}),
		IntegrityFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "einvoice_gateway_integrity_failures_total",
			Help: "Downloaded invoices whose content hash did not match the declared hash",
		}),
		PollCyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "einvoice_gateway_poll_cycles_total",
			Help: "Status poll calls issued for acknowledged submissions",
		}),
		DownloadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "einvoice_gateway_downloads_total",
			Help: "Invoice downloads completed with verified integrity",
		}),
		QueryPagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "einvoice_gateway_query_pages_total",
			Help: "Metadata listing pages fetched",
		}),
	}
}

// Nop returns metrics registered on a throwaway registry, for components that
// run without instrumentation (tests, library embedding).
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
