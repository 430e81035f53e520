// Package metrics holds the Prometheus collectors of the mail client.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream directions.
const (
	DirectionEncrypt = "encrypt"
	DirectionDecrypt = "decrypt"
)

// Metrics holds all Prometheus metrics for a client. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	EnvelopesSealed prometheus.Counter
	EnvelopesOpened prometheus.Counter
	ExternalSends   prometheus.Counter
	CryptoFailures  *prometheus.CounterVec
	StreamBytes     *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EnvelopesSealed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sealmail_envelopes_sealed_total",
			Help: "Metadata envelopes sealed for capable recipients",
		}),
		EnvelopesOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "sealmail_envelopes_opened_total",
			Help: "Inbound envelopes opened successfully",
		}),
		ExternalSends: factory.NewCounter(prometheus.CounterOpts{
			Name: "sealmail_external_sends_total",
			Help: "Cleartext copies relayed to external recipients",
		}),
		CryptoFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealmail_crypto_failures_total",
				Help: "Cryptographic failures by stage",
			},
			[]string{"stage"},
		),
		StreamBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealmail_stream_bytes_total",
				Help: "Plaintext bytes processed by the stream cipher",
			},
			[]string{"direction"},
		),
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealmail_http_requests_total",
				Help: "Mailbox API request attempts by route and status",
			},
			[]string{"route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sealmail_http_request_duration_seconds",
				Help:    "Mailbox API request latency",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route"},
		),
	}
}

// Sealed counts one sealed envelope.
func (m *Metrics) Sealed() {
	if m == nil {
		return
	}
	m.EnvelopesSealed.Inc()
}

// Opened counts one opened envelope.
func (m *Metrics) Opened() {
	if m == nil {
		return
	}
	m.EnvelopesOpened.Inc()
}

// External counts one external relay.
func (m *Metrics) External() {
	if m == nil {
		return
	}
	m.ExternalSends.Inc()
}

// CryptoFailure counts a failure at stage.
func (m *Metrics) CryptoFailure(stage string) {
	if m == nil {
		return
	}
	m.CryptoFailures.WithLabelValues(stage).Inc()
}

// Stream adds n plaintext bytes in direction.
func (m *Metrics) Stream(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.StreamBytes.WithLabelValues(direction).Add(float64(n))
}

// ObserveRequest records one HTTP attempt. status 0 is reported as "error".
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.Requests.WithLabelValues(route, code).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
