// Package promobserver adapts the session's Observer hook onto
// Prometheus counters, an alternate implementation
// selectable alongside the slog-backed default (SPEC_FULL.md §6.2).
package promobserver

import (
	"github.com/prometheus/client_golang/prometheus"

	"securestream/internal/domain"
)

// Observer exposes handshake, rekey, and record counters via a
// prometheus.Registerer supplied by the caller.
type Observer struct {
	handshakesTotal *prometheus.CounterVec
	rekeysTotal     *prometheus.CounterVec
	recordsSealed   prometheus.Counter
	recordsOpened   prometheus.Counter
	errorsTotal     *prometheus.CounterVec
}

// New constructs an Observer and registers its metrics with reg. reg may
// be a prometheus.NewRegistry() for test isolation or
// prometheus.DefaultRegisterer for a real process.
func New(reg prometheus.Registerer) *Observer {
	o := &Observer{
		handshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securestream",
			Name:      "handshakes_total",
			Help:      "Completed handshakes by mechanism, role, and outcome.",
		}, []string{"mechanism", "role", "outcome"}),
		rekeysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securestream",
			Name:      "rekeys_total",
			Help:      "Completed rekey rounds by outcome.",
		}, []string{"outcome"}),
		recordsSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "securestream",
			Name:      "records_sealed_total",
			Help:      "Records sealed for transmission.",
		}),
		recordsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "securestream",
			Name:      "records_opened_total",
			Help:      "Records successfully opened on receive.",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securestream",
			Name:      "errors_total",
			Help:      "Fatal errors by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(o.handshakesTotal, o.rekeysTotal, o.recordsSealed, o.recordsOpened, o.errorsTotal)
	return o
}

func (o *Observer) HandshakeStart(string, string) {}

func (o *Observer) HandshakeEnd(mechanism, role string, _, _ int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	o.handshakesTotal.WithLabelValues(mechanism, role, outcome).Inc()
}

func (o *Observer) RekeyStart(string) {}

func (o *Observer) RekeyEnd(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	o.rekeysTotal.WithLabelValues(outcome).Inc()
}

func (o *Observer) RecordSealed(uint32, uint32) { o.recordsSealed.Inc() }
func (o *Observer) RecordOpened(uint32, uint32) { o.recordsOpened.Inc() }

func (o *Observer) Error(kind string, _ error) {
	o.errorsTotal.WithLabelValues(kind).Inc()
}

var _ domain.Observer = (*Observer)(nil)
