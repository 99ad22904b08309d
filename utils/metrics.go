package utils

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors shared by the store, the reset flow and the mailer.
type Metrics struct {
	DocumentSaves    *prometheus.CounterVec
	ResetTransitions *prometheus.CounterVec
	MailSends        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocumentSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memorybox",
			Subsystem: "store",
			Name:      "document_saves_total",
			Help:      "Document persist attempts by result.",
		}, []string{"result"}),
		ResetTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memorybox",
			Subsystem: "reset",
			Name:      "transitions_total",
			Help:      "Password reset registry operations by operation and result.",
		}, []string{"op", "result"}),
		MailSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memorybox",
			Subsystem: "mailer",
			Name:      "sends_total",
			Help:      "Reset code deliveries by transport and result.",
		}, []string{"transport", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.DocumentSaves, m.ResetTransitions, m.MailSends)
	}
	return m
}

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
