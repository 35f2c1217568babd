package service

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/errors"
)

const namespace = "sip_dispatcher"

// Metrics implements domain.Metrics on a private prometheus registry
type Metrics struct {
	registry *prometheus.Registry

	selections   *prometheus.CounterVec
	probes       *prometheus.CounterVec
	probeLatency *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	reloads      *prometheus.CounterVec
	loaded       prometheus.Gauge
	skipped      prometheus.Gauge
	registrar    *prometheus.CounterVec
	contacts     *prometheus.GaugeVec
}

// NewMetrics creates and registers every collector
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Destination selections by set, algorithm and result",
		}, []string{"group", "algorithm", "result"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Health probe outcomes by set and reply class",
		}, []string{"group", "outcome"}),
		probeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Time until the final reply of a health probe",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"group"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Routability transitions of destinations",
		}, []string{"group", "route"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Destination list reloads by result",
		}, []string{"result"}),
		loaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "destinations_loaded",
			Help:      "Destinations in the active list",
		}),
		skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "destinations_skipped",
			Help:      "Rows skipped by the last successful reload",
		}),
		registrar: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrar_operations_total",
			Help:      "Registrar operations by type and result",
		}, []string{"op", "result"}),
		contacts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registrar_contacts",
			Help:      "Stored contacts per user-location domain",
		}, []string{"domain"}),
	}

	m.registry.MustRegister(
		m.selections,
		m.probes,
		m.probeLatency,
		m.transitions,
		m.reloads,
		m.loaded,
		m.skipped,
		m.registrar,
		m.contacts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(errors.GetErrorCode(err)))
}

// ObserveSelection counts one selection call
func (m *Metrics) ObserveSelection(group int, alg domain.Algorithm, err error) {
	m.selections.WithLabelValues(strconv.Itoa(group), alg.String(), result(err)).Inc()
}

// ObserveProbe counts one probe outcome and records its duration
func (m *Metrics) ObserveProbe(o domain.ProbeOutcome) {
	group := strconv.Itoa(o.Group)
	outcome := "timeout"
	switch {
	case o.SendFailed:
		outcome = "send_failed"
	case o.TimedOut:
	default:
		outcome = strconv.Itoa(o.Code/100) + "xx"
		m.probeLatency.WithLabelValues(group).Observe(o.Elapsed.Seconds())
	}
	m.probes.WithLabelValues(group, outcome).Inc()
}

// ObserveTransition counts one routability transition
func (m *Metrics) ObserveTransition(group int, route string) {
	m.transitions.WithLabelValues(strconv.Itoa(group), route).Inc()
}

// ObserveReload counts a reload; the gauges follow successful reloads only
func (m *Metrics) ObserveReload(loaded, skipped int, err error) {
	m.reloads.WithLabelValues(result(err)).Inc()
	if err != nil {
		return
	}
	m.loaded.Set(float64(loaded))
	m.skipped.Set(float64(skipped))
}

// ObserveRegistrar counts one registrar operation
func (m *Metrics) ObserveRegistrar(op string, err error) {
	m.registrar.WithLabelValues(op, result(err)).Inc()
}

// SetContacts records the contact count of a domain
func (m *Metrics) SetContacts(domainName string, n int) {
	m.contacts.WithLabelValues(domainName).Set(float64(n))
}
