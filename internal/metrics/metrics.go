// Package metrics exposes the controller's Prometheus collectors. All
// methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartclimate"

type Metrics struct {
	registry *prometheus.Registry

	cycleDuration   prometheus.Histogram
	cycleErrors     *prometheus.CounterVec
	roomComfort     *prometheus.GaugeVec
	roomEfficiency  *prometheus.GaugeVec
	roomTemperature *prometheus.GaugeVec
	houseComfort    prometheus.Gauge
	houseEfficiency prometheus.Gauge
	auxiliaryOn     *prometheus.GaugeVec
	serviceCalls    *prometheus.CounterVec
	eventsFired     *prometheus.CounterVec
	suggestions     *prometheus.CounterVec
	aiDuration      *prometheus.HistogramVec
	aiErrors        *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of coordinator update cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		cycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Failures isolated during update cycles, by stage.",
		}, []string{"stage"}),
		roomComfort: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_comfort_score",
			Help:      "Comfort score per room (0-100).",
		}, []string{"room"}),
		roomEfficiency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_efficiency_score",
			Help:      "Efficiency score per room (0-100).",
		}, []string{"room"}),
		roomTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_temperature",
			Help:      "Averaged room temperature.",
		}, []string{"room"}),
		houseComfort: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "house_comfort_score",
			Help:      "Average comfort score across rooms.",
		}),
		houseEfficiency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "house_efficiency_score",
			Help:      "Average efficiency score across rooms.",
		}),
		auxiliaryOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auxiliary_device_on",
			Help:      "1 while an auxiliary device is engaged.",
		}, []string{"room", "entity_id"}),
		serviceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_calls_total",
			Help:      "Home Assistant service calls by domain, service and result.",
		}, []string{"domain", "service", "success"}),
		eventsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_fired_total",
			Help:      "Domain events fired by type.",
		}, []string{"event_type"}),
		suggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_total",
			Help:      "Suggestion lifecycle transitions by resulting status.",
		}, []string{"status"}),
		aiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_duration_seconds",
			Help:      "AI provider request durations.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		aiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_request_errors_total",
			Help:      "AI provider failures by provider.",
		}, []string{"provider"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status.",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		m.cycleDuration,
		m.cycleErrors,
		m.roomComfort,
		m.roomEfficiency,
		m.roomTemperature,
		m.houseComfort,
		m.houseEfficiency,
		m.auxiliaryOn,
		m.serviceCalls,
		m.eventsFired,
		m.suggestions,
		m.aiDuration,
		m.aiErrors,
		m.httpRequests,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) CycleError(stage string) {
	if m == nil {
		return
	}
	m.cycleErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) SetRoom(room string, comfort, efficiency float64, temperature *float64) {
	if m == nil {
		return
	}
	m.roomComfort.WithLabelValues(room).Set(comfort)
	m.roomEfficiency.WithLabelValues(room).Set(efficiency)
	if temperature != nil {
		m.roomTemperature.WithLabelValues(room).Set(*temperature)
	}
}

func (m *Metrics) SetHouse(comfort, efficiency float64) {
	if m == nil {
		return
	}
	m.houseComfort.Set(comfort)
	m.houseEfficiency.Set(efficiency)
}

func (m *Metrics) SetAuxiliary(room, entityID string, on bool) {
	if m == nil {
		return
	}
	v := 0.0
	if on {
		v = 1
	}
	m.auxiliaryOn.WithLabelValues(room, entityID).Set(v)
}

func (m *Metrics) ServiceCall(domain, service string, ok bool) {
	if m == nil {
		return
	}
	m.serviceCalls.WithLabelValues(domain, service, strconv.FormatBool(ok)).Inc()
}

func (m *Metrics) EventFired(eventType string) {
	if m == nil {
		return
	}
	m.eventsFired.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SuggestionTransition(status string) {
	if m == nil {
		return
	}
	m.suggestions.WithLabelValues(status).Inc()
}

func (m *Metrics) AIRequest(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.aiDuration.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		m.aiErrors.WithLabelValues(provider).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests to route by response status.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		}
	})
}
