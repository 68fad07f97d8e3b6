package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FleetCollector bundles Prometheus metrics for the orchestrator's HTTP
// surface and the fleet/schedule domain, and provides helpers to wire them
// into routers and the /metrics handler.
type FleetCollector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	FieldUnitsTotal   prometheus.Gauge
	FieldUnitsOnline  prometheus.Gauge
	ActivitiesByState *prometheus.GaugeVec

	ActivationsTotal prometheus.Counter
	CompletionsTotal prometheus.Counter
	CommandsTotal    prometheus.Counter
	AcksTotal        *prometheus.CounterVec

	RegenerationsTotal   *prometheus.CounterVec
	RegenerationDuration prometheus.Histogram
}

// NewFleetCollector registers orchestrator Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewFleetCollector(reg prometheus.Registerer) (*FleetCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by method, route, and status code.",
	}, []string{"method", "route", "code"})
	requests, err := registerCounterVec(reg, requests, "http_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"})
	durations, err = registerHistogramVec(reg, durations, "http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	unitsTotal, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "field_units_total",
		Help: "Number of field units known to the registry.",
	}), "field_units_total")
	if err != nil {
		return nil, err
	}
	unitsOnline, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "field_units_online",
		Help: "Number of field units not currently OFFLINE.",
	}), "field_units_online")
	if err != nil {
		return nil, err
	}

	byState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "schedule_activities",
		Help: "Activities in the current schedule, labeled by state.",
	}, []string{"state"})
	byState, err = registerGaugeVec(reg, byState, "schedule_activities")
	if err != nil {
		return nil, err
	}

	activations, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "activity_activations_total",
		Help: "Cumulative number of activities moved to ACTIVE.",
	}), "activity_activations_total")
	if err != nil {
		return nil, err
	}
	completions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "activity_completions_total",
		Help: "Cumulative number of activities moved to COMPLETED.",
	}), "activity_completions_total")
	if err != nil {
		return nil, err
	}
	commands, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "commands_sent_total",
		Help: "Cumulative number of commands dispatched to field units.",
	}), "commands_sent_total")
	if err != nil {
		return nil, err
	}

	acks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "command_acks_total",
		Help: "Cumulative number of command acknowledgements, labeled by status.",
	}, []string{"status"})
	acks, err = registerCounterVec(reg, acks, "command_acks_total")
	if err != nil {
		return nil, err
	}

	regens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_regenerations_total",
		Help: "Cumulative number of schedule regeneration runs, labeled by result.",
	}, []string{"result"})
	regens, err = registerCounterVec(reg, regens, "schedule_regenerations_total")
	if err != nil {
		return nil, err
	}

	regenDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedule_regeneration_duration_seconds",
		Help:    "Duration of full schedule regeneration runs.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})
	regenDuration, err = registerHistogram(reg, regenDuration, "schedule_regeneration_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &FleetCollector{
		gatherer:             gatherer,
		HTTPRequests:         requests,
		HTTPDurations:        durations,
		FieldUnitsTotal:      unitsTotal,
		FieldUnitsOnline:     unitsOnline,
		ActivitiesByState:    byState,
		ActivationsTotal:     activations,
		CompletionsTotal:     completions,
		CommandsTotal:        commands,
		AcksTotal:            acks,
		RegenerationsTotal:   regens,
		RegenerationDuration: regenDuration,
	}, nil
}

// Middleware records request counts and durations for HTTP handlers. Routes
// are labeled by the chi route pattern so path parameters do not explode
// cardinality.
func (c *FleetCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if c == nil {
			return
		}
		route := routePattern(r)
		if c.HTTPRequests != nil {
			c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		}
		if c.HTTPDurations != nil {
			c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FleetCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetFleetCounts satisfies the registry's FleetMetricsRecorder interface so
// the registry can drive gauge values directly from its mutators.
func (c *FleetCollector) SetFleetCounts(total, online int) {
	if c == nil {
		return
	}
	if c.FieldUnitsTotal != nil {
		c.FieldUnitsTotal.Set(float64(total))
	}
	if c.FieldUnitsOnline != nil {
		c.FieldUnitsOnline.Set(float64(online))
	}
}

// SetActivityCounts updates the per-state schedule gauges. All three states
// are always written so a state that empties out drops back to zero.
func (c *FleetCollector) SetActivityCounts(planned, active, completed int) {
	if c == nil || c.ActivitiesByState == nil {
		return
	}
	c.ActivitiesByState.WithLabelValues("PLANNED").Set(float64(planned))
	c.ActivitiesByState.WithLabelValues("ACTIVE").Set(float64(active))
	c.ActivitiesByState.WithLabelValues("COMPLETED").Set(float64(completed))
}

// IncActivations increments the activation counter.
func (c *FleetCollector) IncActivations() {
	if c == nil || c.ActivationsTotal == nil {
		return
	}
	c.ActivationsTotal.Inc()
}

// IncCompletions increments the completion counter.
func (c *FleetCollector) IncCompletions() {
	if c == nil || c.CompletionsTotal == nil {
		return
	}
	c.CompletionsTotal.Inc()
}

// IncCommands increments the dispatched-command counter.
func (c *FleetCollector) IncCommands() {
	if c == nil || c.CommandsTotal == nil {
		return
	}
	c.CommandsTotal.Inc()
}

// IncAcks counts one acknowledgement by status ("ACK" or "NACK").
func (c *FleetCollector) IncAcks(status string) {
	if c == nil || c.AcksTotal == nil {
		return
	}
	c.AcksTotal.WithLabelValues(status).Inc()
}

// ObserveRegeneration records one regeneration run with its outcome label
// ("ok", "error", or "busy") and, for completed runs, the elapsed time.
func (c *FleetCollector) ObserveRegeneration(result string, d time.Duration) {
	if c == nil {
		return
	}
	if c.RegenerationsTotal != nil {
		c.RegenerationsTotal.WithLabelValues(result).Inc()
	}
	if c.RegenerationDuration != nil && result != "busy" {
		c.RegenerationDuration.Observe(d.Seconds())
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}
