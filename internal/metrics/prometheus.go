package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/ce65_converter_go/internal/logging"
)

// Modes lists every value the mode gauge can take.
var Modes = []string{"SimpleCut", "CalibratedMonitor", "CalibratedAnalysis"}

// Metrics holds the converter collectors on a dedicated registry, so several
// converters can live in one process (and in tests) without clashing.
type Metrics struct {
	registry *prometheus.Registry

	conversionsTotal *prometheus.CounterVec   // Planes produced (by mode)
	declinedTotal    *prometheus.CounterVec   // Events left to other converters (by reason)
	failuresTotal    *prometheus.CounterVec   // Conversion errors (by reason)
	pixelsPerEvent   *prometheus.HistogramVec // Surviving pixels per plane (by mode)
	conversionTime   prometheus.Histogram     // Decode + CDS + suppression latency
	activeMode       *prometheus.GaugeVec     // 1 for the selected mode, 0 otherwise
	eventsRead       prometheus.Counter       // Raw events read from capture streams
	published        *prometheus.CounterVec   // MQTT messages (by kind)
}

// New registers the collectors under namespace (e.g. "ce65").
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		conversionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total standard planes produced",
			},
			[]string{"mode"},
		),
		declinedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "declined_total",
				Help:      "Total events declined by the converter",
			},
			[]string{"reason"},
		),
		failuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversion_failures_total",
				Help:      "Total events that failed to convert",
			},
			[]string{"reason"},
		),
		pixelsPerEvent: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pixels_per_event",
				Help:      "Surviving pixels per converted event",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100, 500, 1000, 2048},
			},
			[]string{"mode"},
		),
		conversionTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "conversion_duration_seconds",
				Help:      "Time spent converting one event",
				Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
		),
		activeMode: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "converter_mode",
				Help:      "Selected zero suppression mode (1=active)",
			},
			[]string{"mode"},
		),
		eventsRead: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_read_total",
				Help:      "Total raw events read from capture streams",
			},
		),
		published: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mqtt_published_total",
				Help:      "Total MQTT messages published",
			},
			[]string{"kind"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SetMode(mode string) {
	for _, known := range Modes {
		m.activeMode.WithLabelValues(known).Set(0)
	}
	m.activeMode.WithLabelValues(mode).Set(1)
}

func (m *Metrics) ObserveConversion(mode string, pixels int, elapsed time.Duration) {
	m.conversionsTotal.WithLabelValues(mode).Inc()
	m.pixelsPerEvent.WithLabelValues(mode).Observe(float64(pixels))
	m.conversionTime.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDecline(reason string) {
	m.declinedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveFailure(reason string) {
	m.failuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncEventsRead() {
	m.eventsRead.Inc()
}

func (m *Metrics) IncPublished(kind string) {
	m.published.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on listen until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logging.Infof("Prometheus metrics on http://%s/metrics", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
