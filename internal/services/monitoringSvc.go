package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Monitor exposes the translator's operational counters.
type Monitor struct {
	FramesPublished *prometheus.CounterVec
	PublishFailures prometheus.Counter
	FramesBuffered  prometheus.Counter
	DecodeErrors    prometheus.Counter
	DroppedEvents   prometheus.Counter
	DeviceAlive     *prometheus.GaugeVec
}

func NewMonitor() *Monitor {
	return &Monitor{
		FramesPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "translator_frames_published_total",
			Help: "Sparkplug frames published, by message type.",
		}, []string{"type"}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "translator_publish_failures_total",
			Help: "Sparkplug frames that could not be published.",
		}),
		FramesBuffered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "translator_frames_buffered_total",
			Help: "DATA frames held for store-and-forward.",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "translator_decode_errors_total",
			Help: "Raw payloads that failed to decode into a metric value.",
		}),
		DroppedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "translator_dropped_events_total",
			Help: "Device events dropped on input-queue overflow.",
		}),
		DeviceAlive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "translator_device_alive",
			Help: "1 while the device's birth epoch is open.",
		}, []string{"device"}),
	}
}

// Serve exposes /metrics; it blocks, so run it on its own goroutine.
func (m *Monitor) Serve(addr string, log *logrus.Logger) {
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Errorf("Prometheus endpoint failed: %v ⛔\n", err)
	}
}
