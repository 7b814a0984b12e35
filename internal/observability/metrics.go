package observability

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mzyy94/glasscap/internal/transport"
)

var (
	registerOnce sync.Once

	chunksReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "glasscap",
			Subsystem: "reassembly",
			Name:      "chunks_total",
			Help:      "Chunks applied to the reassembler.",
		},
	)
	imagesCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "glasscap",
			Subsystem: "reassembly",
			Name:      "images_total",
			Help:      "Images completed by a terminator.",
		},
	)
	imageBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "glasscap",
			Subsystem: "reassembly",
			Name:      "image_bytes",
			Help:      "Size of completed images in bytes.",
			Buckets:   prometheus.ExponentialBuckets(4096, 2, 7), // 4 KiB .. 256 KiB
		},
	)
	discards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glasscap",
			Subsystem: "reassembly",
			Name:      "discards_total",
			Help:      "Dropped chunks and abandoned images by reason.",
		},
		[]string{"reason"},
	)
	queueDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "glasscap",
			Subsystem: "postproc",
			Name:      "queue_drops_total",
			Help:      "Completed images dropped because the post-processing queue was full.",
		},
	)
	postprocDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "glasscap",
			Subsystem: "postproc",
			Name:      "duration_seconds",
			Help:      "Post-processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"success"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glasscap",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "glasscap",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			chunksReceived, imagesCompleted, imageBytes, discards,
			queueDrops, postprocDuration, httpRequests, httpDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordChunk() {
	RegisterMetrics()
	chunksReceived.Inc()
}

func RecordImage(size int) {
	RegisterMetrics()
	imagesCompleted.Inc()
	imageBytes.Observe(float64(size))
}

func RecordDiscard(reason string) {
	RegisterMetrics()
	discards.WithLabelValues(reason).Inc()
}

func RecordQueueDrop() {
	RegisterMetrics()
	queueDrops.Inc()
}

func RecordPostprocess(duration time.Duration, success bool) {
	RegisterMetrics()
	postprocDuration.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())
}

func RecordHTTPRequest(method string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, statusLabel).Inc()
	httpDuration.WithLabelValues(method, statusLabel).Observe(duration.Seconds())
}

// RegisterTransport exposes the receive counters of a transport. Registering
// the same name twice is a no-op.
func RegisterTransport(name string, stats func() transport.Stats) error {
	labels := prometheus.Labels{"transport": name}
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "glasscap",
			Subsystem:   "transport",
			Name:        "notifications_total",
			Help:        "Notifications received from the bridge.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Received) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "glasscap",
			Subsystem:   "transport",
			Name:        "dropped_total",
			Help:        "Notifications dropped because the consumer fell behind.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Dropped) }),
	}
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
