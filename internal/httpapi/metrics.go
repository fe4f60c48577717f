package httpapi

import "github.com/prometheus/client_golang/prometheus"

var (
	encodeCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dcc_encode_total",
		Help: "Number of successfully encoded DCC certificates.",
	})
	decodeCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dcc_decode_total",
		Help: "Number of successfully decoded DCC certificates.",
	})
	encodeFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dcc_encode_failures_total",
		Help: "Number of failed encode requests, by error kind.",
	}, []string{"kind"})
	decodeFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dcc_decode_failures_total",
		Help: "Number of failed decode requests, by error kind.",
	}, []string{"kind"})
	signatureDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dcc_encode_duration_seconds",
		Help:    "Time spent building and signing one DCC certificate.",
		Buckets: prometheus.DefBuckets,
	})
)

// InitPromMetrics registers this package's collectors, mirroring the
// teacher's own prom.InitPromMetrics call site in main.go.
func InitPromMetrics() {
	prometheus.MustRegister(encodeCounter, decodeCounter, encodeFailureCounter, decodeFailureCounter, signatureDuration)
}
