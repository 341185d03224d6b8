package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "access"

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// ChecksTotal counts permission checks by operation and outcome.
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Permission checks by operation and result (allow, deny, error; ok for bulk).",
		},
		[]string{"op", "result"},
	)

	// WritesTotal counts grant, revoke, share and default writes.
	WritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Permission writes by operation and result (ok, error).",
		},
		[]string{"op", "result"},
	)

	// StoreOperationDuration tracks backing store latency.
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Permission store operation duration in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"store", "operation"},
	)

	// StoreOperationsTotal counts backing store calls by result.
	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Permission store operations by result.",
		},
		[]string{"store", "operation", "result"},
	)

	// SweptTotal counts expired resource grants removed by the sweeper.
	SweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "deleted_total",
		Help:      "Expired resource grants physically deleted.",
	})

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Access service build information.",
		},
		[]string{"version", "commit"},
	)

	initOnce sync.Once
)

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			ChecksTotal, WritesTotal, StoreOperationDuration, StoreOperationsTotal, SweptTotal,
			buildInfo,
		)
	})
}

// SetBuildInfo publishes build_info{version,commit} 1.
func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// ObserveCheck records the outcome of a permission check.
func ObserveCheck(op string, allowed bool, err error) {
	result := "deny"
	switch {
	case err != nil:
		result = "error"
	case allowed:
		result = "allow"
	}
	ChecksTotal.WithLabelValues(op, result).Inc()
}

// ObserveBulkCheck records a bulk check. It answers for many resources at once, so the
// result only says whether the call completed.
func ObserveBulkCheck(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ChecksTotal.WithLabelValues("bulk", result).Inc()
}

// ObserveWrite records the outcome of a permission write.
func ObserveWrite(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	WritesTotal.WithLabelValues(op, result).Inc()
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument measures request rate, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath replaces tenant, user, content type and resource segments with
// placeholders so metric labels stay bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || parts[1] != "tenants" {
		return p
	}
	out := []string{"v1", "tenants", ":tenant"}
	rest := parts[3:]
	for i := 0; i < len(rest); i++ {
		seg := rest[i]
		switch {
		case seg == "users" && i+1 < len(rest):
			out = append(out, "users", ":user")
			i++
		case seg == "content-types" && i+1 < len(rest):
			out = append(out, "content-types", ":type"+actionSuffix(rest[i+1]))
			i++
		case seg == "resources" && i+2 < len(rest):
			out = append(out, "resources", ":type", ":id"+actionSuffix(rest[i+2]))
			i += 2
		default:
			out = append(out, seg)
		}
	}
	return "/" + strings.Join(out, "/")
}

func actionSuffix(seg string) string {
	if i := strings.LastIndexByte(seg, ':'); i >= 0 {
		return seg[i:]
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
