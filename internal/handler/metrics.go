package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "preflight_http_request_duration_seconds",
		Help:    "HTTP request duration by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	assessmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preflight_assessments_total",
		Help: "Saved risk assessments by computed result",
	}, []string{"result"})

	assessmentScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "preflight_assessment_score",
		Help:    "Total risk score of saved assessments",
		Buckets: []float64{0, 2, 4, 6, 8, 10, 15, 20, 30, 50},
	})

	evaluationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preflight_evaluation_errors_total",
		Help: "Rejected submissions by evaluator error kind",
	}, []string{"kind"})

	overridesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preflight_overrides_total",
		Help: "Instructor overrides by overriding result",
	}, []string{"result"})

	adviceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "preflight_advice_duration_seconds",
		Help:    "Mitigation advice latency by outcome",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s to 32s
	}, []string{"outcome"})
)

// instrument records request latency labelled with the matched route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
