package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ocrReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "examextract",
			Name:      "ocr_requests_total",
			Help:      "Total OCR engine requests by engine and result",
		},
		[]string{"engine", "result"},
	)

	ocrLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "examextract",
			Name:      "ocr_request_duration_seconds",
			Help:      "Duration of OCR engine requests by engine",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	regionsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "examextract",
			Name:      "regions_processed_total",
			Help:      "Regions processed by result and source (auto_detect, manual)",
		},
		[]string{"result", "source"},
	)

	preprocessStages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "examextract",
			Name:      "preprocess_stages_total",
			Help:      "Preprocessing stages applied to region crops",
		},
		[]string{"stage"},
	)

	pageTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "examextract",
			Name:      "page_status_transitions_total",
			Help:      "Page review status transitions by target status",
		},
		[]string{"status"},
	)

	parseResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "examextract",
			Name:      "parse_results_total",
			Help:      "Question parse outcomes (options_found, stem_only, ambiguous)",
		},
		[]string{"outcome"},
	)

	questionsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "examextract",
			Name:      "questions_saved_total",
			Help:      "Extracted questions persisted to the question store",
		},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "examextract",
			Name:      "breaker_events_total",
			Help:      "Circuit breaker events by engine and action",
		},
		[]string{"engine", "action"},
	)

	reviewQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "examextract",
			Name:      "review_queue_depth",
			Help:      "Specialist review queue depth gauges for stream and dlq",
		},
		[]string{"type"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(ocrReqs, ocrLatency, regionsProcessed, preprocessStages,
		pageTransitions, parseResults, questionsSaved, breakerEvents, reviewQueueDepth)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveOCR(engine, result string, dur time.Duration) {
	ocrReqs.WithLabelValues(engine, result).Inc()
	ocrLatency.WithLabelValues(engine).Observe(dur.Seconds())
}

func IncRegion(result, source string) { regionsProcessed.WithLabelValues(result, source).Inc() }
func IncStage(stage string)           { preprocessStages.WithLabelValues(stage).Inc() }
func IncTransition(status string)     { pageTransitions.WithLabelValues(status).Inc() }
func IncParse(outcome string)         { parseResults.WithLabelValues(outcome).Inc() }
func IncQuestionSaved()               { questionsSaved.Inc() }

func BreakerOpened(engine string) { breakerEvents.WithLabelValues(engine, "opened").Inc() }
func BreakerClosed(engine string) { breakerEvents.WithLabelValues(engine, "closed").Inc() }

func SetReviewQueueDepth(kind string, v int64) {
	reviewQueueDepth.WithLabelValues(kind).Set(float64(v))
}
