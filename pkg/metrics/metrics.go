package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pdf_word_trainer"

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "translation_jobs_total",
		Help:      "Translation jobs by final status and reason.",
	}, []string{"status", "reason"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "translation_job_duration_seconds",
		Help:      "Wall-clock time of translation jobs.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "job_queue_depth",
		Help:      "Jobs waiting for a worker.",
	})

	JobsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_queue_rejected_total",
		Help:      "Submissions rejected because the queue was full.",
	})

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_calls_total",
		Help:      "Translation provider calls by result.",
	}, []string{"result"})

	RateLimitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "translate_rate_limit_retries_total",
		Help:      "Retries caused by provider rate limiting.",
	})

	RateLimitExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "translate_rate_limit_exhausted_total",
		Help:      "Chunks abandoned after exhausting rate-limit retries.",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "translation_cache_lookups_total",
		Help:      "Translation cache lookups by result.",
	}, []string{"result"})

	WordsTranslated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "words_translated_total",
		Help:      "Word entries written with a translation.",
	})

	Reviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flashcard_reviews_total",
		Help:      "Flashcard reviews by outcome.",
	}, []string{"outcome"})
)

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
