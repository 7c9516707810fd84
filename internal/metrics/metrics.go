package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_requests_total",
		Help: "Visualization requests by model and outcome",
	}, []string{"model", "outcome"})

	RequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_request_errors_total",
		Help: "Failed visualization requests by error kind",
	}, []string{"kind"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lens_request_duration_seconds",
		Help:    "End-to-end processing time, cache hits included",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"model"})

	SequenceLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lens_sequence_length_tokens",
		Help:    "Distribution of tokenized sequence lengths",
		Buckets: []float64{8, 16, 32, 64, 128, 150, 200, 250, 300, 350, 400, 450, 512, 1024},
	})

	// Cache

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_cache_hits_total",
		Help: "Result cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_cache_misses_total",
		Help: "Result cache misses",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_cache_evictions_total",
		Help: "Result cache LRU evictions",
	})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lens_cache_entries",
		Help: "Entries currently held in the result cache",
	})

	// Registry

	ModelLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_model_loads_total",
		Help: "Model load attempts by model and result",
	}, []string{"model", "result"})

	ModelLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lens_model_load_duration_seconds",
		Help:    "Time spent loading an engine and tokenizer",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"model"})

	ModelsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lens_models_loaded",
		Help: "Engines currently resident in the registry",
	})

	// Reduction stages

	SamplingTier = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_attention_sampling_tier_total",
		Help: "Attention layers reduced per sampling tier",
	}, []string{"tier"})

	AttentionValuesKept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_attention_values_kept_total",
		Help: "Attention values emitted after sampling",
	})

	AttentionValuesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_attention_values_seen_total",
		Help: "Attention values present before sampling",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lens_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"stage"})

	ReductionFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_reduction_fallbacks_total",
		Help: "Reductions served by a fallback method",
	}, []string{"requested", "used"})

	DistanceCorrelation = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lens_reduction_distance_correlation",
		Help:    "Spearman correlation between original and reduced pairwise distances",
		Buckets: []float64{-0.5, 0, 0.25, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
	}, []string{"method"})

	// Tokenizer

	TokenizerEncodeLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lens_tokenizer_encode_length",
		Help:    "Token count of encoded inputs before truncation",
		Buckets: []float64{1, 8, 32, 128, 512, 1024, 2048, 4096},
	})

	TokenizerUnknownTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_tokenizer_unknown_tokens_total",
		Help: "Words that fell back to the unknown token",
	})

	TokenizerTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_tokenizer_truncations_total",
		Help: "Inputs truncated to the maximum sequence length",
	})

	TextTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_text_truncations_total",
		Help: "Request texts cut to the maximum character count",
	})

	ExportFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_export_failures_total",
		Help: "Projection exports that failed",
	})
)

func RecordRequest(model, outcome string, duration time.Duration) {
	RequestsTotal.WithLabelValues(model, outcome).Inc()
	RequestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func RecordError(kind string) {
	RequestErrors.WithLabelValues(kind).Inc()
}

func RecordSequenceLength(tokens int) {
	SequenceLength.Observe(float64(tokens))
}

func RecordCacheHit() {
	CacheHits.Inc()
}

func RecordCacheMiss() {
	CacheMisses.Inc()
}

func RecordCacheEviction() {
	CacheEvictions.Inc()
}

func RecordCacheEntries(n int) {
	CacheEntries.Set(float64(n))
}

func RecordModelLoad(model string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ModelLoads.WithLabelValues(model, result).Inc()
	ModelLoadDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func RecordModelsLoaded(n int) {
	ModelsLoaded.Set(float64(n))
}

func RecordSampling(tier string, kept, total int) {
	SamplingTier.WithLabelValues(tier).Inc()
	AttentionValuesKept.Add(float64(kept))
	AttentionValuesTotal.Add(float64(total))
}

func RecordStage(stage string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func RecordReductionFallback(requested, used string) {
	ReductionFallbacks.WithLabelValues(requested, used).Inc()
}

func RecordDistanceCorrelation(method string, corr float64) {
	DistanceCorrelation.WithLabelValues(method).Observe(corr)
}

func RecordTokenizerEncode(length int, unknownCount int) {
	TokenizerEncodeLength.Observe(float64(length))
	if unknownCount > 0 {
		TokenizerUnknownTokens.Add(float64(unknownCount))
	}
}

func RecordTruncation() {
	TokenizerTruncations.Inc()
}

func RecordTextTruncation() {
	TextTruncations.Inc()
}

func RecordExportFailure() {
	ExportFailures.Inc()
}
