package bench

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	datasetReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "featbench_dataset_reloads_total",
		Help: "Number of times the dataset inputs were reloaded",
	})

	recomputationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "featbench_detector_recomputations_total",
		Help: "Detector passes that recomputed results over all inputs",
	}, []string{"detector"})

	restoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "featbench_detector_restores_total",
		Help: "Detector passes satisfied from the persistent result store",
	}, []string{"detector"})

	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "featbench_detector_cache_hits_total",
		Help: "Detector passes that reused cached results",
	}, []string{"detector"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "featbench_detector_failures_total",
		Help: "Detector passes that ended unhealthy or failed",
	}, []string{"detector"})

	extractDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "featbench_extract_duration_seconds",
		Help:    "Time spent extracting one input, descriptors included",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"detector"})

	computeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "featbench_compute_duration_seconds",
		Help:    "Duration of full ComputeAll passes",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
	})
)
