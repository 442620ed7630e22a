// Package metrics exposes Prometheus metrics for pathway resolutions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pathways"

// Status values for metric labels.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusCanceled = "canceled"
	StatusTimedOut = "timed_out"
)

var (
	// resolutionsActive is a gauge of pathway resolutions in flight.
	resolutionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resolutions_active",
			Help:      "Number of pathway resolutions currently in flight",
		},
	)

	// resolutionDuration is a histogram of total resolution duration.
	resolutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_duration_seconds",
			Help:      "Histogram of total pathway resolution duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"pathway", "status"},
	)

	// resolutionsTotal is a counter of completed resolutions.
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Total number of completed pathway resolutions",
		},
		[]string{"pathway", "status"},
	)

	// dispatchDuration is a histogram of individual model dispatch duration.
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of individual model dispatches in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	// dispatchesTotal is a counter of model dispatches.
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total number of model dispatches",
		},
		[]string{"model", "status"},
	)

	// inputChunksTotal is a counter of input chunks produced per pathway.
	inputChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_chunks_total",
			Help:      "Total number of input chunks produced by the chunker",
		},
		[]string{"pathway"},
	)

	// callbackWaitDuration is a histogram of client tool callback wait time.
	callbackWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "callback_wait_duration_seconds",
			Help:      "Time spent waiting on client tool callbacks in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	// storeReloadsTotal is a counter of dynamic pathway store reloads.
	storeReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_reloads_total",
			Help:      "Total number of dynamic pathway store reloads",
		},
		[]string{"status"},
	)

	// busEventsDroppedTotal is a counter of progress events dropped on backpressure.
	busEventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_dropped_total",
			Help:      "Total number of bus events dropped due to slow subscribers",
		},
		[]string{"topic"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		resolutionsActive,
		resolutionDuration,
		resolutionsTotal,
		dispatchDuration,
		dispatchesTotal,
		inputChunksTotal,
		callbackWaitDuration,
		storeReloadsTotal,
		busEventsDroppedTotal,
	}
)

// RecordResolutionStart marks a resolution as in flight.
func RecordResolutionStart() {
	resolutionsActive.Inc()
}

// RecordResolutionEnd records a finished resolution. Status is one of
// success, error, canceled, timed_out.
func RecordResolutionEnd(pathway, status string, duration time.Duration) {
	resolutionsActive.Dec()
	resolutionDuration.WithLabelValues(pathway, status).Observe(duration.Seconds())
	resolutionsTotal.WithLabelValues(pathway, status).Inc()
}

// RecordDispatch records one model dispatch.
func RecordDispatch(model string, err error, duration time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	dispatchDuration.WithLabelValues(model).Observe(duration.Seconds())
	dispatchesTotal.WithLabelValues(model, status).Inc()
}

// RecordInputChunks records the chunk count produced for one resolution.
func RecordInputChunks(pathway string, count int) {
	inputChunksTotal.WithLabelValues(pathway).Add(float64(count))
}

// RecordCallbackWait records a completed client tool callback wait.
func RecordCallbackWait(err error, duration time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	callbackWaitDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStoreReload records one dynamic pathway store reload attempt.
func RecordStoreReload(err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	storeReloadsTotal.WithLabelValues(status).Inc()
}

// RecordBusEventDropped records a progress event dropped on backpressure.
func RecordBusEventDropped(topic string) {
	busEventsDroppedTotal.WithLabelValues(topic).Inc()
}
