package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transcode job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_forge_jobs_total",
			Help: "Total number of transcode jobs by backend path and outcome",
		},
		[]string{"path", "status"},
	)

	HardwareFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "video_forge_hardware_fallbacks_total",
			Help: "Jobs retried on the software path after a hardware failure",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "video_forge_job_duration_seconds",
			Help:    "Wall time of a single transcode job",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"path"},
	)
)

// Operation metrics
var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_forge_operations_total",
			Help: "Total number of operations by kind and result status",
		},
		[]string{"kind", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "video_forge_operation_duration_seconds",
			Help:    "Wall time of export, merge and batch operations",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"kind"},
	)

	AudioDegradationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_forge_audio_degradations_total",
			Help: "Audio assembly stages that failed and were skipped",
		},
		[]string{"stage"},
	)
)

// Process metrics
var (
	ActiveProcesses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_forge_active_processes",
			Help: "Number of ffmpeg child processes currently running",
		},
	)

	ProcessFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "video_forge_process_failures_total",
			Help: "Child processes that exited with a non-zero status",
		},
	)

	HardwareAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_forge_hardware_encoder_available",
			Help: "1 if the NVENC capability probe succeeded, 0 otherwise",
		},
	)
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "metrics server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
