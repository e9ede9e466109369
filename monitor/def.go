package monitor

import (
	"EmotionDet/engine"
	iface "EmotionDet/interface"
	"EmotionDet/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	Registry         = prometheus.NewRegistry()
	memUsage         prometheus.Gauge
	cpuUsage         prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec
	InferenceTotal   *prometheus.CounterVec
	InferenceErrors  *prometheus.CounterVec
	InferenceSeconds prometheus.Histogram
)

func init() {
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emotiondet_memory_usage_megabytes",
		Help: "Resident memory of the process in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emotiondet_cpu_usage_percent",
		Help: "CPU usage of the process in percent",
	})
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emotiondet_requests_total",
		Help: "Inference requests received, by surface",
	}, []string{"surface"})
	InferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emotiondet_inference_total",
		Help: "Completed inferences, by reported emotion",
	}, []string{"emotion"})
	InferenceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emotiondet_inference_errors_total",
		Help: "Inferences that ended with an error result, by reason",
	}, []string{"reason"})
	InferenceSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "emotiondet_inference_seconds",
		Help:    "Time spent per inference",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	Registry.MustRegister(memUsage, cpuUsage, RequestsTotal, InferenceTotal, InferenceErrors, InferenceSeconds)
}

// Reason maps an error message to a low-cardinality label value.
func Reason(msg string) string {
	switch {
	case msg == engine.ErrNoFace.Error():
		return "no_face"
	case strings.HasPrefix(msg, engine.ErrUnreadableImage.Error()),
		strings.Contains(msg, "image data"),
		strings.Contains(msg, "unsupported format"):
		return "decode"
	case msg == engine.ErrNotLoaded.Error(), msg == engine.ErrNotRegistered.Error():
		return "not_ready"
	case strings.HasPrefix(msg, "inference error"):
		return "panic"
	default:
		return "other"
	}
}

// ObserveResult records one inference served on surface (http, ws, grpc).
func ObserveResult(surface string, res iface.Result, elapsed time.Duration) {
	RequestsTotal.WithLabelValues(surface).Inc()
	InferenceSeconds.Observe(elapsed.Seconds())
	if res.Failed() {
		InferenceErrors.WithLabelValues(Reason(res.Error)).Inc()
		return
	}
	InferenceTotal.WithLabelValues(res.Emotion).Inc()
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func CheckProcessInfo(p *process.Process) {
	if memInfo, err := p.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples process usage until ctx is
// cancelled.
func StartMon(port int, ctx context.Context) error {
	pid, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("inspect process: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()
	logger.Log().Info("Metrics server listening", zap.Int("port", port))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo(pid)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("prometheus server shutdown: %w", err)
	}
	return nil
}
