package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/3leaps/bamverify/pkg/artifact"
	"github.com/3leaps/bamverify/pkg/job"
)

// JobMetrics collects one job's metrics in a private registry. A job is a
// short-lived process, so metrics are dumped once at the end rather than
// scraped.
type JobMetrics struct {
	job.NopObserver

	Registry *prometheus.Registry

	stageDuration     *prometheus.GaugeVec
	inputBytes        prometheus.Gauge
	artifactsUploaded prometheus.Counter
	success           prometheus.Gauge
}

// NewJobMetrics registers the job metrics on a fresh registry.
func NewJobMetrics() *JobMetrics {
	m := &JobMetrics{
		Registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bamverify_stage_duration_seconds",
			Help: "Wall time spent in each job stage.",
		}, []string{"stage", "status"}),
		inputBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bamverify_input_bytes",
			Help: "Combined size of the vcf, bam and bai inputs declared to the host.",
		}),
		artifactsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bamverify_artifacts_uploaded_total",
			Help: "Result files uploaded to the results prefix.",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bamverify_job_success",
			Help: "1 if every stage including release succeeded, else 0.",
		}),
	}
	m.Registry.MustRegister(m.stageDuration, m.inputBytes, m.artifactsUploaded, m.success)
	return m
}

func (m *JobMetrics) StageCompleted(_ context.Context, ev job.StageEvent) {
	m.stageDuration.WithLabelValues(string(ev.Stage), "completed").Set(ev.Duration.Seconds())
	if ev.Stage == job.StateSizeComputed {
		if n, ok := ev.Detail["total_size"].(int64); ok {
			m.inputBytes.Set(float64(n))
		}
	}
}

func (m *JobMetrics) StageFailed(_ context.Context, ev job.StageEvent) {
	m.stageDuration.WithLabelValues(string(ev.Stage), "failed").Set(ev.Duration.Seconds())
}

func (m *JobMetrics) ArtifactUploaded(context.Context, string, artifact.Uploaded) {
	m.artifactsUploaded.Inc()
}

func (m *JobMetrics) JobFinished(_ context.Context, sum *job.Summary) {
	if sum.Success() {
		m.success.Set(1)
	} else {
		m.success.Set(0)
	}
}

// WriteTextfile writes the registry in text exposition format for the
// node-exporter textfile collector. An empty path is a no-op.
func (m *JobMetrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

var _ job.Observer = (*JobMetrics)(nil)
