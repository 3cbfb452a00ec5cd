// Package metrics exposes scan and pipeline activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rigflip/models"
	"rigflip/pipeline"
	"rigflip/scheduler"
)

// Collector turns scheduler and pipeline bus events into metrics.
type Collector struct {
	sessions     *prometheus.CounterVec
	jobs         *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	activeJobs   prometheus.Gauge
	paused       prometheus.Gauge
	dealsAdded   prometheus.Counter
	transitions  *prometheus.CounterVec
	dealsByStage *prometheus.GaugeVec
	invested     prometheus.Gauge
	revenue      prometheus.Gauge
	successRate  prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector registers every metric with reg. reg must also be a
// Gatherer for Handler to serve it; *prometheus.Registry is both.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rigflip_scan_sessions_total",
			Help: "Scan sessions by outcome",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rigflip_scan_jobs_total",
			Help: "Finished scan jobs by status",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rigflip_scan_job_duration_seconds",
			Help:    "Time from dispatch to completion of a scan job",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rigflip_scan_active_jobs",
			Help: "Scan jobs currently running in a worker",
		}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rigflip_scan_paused",
			Help: "1 while dispatch is paused",
		}),
		dealsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rigflip_pipeline_deals_added_total",
			Help: "Deals added to the pipeline",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rigflip_pipeline_transitions_total",
			Help: "Stage transitions by source and target stage",
		}, []string{"from", "to"}),
		dealsByStage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rigflip_pipeline_deals",
			Help: "Tracked deals per stage",
		}, []string{"stage"}),
		invested: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rigflip_pipeline_invested_dollars",
			Help: "Total cost basis of tracked deals",
		}),
		revenue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rigflip_pipeline_revenue_dollars",
			Help: "Total revenue of tracked deals",
		}),
		successRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rigflip_pipeline_success_rate",
			Help: "Fraction of tracked deals that sold",
		}),
	}

	reg.MustRegister(
		c.sessions, c.jobs, c.jobDuration, c.activeJobs, c.paused,
		c.dealsAdded, c.transitions, c.dealsByStage,
		c.invested, c.revenue, c.successRate,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	} else {
		c.gatherer = prometheus.DefaultGatherer
	}
	return c
}

// ObserveScheduler is a scheduler bus listener.
func (c *Collector) ObserveScheduler(e scheduler.Event) {
	switch e.Type {
	case scheduler.EventJobStarted:
		c.activeJobs.Inc()
	case scheduler.EventJobCompleted, scheduler.EventJobFailed:
		c.activeJobs.Dec()
		if e.Job == nil {
			return
		}
		c.jobs.WithLabelValues(string(e.Job.Status)).Inc()
		if e.Job.StartedAt != nil && e.Job.CompletedAt != nil {
			c.jobDuration.Observe(e.Job.CompletedAt.Sub(*e.Job.StartedAt).Seconds())
		}
	case scheduler.EventSessionPaused:
		c.paused.Set(1)
	case scheduler.EventSessionResumed:
		c.paused.Set(0)
	case scheduler.EventSessionCompleted:
		c.sessions.WithLabelValues("completed").Inc()
		c.activeJobs.Set(0)
		c.paused.Set(0)
	case scheduler.EventSessionStopped:
		c.sessions.WithLabelValues("stopped").Inc()
		c.activeJobs.Set(0)
		c.paused.Set(0)
	}
}

// ObservePipeline is a pipeline bus listener.
func (c *Collector) ObservePipeline(e pipeline.Event) {
	switch e.Type {
	case pipeline.EventDealAdded:
		c.dealsAdded.Inc()
		c.dealsByStage.WithLabelValues(string(e.To)).Inc()
	case pipeline.EventStageChanged:
		c.transitions.WithLabelValues(string(e.From), string(e.To)).Inc()
		if e.From != e.To {
			c.dealsByStage.WithLabelValues(string(e.From)).Dec()
			c.dealsByStage.WithLabelValues(string(e.To)).Inc()
		}
	}
}

// SetPipelineStats resets the per-stage gauges and totals from a full
// recompute. The event-driven gauges drift after a restart until this runs.
func (c *Collector) SetPipelineStats(st pipeline.PipelineStats) {
	for _, stage := range models.Stages {
		c.dealsByStage.WithLabelValues(string(stage)).Set(float64(st.ByStage[stage]))
	}
	c.invested.Set(st.TotalInvested)
	c.revenue.Set(st.TotalRevenue)
	c.successRate.Set(st.SuccessRate)
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
