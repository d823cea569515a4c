package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PromptHarvester/internal/domain"
)

// Metrics holds the harvester's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	itemsHarvested     *prometheus.CounterVec
	sourcesUnavailable *prometheus.CounterVec
	analyzerFallbacks  prometheus.Counter
	promptsStored      prometheus.Counter
	stageOutcomes      *prometheus.CounterVec
	stageAttempts      *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	runCost            prometheus.Histogram
	runSuccessRate     prometheus.Gauge
	budgetWarnings     prometheus.Counter
}

// New registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		itemsHarvested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prompt_harvester_items_harvested_total",
				Help: "Items returned by each source",
			},
			[]string{"source"},
		),
		sourcesUnavailable: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prompt_harvester_sources_unavailable_total",
				Help: "Collect calls that reported the source as unavailable",
			},
			[]string{"source"},
		),
		analyzerFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prompt_harvester_analyzer_fallbacks_total",
			Help: "Items scored locally because the analyzer was unavailable",
		}),
		promptsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prompt_harvester_prompts_stored_total",
			Help: "Prompt records upserted",
		}),
		stageOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prompt_harvester_stage_outcomes_total",
				Help: "Terminal stage states by stage kind",
			},
			[]string{"kind", "status"},
		),
		stageAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prompt_harvester_stage_attempts_total",
				Help: "Stage execution attempts including retries",
			},
			[]string{"kind"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prompt_harvester_stage_duration_seconds",
				Help:    "Wall time of a stage including backoff",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"kind"},
		),
		runCost: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prompt_harvester_run_cost_usd",
			Help:    "Total cost of an orchestration run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		runSuccessRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prompt_harvester_run_success_rate_percent",
			Help: "Success rate of the latest run",
		}),
		budgetWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prompt_harvester_budget_warnings_total",
			Help: "Runs whose cost passed the configured ceiling",
		}),
	}

	m.registry.MustRegister(
		m.itemsHarvested,
		m.sourcesUnavailable,
		m.analyzerFallbacks,
		m.promptsStored,
		m.stageOutcomes,
		m.stageAttempts,
		m.stageDuration,
		m.runCost,
		m.runSuccessRate,
		m.budgetWarnings,
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SourceCollected records one collect call.
func (m *Metrics) SourceCollected(source string, items int, unavailable bool) {
	m.itemsHarvested.WithLabelValues(source).Add(float64(items))
	if unavailable {
		m.sourcesUnavailable.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) AnalyzerFallback() {
	m.analyzerFallbacks.Inc()
}

func (m *Metrics) PromptsStored(n int) {
	m.promptsStored.Add(float64(n))
}

// StageFinished records a terminal stage record.
func (m *Metrics) StageFinished(rec domain.StageExecutionRecord) {
	m.stageOutcomes.WithLabelValues(rec.Kind, string(rec.Status)).Inc()
	if rec.Attempts > 0 {
		m.stageAttempts.WithLabelValues(rec.Kind).Add(float64(rec.Attempts))
		m.stageDuration.WithLabelValues(rec.Kind).Observe(rec.ElapsedSeconds)
	}
}

func (m *Metrics) BudgetExceeded() {
	m.budgetWarnings.Inc()
}

// RunFinished records run totals.
func (m *Metrics) RunFinished(run domain.OrchestrationRun) {
	m.runCost.Observe(run.TotalCostUSD)
	m.runSuccessRate.Set(run.SuccessRatePercent)
}
