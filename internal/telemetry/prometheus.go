package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "transitx"

// Collectors holds the Prometheus instruments for the pipeline and the
// prediction path. A nil *Collectors is valid and records nothing.
type Collectors struct {
	Registry *prometheus.Registry

	StageRuns     *prometheus.CounterVec   // labels: stage, outcome={success,error}
	StageDuration *prometheus.HistogramVec // labels: stage
	StageRows     *prometheus.CounterVec   // labels: stage, result={kept,dropped}

	Predictions      *prometheus.CounterVec // labels: outcome={on_time,delayed,error}
	PredictedDelay   prometheus.Histogram
	UnseenCategories *prometheus.CounterVec // labels: column
	WeatherLookups   *prometheus.CounterVec // labels: source, result={hit,miss,error}

	ModelMetric *prometheus.GaugeVec // labels: model, metric
}

// NewCollectors creates collectors on a fresh registry, so repeated calls
// never collide.
func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		Registry: reg,
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_runs_total",
			Help:      "Pipeline stage executions by outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Wall time of a pipeline stage.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"stage"}),
		StageRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_rows_total",
			Help:      "Rows handled by a stage, kept or dropped.",
		}, []string{"stage", "result"}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Delay predictions by outcome.",
		}, []string{"outcome"}),
		PredictedDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predicted_delay_minutes",
			Help:      "Distribution of predicted delays.",
			Buckets:   []float64{0, 1, 3, 5, 10, 15, 20, 30, 45, 60, 120},
		}),
		UnseenCategories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unseen_category_total",
			Help:      "Values encoded with the Unknown code, by column.",
		}, []string{"column"}),
		WeatherLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_lookups_total",
			Help:      "Weather resolutions by source and cache result.",
		}, []string{"source", "result"}),
		ModelMetric: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_evaluation",
			Help:      "Holdout evaluation metrics of the last trained models.",
		}, []string{"model", "metric"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.StageRuns,
		c.StageDuration,
		c.StageRows,
		c.Predictions,
		c.PredictedDelay,
		c.UnseenCategories,
		c.WeatherLookups,
		c.ModelMetric,
	)
	return c
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}

// ObserveStage records one stage execution.
func (c *Collectors) ObserveStage(stage string, d time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.StageRuns.WithLabelValues(stage, outcome).Inc()
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRows records kept and dropped row counts for a stage.
func (c *Collectors) ObserveRows(stage string, kept, dropped int) {
	if c == nil {
		return
	}
	c.StageRows.WithLabelValues(stage, "kept").Add(float64(kept))
	c.StageRows.WithLabelValues(stage, "dropped").Add(float64(dropped))
}

// ObservePrediction records a served prediction.
func (c *Collectors) ObservePrediction(minutes int, delayed bool) {
	if c == nil {
		return
	}
	outcome := "on_time"
	if delayed {
		outcome = "delayed"
	}
	c.Predictions.WithLabelValues(outcome).Inc()
	c.PredictedDelay.Observe(float64(minutes))
}

// ObservePredictionError records a prediction that could not be served.
func (c *Collectors) ObservePredictionError() {
	if c == nil {
		return
	}
	c.Predictions.WithLabelValues("error").Inc()
}

// ObserveUnseen records an Unknown encoding for column.
func (c *Collectors) ObserveUnseen(column string) {
	if c == nil {
		return
	}
	c.UnseenCategories.WithLabelValues(column).Inc()
}

// ObserveWeather records a weather lookup.
func (c *Collectors) ObserveWeather(source, result string) {
	if c == nil {
		return
	}
	c.WeatherLookups.WithLabelValues(source, result).Inc()
}

// SetModelMetric publishes an evaluation metric of a trained model.
func (c *Collectors) SetModelMetric(model, metric string, v float64) {
	if c == nil {
		return
	}
	c.ModelMetric.WithLabelValues(model, metric).Set(v)
}
