// Package metrics exposes prometheus metrics of serving and retraining.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opst/mlserve/pkg/domain"
	"github.com/opst/mlserve/pkg/retrain"
)

const namespace = "mlserve"

type Metrics struct {
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	challengerRMSE prometheus.Gauge
	incumbentRMSE  prometheus.Gauge
	servingVersion *prometheus.GaugeVec
	state          *prometheus.GaugeVec
	predictions    *prometheus.CounterVec
	feedback       *prometheus.CounterVec
}

// New creates metrics and registers them into reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retrain",
			Name: "cycles_total",
			Help: "Retraining cycles by outcome",
		}, []string{"model", "outcome", "error_kind"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retrain",
			Name:    "cycle_duration_seconds",
			Help:    "Duration of retraining cycles which trained a challenger",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		challengerRMSE: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "retrain",
			Name: "challenger_rmse",
			Help: "RMSE of the last challenger on the test partition",
		}),
		incumbentRMSE: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "retrain",
			Name: "incumbent_rmse",
			Help: "RMSE of the last incumbent on the test partition",
		}),
		servingVersion: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_version",
			Help:      "Model version which the alias points",
		}, []string{"model", "alias"}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "retrain",
			Name: "state",
			Help: "1 for the current state of the retraining cycle",
		}, []string{"state"}),
		predictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Prediction requests by result",
		}, []string{"result"}),
		feedback: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_total",
			Help:      "Feedback submissions by result",
		}, []string{"result"}),
	}
}

// Observe records the outcome of a retraining cycle.
func (m *Metrics) Observe(o retrain.Outcome) {
	m.cycles.WithLabelValues(o.ModelName, string(o.Kind), o.ErrorKind).Inc()

	if o.ChallengerRMSE != nil {
		m.challengerRMSE.Set(*o.ChallengerRMSE)
		if !o.StartedAt.IsZero() && !o.FinishedAt.IsZero() {
			m.cycleDuration.Observe(o.FinishedAt.Sub(o.StartedAt).Seconds())
		}
	}
	if o.IncumbentRMSE != nil {
		m.incumbentRMSE.Set(*o.IncumbentRMSE)
	}
	if o.Kind == retrain.KindPromoted {
		m.servingVersion.WithLabelValues(o.ModelName, o.Alias).Set(float64(o.Version))
	} else if o.IncumbentVersion != 0 {
		m.servingVersion.WithLabelValues(o.ModelName, o.Alias).Set(float64(o.IncumbentVersion))
	}
}

// Observer tracks the current state of retraining cycles.
func (m *Metrics) Observer() retrain.Observer {
	return func(from, to retrain.State, _ retrain.Outcome) {
		m.state.WithLabelValues(from.String()).Set(0)
		m.state.WithLabelValues(to.String()).Set(1)
	}
}

// Served records a served model version.
func (m *Metrics) Served(mv domain.ModelVersion, alias string) {
	m.predictions.WithLabelValues("ok").Inc()
	m.servingVersion.WithLabelValues(mv.Name, alias).Set(float64(mv.Version))
}

func (m *Metrics) PredictionFailed() {
	m.predictions.WithLabelValues("error").Inc()
}

// Feedback records a feedback submission. result is like "ok", "not-found" or "error".
func (m *Metrics) Feedback(result string) {
	m.feedback.WithLabelValues(result).Inc()
}
