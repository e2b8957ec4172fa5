package shield

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ---------------------------------------------------------------------------
// Prometheus instruments for the shield engine
// ---------------------------------------------------------------------------

var (
	// threatsEvaluated counts evaluated threats.
	// Labels: type, verdict (blocked, breached, undetected)
	threatsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shieldcore",
		Subsystem: "engine",
		Name:      "threats_evaluated_total",
		Help:      "Threat events evaluated, by type and verdict",
	}, []string{"type", "verdict"})

	// threatsRejected counts events that failed boundary validation.
	threatsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shieldcore",
		Subsystem: "engine",
		Name:      "threats_rejected_total",
		Help:      "Threat events rejected by validation",
	})

	// spikesFired counts spikes. Labels: phase, result (success, failure)
	spikesFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shieldcore",
		Subsystem: "engine",
		Name:      "spikes_fired_total",
		Help:      "Offensive spikes fired, by phase and result",
	}, []string{"phase", "result"})

	rotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shieldcore",
		Subsystem: "engine",
		Name:      "rotations_total",
		Help:      "Frequency rotations performed",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shieldcore",
		Subsystem: "engine",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one engine cycle",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// collaboratorFailures counts sink errors and panics. Labels: sink
	collaboratorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shieldcore",
		Subsystem: "engine",
		Name:      "collaborator_failures_total",
		Help:      "Collaborator sink failures, by sink",
	}, []string{"sink"})

	layerIntegrity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shieldcore",
		Subsystem: "layer",
		Name:      "integrity",
		Help:      "Current layer integrity in [0,1]",
	}, []string{"phase"})

	layerFrequency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shieldcore",
		Subsystem: "layer",
		Name:      "frequency_hz",
		Help:      "Current layer frequency",
	}, []string{"phase"})

	layerBreaches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shieldcore",
		Subsystem: "layer",
		Name:      "breaches",
		Help:      "Breach count per layer",
	}, []string{"phase"})

	overallIntegrity = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shieldcore",
		Subsystem: "engine",
		Name:      "overall_integrity",
		Help:      "Mean layer integrity from the last snapshot",
	})
)

func recordVerdict(t ThreatType, v Verdict) {
	verdict := "undetected"
	switch {
	case v.Blocked:
		verdict = "blocked"
	case v.Detected:
		verdict = "breached"
	}
	threatsEvaluated.WithLabelValues(string(t), verdict).Inc()
}

func recordSpike(s *OffensiveSpike) {
	result := "failure"
	if s.Success {
		result = "success"
	}
	spikesFired.WithLabelValues(string(s.Phase), result).Inc()
}

func recordSnapshot(st ShieldStatus) {
	overallIntegrity.Set(st.OverallIntegrity)
	for _, l := range st.Layers {
		p := string(l.Phase)
		layerIntegrity.WithLabelValues(p).Set(l.Integrity)
		layerFrequency.WithLabelValues(p).Set(l.Frequency)
		layerBreaches.WithLabelValues(p).Set(float64(l.BreachCount))
	}
}
