package shield

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spikeLayers(t *testing.T) *LayerRegistry {
	t.Helper()
	r := newLayerRegistry()
	r.ensurePhases()
	r.ensureDefaultEmitters(1)
	return r
}

func TestSpikeSuccessProbability(t *testing.T) {
	assert.InDelta(t, 0.5, SpikeSuccessProbability(1, 1), 1e-12)
	assert.InDelta(t, 0.6, SpikeSuccessProbability(1.5, 1), 1e-12)
	assert.Zero(t, SpikeSuccessProbability(0, 1))
	assert.Equal(t, 1.0, SpikeSuccessProbability(2, 0))
	assert.Greater(t, SpikeSuccessProbability(3, 1), SpikeSuccessProbability(2, 1))
}

func TestFindTrigger_UnblockedSevereThreat(t *testing.T) {
	r := spikeLayers(t)
	cfg := DefaultSpikeConfig()

	low := []EvaluatedThreat{{ThreatEvent: ThreatEvent{Type: ThreatMalware, Level: LevelMedium}, Detected: true}}
	_, ok := findTrigger(cfg, low, r.ordered(), map[Phase]int{})
	assert.False(t, ok, "medium threat should not trigger at min level high")

	blocked := []EvaluatedThreat{{ThreatEvent: ThreatEvent{Type: ThreatMalware, Level: LevelCritical}, Detected: true, Blocked: true}}
	_, ok = findTrigger(cfg, blocked, r.ordered(), map[Phase]int{})
	assert.False(t, ok, "blocked threats never trigger")

	severe := []EvaluatedThreat{{ThreatEvent: ThreatEvent{Type: ThreatMalware, Level: LevelHigh}}}
	trig, ok := findTrigger(cfg, severe, r.ordered(), map[Phase]int{})
	require.True(t, ok)
	assert.Equal(t, "unblocked_high", trig.reason)
	assert.Equal(t, ThreatMalware, trig.target)
}

func TestFindTrigger_BreachThreshold(t *testing.T) {
	r := spikeLayers(t)
	cfg := DefaultSpikeConfig()
	delta, _ := r.get(PhaseDelta)

	delta.BreachCount = 4
	_, ok := findTrigger(cfg, nil, r.ordered(), map[Phase]int{PhaseDelta: 3})
	assert.False(t, ok)

	delta.BreachCount = 5
	trig, ok := findTrigger(cfg, nil, r.ordered(), map[Phase]int{PhaseDelta: 4})
	require.True(t, ok)
	assert.Equal(t, "breach_threshold:delta", trig.reason)

	delta.BreachCount = 7
	_, ok = findTrigger(cfg, nil, r.ordered(), map[Phase]int{PhaseDelta: 5})
	assert.False(t, ok, "already past the threshold")

	cfg.BreachThreshold = 0
	delta.BreachCount = 10
	_, ok = findTrigger(cfg, nil, r.ordered(), map[Phase]int{PhaseDelta: 9})
	assert.False(t, ok)
}

func TestMaybeFireSpike_PicksCoveringEmitter(t *testing.T) {
	r := spikeLayers(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evaluated := []EvaluatedThreat{{ThreatEvent: ThreatEvent{Type: ThreatDataExfiltration, Level: LevelCritical}}}

	spike := maybeFireSpike(DefaultSpikeConfig(), evaluated, r.ordered(), nil, NewSeededSource(3), now)
	require.NotNil(t, spike)
	// Omega's offensive emitter covers everything at 1.5x power.
	assert.Equal(t, PhaseOmega, spike.Phase)
	assert.Equal(t, EmissionOffensive, spike.Type)
	assert.Equal(t, "omega offensive pulse", spike.Name)
	assert.Equal(t, "unblocked_critical", spike.Trigger)
	assert.Equal(t, ThreatDataExfiltration, spike.Target)
	assert.InDelta(t, 0.6, spike.Probability, 1e-12)
	assert.Equal(t, now, spike.Timestamp)
	assert.NotEmpty(t, spike.ID)

	omega, _ := r.get(PhaseOmega)
	em := omega.findEmitter(spike.EmitterID)
	require.NotNil(t, em)
	assert.Equal(t, 1, em.EmissionCount)
}

func TestMaybeFireSpike_FallsBackToAnyActive(t *testing.T) {
	r := spikeLayers(t)
	omega, _ := r.get(PhaseOmega)
	for _, e := range omega.Emitters {
		e.Active = false
	}
	evaluated := []EvaluatedThreat{{ThreatEvent: ThreatEvent{Type: ThreatAPIAbuse, Level: LevelHigh}}}

	spike := maybeFireSpike(DefaultSpikeConfig(), evaluated, r.ordered(), nil, NewSeededSource(3), time.Now())
	require.NotNil(t, spike)
	assert.Contains(t, []EmissionType{EmissionOffensive, EmissionCountermeasure}, spike.Type)
	assert.NotEqual(t, PhaseOmega, spike.Phase)
}

func TestMaybeFireSpike_DisabledOrUnarmed(t *testing.T) {
	r := spikeLayers(t)
	evaluated := []EvaluatedThreat{{ThreatEvent: ThreatEvent{Type: ThreatSpam, Level: LevelCritical}}}

	cfg := DefaultSpikeConfig()
	cfg.Enabled = false
	assert.Nil(t, maybeFireSpike(cfg, evaluated, r.ordered(), nil, NewSeededSource(1), time.Now()))

	for _, l := range r.ordered() {
		for _, e := range l.Emitters {
			e.Active = false
		}
	}
	assert.Nil(t, maybeFireSpike(DefaultSpikeConfig(), evaluated, r.ordered(), nil, NewSeededSource(1), time.Now()))
}
