package shield

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource always returns the same draw.
type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func TestBand_Clamp(t *testing.T) {
	b := Band{Min: 10, Max: 20}
	assert.Equal(t, 10.0, b.Clamp(-5))
	assert.Equal(t, 20.0, b.Clamp(25))
	assert.Equal(t, 15.0, b.Clamp(15))
	assert.Equal(t, 15.0, b.Clamp(math.NaN()))
	assert.Equal(t, 10.0, b.Width())
}

func TestRotate_DriftBouncesAtEdge(t *testing.T) {
	r := newLayerRegistry()
	r.ensurePhases()
	omega, _ := r.get(PhaseOmega)
	omega.Modulators = []*Modulator{{Kind: ModulationDrift, FrequencyShift: 1, AmplitudeShift: 1, Direction: 1, Active: true}}

	// A full-width drift at draw 1 pins the layer to the top of its band.
	r.rotate(fixedSource(1), 0)
	assert.Equal(t, PhaseOmega.FrequencyBand().Max, omega.Frequency)
	assert.Equal(t, -1, omega.Modulators[0].Direction)

	r.rotate(fixedSource(1), 0)
	assert.Equal(t, PhaseOmega.FrequencyBand().Min, omega.Frequency)
	assert.Equal(t, 1, omega.Modulators[0].Direction)
}

func TestRotate_InactiveModulatorsFallBackToJitter(t *testing.T) {
	r := newLayerRegistry()
	r.ensurePhases()
	r.ensureDefaultModulators()
	for _, l := range r.ordered() {
		for _, m := range l.Modulators {
			m.Active = false
		}
	}
	alpha, _ := r.get(PhaseAlpha)
	start := alpha.Frequency

	// Draw 1 maps to the full positive jitter.
	res := r.rotate(fixedSource(1), 0.1)
	require.Len(t, res, 7)
	assert.InDelta(t, start+0.1*PhaseAlpha.FrequencyBand().Width(), alpha.Frequency, 1e-9)
}

func TestAddModulator_Validation(t *testing.T) {
	r := newLayerRegistry()
	r.ensurePhases()

	_, err := r.addModulator(PhaseAlpha, Modulator{Kind: ModulationJitter, FrequencyShift: 2})
	assert.ErrorIs(t, err, ErrInvalidModulator)

	m, err := r.addModulator(PhaseAlpha, Modulator{Kind: ModulationDrift, FrequencyShift: 0.1, AmplitudeShift: 0.1, Active: true})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Direction)
	assert.NotEmpty(t, m.ID)

	again, err := r.addModulator(PhaseAlpha, Modulator{Kind: ModulationDrift, FrequencyShift: 0.5})
	require.NoError(t, err)
	assert.Same(t, m, again)
}
