package shield

// RotationResult reports a layer's signal after one rotation.
type RotationResult struct {
	Phase     Phase   `json:"phase"`
	Frequency float64 `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
}

// rotate advances every layer's frequency and amplitude by the sum of its
// active modulators' deltas. A layer with no active modulator falls back to
// a plain jitter of the given band fraction. Out-of-band results are clamped,
// never wrapped.
func (r *LayerRegistry) rotate(rnd Source, fallbackJitter float64) []RotationResult {
	layers := r.ordered()
	out := make([]RotationResult, 0, len(layers))
	for _, l := range layers {
		freqBand := l.Phase.FrequencyBand()
		ampBand := l.Phase.AmplitudeBand()

		var df, da float64
		modulated := false
		for _, m := range l.Modulators {
			if !m.Active {
				continue
			}
			mf, ma := m.step(rnd, freqBand, ampBand)
			df += mf
			da += ma
			modulated = true
		}
		if !modulated {
			df = (rnd.Float64()*2 - 1) * fallbackJitter * freqBand.Width()
			da = (rnd.Float64()*2 - 1) * fallbackJitter * ampBand.Width()
		}

		l.Frequency = freqBand.Clamp(l.Frequency + df)
		l.Amplitude = ampBand.Clamp(l.Amplitude + da)
		for _, m := range l.Modulators {
			m.bounce(l.Frequency, freqBand)
		}

		out = append(out, RotationResult{
			Phase:     l.Phase,
			Frequency: l.Frequency,
			Amplitude: l.Amplitude,
		})
	}
	return out
}
