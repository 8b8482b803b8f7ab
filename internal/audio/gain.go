package audio

import "math"

const fullScale = 32768.0

// Floors applied to GainSettings fields left at zero.
const (
	DefaultMaxBoost     = 20.0
	DefaultMinActiveRMS = 0.001
)

// GainSettings controls the loudness transforms applied before recognition.
// Values are copied around as snapshots; never modify a shared instance.
type GainSettings struct {
	// ManualGain multiplies every sample. 1 disables it.
	ManualGain float64 `json:"manual_gain" yaml:"manual_gain"`
	// TargetLoudnessDBFS is the RMS level quiet utterances are raised to.
	TargetLoudnessDBFS float64 `json:"target_loudness_dbfs" yaml:"target_loudness_dbfs"`
	// MinActiveRMS is the RMS below which a buffer counts as silence.
	MinActiveRMS float64 `json:"minimum_active_rms" yaml:"minimum_active_rms"`
	// MaxBoost caps the normalization multiplier.
	MaxBoost float64 `json:"max_boost" yaml:"max_boost"`
}

// DefaultGainSettings returns the settings used when nothing is configured.
func DefaultGainSettings() GainSettings {
	return GainSettings{
		ManualGain:         1.0,
		TargetLoudnessDBFS: -20.0,
		MinActiveRMS:       DefaultMinActiveRMS,
		MaxBoost:           DefaultMaxBoost,
	}
}

// WithDefaults fills MaxBoost and MinActiveRMS when they are zero or
// negative, so a partially filled value never disables the boost cap.
func (s GainSettings) WithDefaults() GainSettings {
	if s.MaxBoost <= 0 {
		s.MaxBoost = DefaultMaxBoost
	}
	if s.MinActiveRMS <= 0 {
		s.MinActiveRMS = DefaultMinActiveRMS
	}
	return s
}

// ApplyGain multiplies every sample by gain and clips to the int16 range.
func ApplyGain(b Buffer, gain float64) Buffer {
	if gain == 1.0 {
		return b
	}
	if gain < 0 {
		gain = 0
	}
	out := make([]int16, len(b.samples))
	for i, s := range b.samples {
		out[i] = quantize(float64(s) * gain)
	}
	return Buffer{samples: out, rate: b.rate}
}

// Normalize raises quiet speech towards s.TargetLoudnessDBFS.
//
// Buffers below s.MinActiveRMS and buffers already at or above the target
// come back unchanged. The boost never exceeds s.MaxBoost, or
// DefaultMaxBoost when that is unset.
func Normalize(b Buffer, s GainSettings) Buffer {
	s = s.WithDefaults()
	rms := RMS(b.samples)
	if rms < s.MinActiveRMS || rms == 0 {
		return b
	}

	delta := s.TargetLoudnessDBFS - DBFS(rms)
	if delta <= 0 {
		return b
	}

	mult := math.Pow(10, delta/20)
	if mult > s.MaxBoost {
		mult = s.MaxBoost
	}

	out := make([]int16, len(b.samples))
	for i, v := range b.samples {
		x := float64(v) / fullScale * mult
		if x > 1 {
			x = 1
		} else if x < -1 {
			x = -1
		}
		out[i] = int16(x * math.MaxInt16)
	}
	return Buffer{samples: out, rate: b.rate}
}

// DBFS converts a [0, 1] RMS value into decibels relative to full scale.
func DBFS(rms float64) float64 {
	return 20 * math.Log10(rms+1e-10)
}
