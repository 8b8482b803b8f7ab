package audio

import (
	"math"
	"sync/atomic"
)

const (
	// UtteranceSmoothing weights the previous level for utterance updates.
	UtteranceSmoothing = 0.3
	// MeterSmoothing weights the previous level for meter frames.
	MeterSmoothing = 0.5
	// LevelScale maps speech RMS (rarely above 0.2) onto [0, 1].
	LevelScale = 5.0
)

// RMS returns the root-mean-square of samples scaled to [-1, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		x := float64(s) / fullScale
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level is an exponentially smoothed RMS shared between writers on
// different goroutines. The zero value is ready to use.
type Level struct {
	bits atomic.Uint64
}

// Observe folds rms into the level: level = level*alpha + rms*(1-alpha).
func (l *Level) Observe(rms, alpha float64) {
	if math.IsNaN(rms) || rms < 0 {
		return
	}
	for {
		old := l.bits.Load()
		next := math.Float64frombits(old)*alpha + rms*(1-alpha)
		if l.bits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// RMS returns the smoothed, unscaled RMS.
func (l *Level) RMS() float64 {
	return math.Float64frombits(l.bits.Load())
}

// Value returns the level mapped to [0, 1] for display.
func (l *Level) Value() float64 {
	v := l.RMS() * LevelScale
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// Reset zeroes the level.
func (l *Level) Reset() {
	l.bits.Store(0)
}
