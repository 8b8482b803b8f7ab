// Package segment splits a live input stream into utterances using an
// adaptive energy threshold.
package segment

import (
	"context"
	"math"
	"time"

	"github.com/petems/voicewatch/internal/audio"
)

// Config tunes the energy segmenter. Energy is the RMS of raw int16 samples.
type Config struct {
	EnergyThreshold     float64
	DynamicEnergy       bool
	DynamicDamping      float64
	DynamicRatio        float64
	PauseThreshold      time.Duration
	PhraseThreshold     time.Duration
	NonSpeakingDuration time.Duration
}

// DefaultConfig mirrors the tuning used for short spoken phrases.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold:     300,
		DynamicEnergy:       true,
		DynamicDamping:      0.15,
		DynamicRatio:        1.5,
		PauseThreshold:      time.Second,
		PhraseThreshold:     100 * time.Millisecond,
		NonSpeakingDuration: 500 * time.Millisecond,
	}
}

// Energy is a single-stream segmenter. It keeps the threshold learned during
// calibration, so build a new one whenever the device is reopened.
type Energy struct {
	cfg       Config
	threshold float64
	out       []int16
}

// New returns an Energy segmenter with cfg.
func New(cfg Config) *Energy {
	return &Energy{cfg: cfg, threshold: cfg.EnergyThreshold}
}

// Threshold returns the current energy threshold.
func (e *Energy) Threshold() float64 {
	return e.threshold
}

// Calibrate samples ambient noise for d and moves the threshold towards it.
func (e *Energy) Calibrate(ctx context.Context, src audio.Stream, d time.Duration) error {
	var elapsed time.Duration
	for elapsed < d {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := src.Read()
		if err != nil {
			return err
		}
		spb := frameDuration(len(frame), src.SampleRate())
		if spb <= 0 {
			continue
		}
		elapsed += spb
		e.adapt(energy(frame), spb)
	}
	return nil
}

// Next blocks until one utterance has been captured.
//
// It returns audio.ErrSegmentTimeout if no speech starts within idle, and
// caps the phrase at maxPhrase. Both are measured in audio time. The returned
// slice is reused by the next call.
func (e *Energy) Next(ctx context.Context, src audio.Stream, idle, maxPhrase time.Duration) ([]int16, error) {
	var elapsed time.Duration
	for {
		frames, err := e.waitForSpeech(ctx, src, idle, &elapsed)
		if err != nil {
			return nil, err
		}

		phraseStart := elapsed
		var pauseCount, phraseCount int
		var spb time.Duration
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			frame, err := src.Read()
			if err != nil {
				return nil, err
			}
			spb = frameDuration(len(frame), src.SampleRate())
			elapsed += spb
			if maxPhrase > 0 && elapsed-phraseStart > maxPhrase {
				break
			}

			frames = append(frames, cloneFrame(frame))
			phraseCount++
			if energy(frame) > e.threshold {
				pauseCount = 0
			} else {
				pauseCount++
			}
			if pauseCount > countFor(e.cfg.PauseThreshold, spb) {
				break
			}
		}

		phraseCount -= pauseCount
		if phraseCount >= countFor(e.cfg.PhraseThreshold, spb) || len(frames) == 0 {
			// Keep NonSpeakingDuration of trailing silence as padding.
			trim := pauseCount - countFor(e.cfg.NonSpeakingDuration, spb)
			for ; trim > 0 && len(frames) > 0; trim-- {
				frames = frames[:len(frames)-1]
			}
			return e.join(frames), nil
		}
	}
}

// waitForSpeech reads until a frame crosses the threshold. The returned
// frames include up to NonSpeakingDuration of lead-in audio.
func (e *Energy) waitForSpeech(ctx context.Context, src audio.Stream, idle time.Duration, elapsed *time.Duration) ([][]int16, error) {
	var frames [][]int16
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if idle > 0 && *elapsed > idle {
			return nil, audio.ErrSegmentTimeout
		}
		frame, err := src.Read()
		if err != nil {
			return nil, err
		}
		spb := frameDuration(len(frame), src.SampleRate())
		*elapsed += spb

		frames = append(frames, cloneFrame(frame))
		if keep := countFor(e.cfg.NonSpeakingDuration, spb); len(frames) > keep {
			frames = frames[len(frames)-keep:]
		}

		en := energy(frame)
		if en > e.threshold {
			return frames, nil
		}
		if e.cfg.DynamicEnergy {
			e.adapt(en, spb)
		}
	}
}

func (e *Energy) adapt(en float64, spb time.Duration) {
	damping := math.Pow(e.cfg.DynamicDamping, spb.Seconds())
	target := en * e.cfg.DynamicRatio
	e.threshold = e.threshold*damping + target*(1-damping)
}

func (e *Energy) join(frames [][]int16) []int16 {
	e.out = e.out[:0]
	for _, f := range frames {
		e.out = append(e.out, f...)
	}
	return e.out
}

func energy(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func frameDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

func countFor(d, spb time.Duration) int {
	if spb <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(spb)))
}

func cloneFrame(frame []int16) []int16 {
	out := make([]int16, len(frame))
	copy(out, frame)
	return out
}
