package segment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petems/voicewatch/internal/audio"
)

const (
	testRate  = 16000
	frameSize = 160 // 10ms
)

// scriptStream plays amplitude(frameIndex) as a square wave, reusing one
// buffer like a real driver does.
type scriptStream struct {
	amplitude func(frame int) int16
	frame     int
	buf       []int16
	failAt    int
}

func newScriptStream(amplitude func(frame int) int16) *scriptStream {
	return &scriptStream{amplitude: amplitude, buf: make([]int16, frameSize), failAt: -1}
}

func (s *scriptStream) Read() ([]int16, error) {
	if s.frame == s.failAt {
		return nil, errors.New("device error")
	}
	a := s.amplitude(s.frame)
	for i := range s.buf {
		if i%2 == 0 {
			s.buf[i] = a
		} else {
			s.buf[i] = -a
		}
	}
	s.frame++
	return s.buf, nil
}

func (s *scriptStream) SampleRate() int { return testRate }
func (s *scriptStream) Close() error    { return nil }

func TestNextCapturesUtteranceWithPadding(t *testing.T) {
	// 30 frames silence, 100 frames speech, then silence.
	src := newScriptStream(func(f int) int16 {
		if f >= 30 && f < 130 {
			return 5000
		}
		return 0
	})
	seg := New(DefaultConfig())

	got, err := seg.Next(context.Background(), src, 10*time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}

	// Lead-in of 30 silent frames plus first loud frame, 99 more loud frames,
	// then 0.5s of trailing padding.
	expected := (31 + 99 + 50) * frameSize
	if len(got) != expected {
		t.Fatalf("expected %d samples, got %d", expected, len(got))
	}
	if got[30*frameSize] != 5000 {
		t.Fatalf("expected speech to start after lead-in, got %d", got[30*frameSize])
	}
	if got[len(got)-1] != 0 {
		t.Fatal("expected trailing padding to be silence")
	}
}

func TestNextTimesOutOnSilence(t *testing.T) {
	src := newScriptStream(func(int) int16 { return 0 })
	seg := New(DefaultConfig())

	_, err := seg.Next(context.Background(), src, time.Second, 5*time.Second)
	if !errors.Is(err, audio.ErrSegmentTimeout) {
		t.Fatalf("expected ErrSegmentTimeout, got %v", err)
	}
	if src.frame > 110 {
		t.Fatalf("expected to stop shortly after 1s of audio, read %d frames", src.frame)
	}
}

func TestNextCapsPhraseLength(t *testing.T) {
	src := newScriptStream(func(int) int16 { return 4000 })
	seg := New(DefaultConfig())

	got, err := seg.Next(context.Background(), src, 10*time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	maxSamples := int(2.1 * testRate)
	if len(got) > maxSamples {
		t.Fatalf("expected at most %d samples, got %d", maxSamples, len(got))
	}
	if len(got) < 2*testRate {
		t.Fatalf("expected about 2s of audio, got %d samples", len(got))
	}
}

func TestNextDiscardsTooShortBursts(t *testing.T) {
	// A single 10ms click, then a real phrase starting at frame 200.
	src := newScriptStream(func(f int) int16 {
		switch {
		case f == 10:
			return 6000
		case f >= 200 && f < 260:
			return 6000
		}
		return 0
	})
	seg := New(DefaultConfig())

	got, err := seg.Next(context.Background(), src, 30*time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	loud := 0
	for i := 0; i < len(got); i += frameSize {
		if got[i] == 6000 {
			loud++
		}
	}
	if loud != 60 {
		t.Fatalf("expected only the 60-frame phrase, got %d loud frames", loud)
	}
}

func TestNextPropagatesDeviceErrors(t *testing.T) {
	src := newScriptStream(func(int) int16 { return 0 })
	src.failAt = 5
	seg := New(DefaultConfig())

	_, err := seg.Next(context.Background(), src, 10*time.Second, 5*time.Second)
	if err == nil || errors.Is(err, audio.ErrSegmentTimeout) {
		t.Fatalf("expected device error, got %v", err)
	}
}

func TestNextStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(DefaultConfig()).Next(ctx, newScriptStream(func(int) int16 { return 0 }), 0, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCalibrateRaisesThresholdForNoisyRoom(t *testing.T) {
	src := newScriptStream(func(int) int16 { return 1000 })
	seg := New(DefaultConfig())

	if err := seg.Calibrate(context.Background(), src, time.Second); err != nil {
		t.Fatalf("calibrate failed: %v", err)
	}
	if seg.Threshold() <= 1000 {
		t.Fatalf("expected threshold above ambient energy, got %.0f", seg.Threshold())
	}
	if src.frame != 100 {
		t.Fatalf("expected 1s of frames, read %d", src.frame)
	}
}
