package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/petems/voicewatch/internal/audio"
	"github.com/petems/voicewatch/internal/recognize"
)

func newTestDispatcher(rec recognize.Recognizer, gain audio.GainSettings, onText func(string)) *dispatcher {
	d := &dispatcher{
		recognizer: rec,
		gain:       func() audio.GainSettings { return gain },
		level:      &audio.Level{},
		online:     &atomic.Bool{},
		onText:     onText,
		targetRate: 16000,
		language:   DefaultLanguage,
		timeout:    time.Second,
		log:        zerolog.Nop(),
	}
	d.online.Store(true)
	return d
}

func utterance(seq uint64, samples []int16, rate int) Utterance {
	return Utterance{
		ID:         uuid.NewString(),
		Seq:        seq,
		CapturedAt: time.Now(),
		Audio:      audio.Detach(samples, rate),
	}
}

func runOne(t *testing.T, d *dispatcher, u Utterance) {
	t.Helper()
	d.Submit(u)
	if err := d.Wait(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestDispatcherOnlineFlag(t *testing.T) {
	rec := &fakeRecognizer{results: []fakeResult{
		{err: fmt.Errorf("%w: connection refused", recognize.ErrBackendUnavailable)},
		{res: recognize.Result{Text: "selamat pagi"}},
	}}
	d := newTestDispatcher(rec, audio.DefaultGainSettings(), nil)

	runOne(t, d, utterance(1, tone(1600, 16000, 2000), 16000))
	if d.online.Load() {
		t.Fatal("online after backend became unavailable")
	}
	runOne(t, d, utterance(2, tone(1600, 16000, 2000), 16000))
	if !d.online.Load() {
		t.Fatal("offline after a successful recognition")
	}
}

func TestDispatcherDropsEmptyResults(t *testing.T) {
	rec := &fakeRecognizer{results: []fakeResult{
		{err: recognize.ErrNoSpeech},
		{err: fmt.Errorf("%w: confidence 0.1", recognize.ErrUnrecognized)},
		{res: recognize.Result{Text: "   "}},
	}}
	var calls atomic.Int32
	d := newTestDispatcher(rec, audio.DefaultGainSettings(), func(string) { calls.Add(1) })

	for i := uint64(1); i <= 3; i++ {
		runOne(t, d, utterance(i, tone(1600, 16000, 2000), 16000))
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("callback called %d times, want 0", n)
	}
	if !d.online.Load() {
		t.Error("no-speech results should not mark the backend offline")
	}
}

func TestDispatcherRecoversCallbackPanic(t *testing.T) {
	var calls atomic.Int32
	d := newTestDispatcher(&fakeRecognizer{}, audio.DefaultGainSettings(), func(string) {
		calls.Add(1)
		panic("consumer bug")
	})

	runOne(t, d, utterance(1, tone(1600, 16000, 2000), 16000))
	runOne(t, d, utterance(2, tone(1600, 16000, 2000), 16000))
	if n := calls.Load(); n != 2 {
		t.Errorf("callback called %d times, want 2", n)
	}
	if n := d.InFlight(); n != 0 {
		t.Errorf("InFlight() = %d, want 0", n)
	}
}

func TestDispatcherAppliesGainSnapshot(t *testing.T) {
	rec := &fakeRecognizer{}
	gain := audio.DefaultGainSettings()
	gain.ManualGain = 0
	d := newTestDispatcher(rec, gain, nil)

	runOne(t, d, utterance(1, tone(4800, 48000, 8000), 48000))

	req := rec.Requests()[0]
	if req.Audio.SampleRate() != 16000 || req.Audio.Len() != 1600 {
		t.Fatalf("audio = %d samples at %d Hz", req.Audio.Len(), req.Audio.SampleRate())
	}
	for i, s := range req.Audio.Samples() {
		if s != 0 {
			t.Fatalf("sample %d = %d, want silence at zero gain", i, s)
		}
	}
	if d.level.RMS() != 0 {
		t.Errorf("level = %v, want 0", d.level.RMS())
	}
}

func TestDispatcherUpdatesLevel(t *testing.T) {
	d := newTestDispatcher(&fakeRecognizer{}, audio.DefaultGainSettings(), nil)
	runOne(t, d, utterance(1, tone(1600, 16000, 3000), 16000))
	if d.level.Value() <= 0 {
		t.Errorf("level = %v, want > 0", d.level.Value())
	}
}
