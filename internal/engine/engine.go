// Package engine runs continuous capture: a capture session that segments the
// microphone into utterances, a worker per utterance that sends it to the
// recognition backend, and an optional meter that keeps the input level live.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/voicewatch/internal/audio"
	"github.com/petems/voicewatch/internal/metrics"
	"github.com/petems/voicewatch/internal/recognize"
)

// ErrInvalidConfig is returned by New when a required dependency is missing.
var ErrInvalidConfig = errors.New("invalid engine config")

const (
	// MaxGain is the upper bound for manual gain.
	MaxGain = 10.0
	// DefaultLanguage is sent to the backend when none is configured.
	DefaultLanguage = "id-ID"
)

// CaptureConfig tunes the capture session.
type CaptureConfig struct {
	CandidateRates      []int
	TargetRate          int
	CalibrationDuration time.Duration
	IdleTimeout         time.Duration
	MaxPhrase           time.Duration
	Language            string
	RecognitionTimeout  time.Duration
}

// DefaultCaptureConfig returns the stock capture settings.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		CandidateRates:      audio.DefaultCandidateRates,
		TargetRate:          audio.DefaultTargetRate,
		CalibrationDuration: time.Second,
		IdleTimeout:         10 * time.Second,
		MaxPhrase:           5 * time.Second,
		Language:            DefaultLanguage,
		RecognitionTimeout:  30 * time.Second,
	}
}

// MeterConfig controls the level meter.
type MeterConfig struct {
	Enabled     bool
	ReopenDelay time.Duration
}

// Config wires an Engine.
type Config struct {
	Driver       audio.Driver
	Recognizer   recognize.Recognizer
	NewSegmenter SegmenterFactory
	// OnTranscription receives recognized text. It runs on a worker goroutine
	// and should return quickly.
	OnTranscription func(text string)

	Device        *int
	Capture       CaptureConfig
	Recovery      RecoveryPolicy
	Meter         MeterConfig
	Gain          audio.GainSettings
	ShutdownGrace time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Engine owns the capture, meter and recognition goroutines.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	level    audio.Level
	online   atomic.Bool
	state    atomic.Int32
	gain     atomic.Pointer[audio.GainSettings]
	gainMu   sync.Mutex
	devices  *deviceSelector
	recovery *recoveryController
	dispatch *dispatcher
	sleep    func(context.Context, time.Duration) bool
	submit   func(Utterance)

	// seq and epoch outlive restarts so ids stay unique per process.
	seq   atomic.Uint64
	epoch atomic.Uint64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
}

// New validates cfg, fills in defaults and returns a stopped Engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Driver == nil:
		return nil, fmt.Errorf("%w: audio driver is required", ErrInvalidConfig)
	case cfg.Recognizer == nil:
		return nil, fmt.Errorf("%w: recognizer is required", ErrInvalidConfig)
	case cfg.NewSegmenter == nil:
		return nil, fmt.Errorf("%w: segmenter factory is required", ErrInvalidConfig)
	}
	cfg = withDefaults(cfg)

	e := &Engine{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "engine").Logger(),
		metrics:  cfg.Metrics,
		devices:  newDeviceSelector(cfg.Device),
		recovery: newRecoveryController(cfg.Recovery),
		sleep:    sleepCtx,
	}
	gain := cfg.Gain
	gain.ManualGain = clampGain(gain.ManualGain)
	e.gain.Store(&gain)
	e.online.Store(true)

	e.dispatch = &dispatcher{
		recognizer: cfg.Recognizer,
		gain:       e.GainSettings,
		level:      &e.level,
		online:     &e.online,
		onText:     cfg.OnTranscription,
		targetRate: cfg.Capture.TargetRate,
		language:   cfg.Capture.Language,
		timeout:    cfg.Capture.RecognitionTimeout,
		log:        cfg.Logger.With().Str("component", "dispatch").Logger(),
		metrics:    cfg.Metrics,
	}

	e.submit = e.dispatch.Submit

	e.metrics.RegisterLevel(e.Level)
	e.metrics.Online(true)
	return e, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultCaptureConfig()
	c := &cfg.Capture
	if len(c.CandidateRates) == 0 {
		c.CandidateRates = def.CandidateRates
	}
	if c.TargetRate <= 0 {
		c.TargetRate = def.TargetRate
	}
	if c.CalibrationDuration <= 0 {
		c.CalibrationDuration = def.CalibrationDuration
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.MaxPhrase <= 0 {
		c.MaxPhrase = def.MaxPhrase
	}
	if c.Language == "" {
		c.Language = def.Language
	}
	if c.RecognitionTimeout <= 0 {
		c.RecognitionTimeout = def.RecognitionTimeout
	}
	if cfg.Recovery == (RecoveryPolicy{}) {
		cfg.Recovery = DefaultRecoveryPolicy()
	}
	if cfg.Meter.ReopenDelay <= 0 {
		cfg.Meter.ReopenDelay = cfg.Recovery.ReinitDelay
	}
	if cfg.Gain == (audio.GainSettings{}) {
		cfg.Gain = audio.DefaultGainSettings()
	}
	cfg.Gain = cfg.Gain.WithDefaults()
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return cfg
}

// Start launches the capture loop and, when enabled, the meter. Starting a
// running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	capture := &captureSession{
		driver:       e.cfg.Driver,
		newSegmenter: e.cfg.NewSegmenter,
		devices:      e.devices,
		recovery:     e.recovery,
		cfg:          e.cfg.Capture,
		submit:       e.submit,
		seq:          &e.seq,
		epoch:        &e.epoch,
		setState:     e.setState,
		sleep:        e.sleep,
		log:          e.cfg.Logger.With().Str("component", "capture").Logger(),
		metrics:      e.metrics,
	}
	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		capture.run(runCtx)
	}()

	if e.cfg.Meter.Enabled {
		meter := &meterSession{
			driver:  e.cfg.Driver,
			devices: e.devices,
			rates:   e.cfg.Capture.CandidateRates,
			gain:    e.GainSettings,
			level:   &e.level,
			delay:   e.cfg.Meter.ReopenDelay,
			sleep:   e.sleep,
			log:     e.cfg.Logger.With().Str("component", "meter").Logger(),
			metrics: e.metrics,
		}
		e.loops.Add(1)
		go func() {
			defer e.loops.Done()
			meter.run(runCtx)
		}()
	}

	e.log.Info().
		Ints("candidate_rates", e.cfg.Capture.CandidateRates).
		Int("target_rate", e.cfg.Capture.TargetRate).
		Bool("meter", e.cfg.Meter.Enabled).
		Msg("Engine started")
	return nil
}

// Stop cancels the loops, waits for them to close their streams and then
// gives in-flight recognition workers up to the shutdown grace to finish.
// The level drops to zero once the streams are closed.
// Workers still running after that are abandoned and ErrShutdownTimeout is
// returned.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.loops.Wait()
	e.setState(StateStopped)
	e.level.Reset()

	if err := e.dispatch.Wait(ctx, e.cfg.ShutdownGrace); err != nil {
		e.log.Warn().Err(err).Msg("Engine stopped with recognition pending")
		return err
	}
	e.log.Info().Msg("Engine stopped")
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SetGain clamps g to [0, MaxGain] and publishes it for subsequent
// utterances and meter frames. It returns the applied value.
func (e *Engine) SetGain(g float64) float64 {
	g = clampGain(g)
	e.gainMu.Lock()
	defer e.gainMu.Unlock()
	next := *e.gain.Load()
	next.ManualGain = g
	e.gain.Store(&next)
	e.log.Info().Float64("gain", g).Msg("Gain updated")
	return g
}

// SetGainSettings replaces all gain settings at once.
// Zero MaxBoost and MinActiveRMS take their defaults.
func (e *Engine) SetGainSettings(s audio.GainSettings) {
	s = s.WithDefaults()
	s.ManualGain = clampGain(s.ManualGain)
	e.gainMu.Lock()
	defer e.gainMu.Unlock()
	e.gain.Store(&s)
}

// GainSettings returns the current snapshot.
func (e *Engine) GainSettings() audio.GainSettings {
	return *e.gain.Load()
}

// RequestDevice asks both loops to reopen on index, or on the system default
// when index is nil. The switch happens at the next safe point.
func (e *Engine) RequestDevice(index *int) {
	if e.devices.Request(index) {
		e.log.Info().Int("device", indexLabel(index)).Msg("Input device change requested")
	}
}

// Device returns the requested input device, nil for the system default.
func (e *Engine) Device() *int {
	return copyIndex(e.devices.Current().index)
}

// ListDevices returns the input-capable devices.
func (e *Engine) ListDevices() ([]audio.DeviceInfo, error) {
	return e.cfg.Driver.Devices()
}

// Level returns the smoothed input level in [0, 1].
func (e *Engine) Level() float64 {
	return e.level.Value()
}

// Online reports whether the last recognition reached the backend.
func (e *Engine) Online() bool {
	return e.online.Load()
}

// State returns the capture session state.
func (e *Engine) State() CaptureState {
	return CaptureState(e.state.Load())
}

// ConsecutiveFailures returns the capture session's current failure streak.
func (e *Engine) ConsecutiveFailures() int {
	return e.recovery.Failures()
}

// InFlight returns the number of utterances awaiting recognition.
func (e *Engine) InFlight() int {
	return e.dispatch.InFlight()
}

func (e *Engine) setState(s CaptureState) {
	if CaptureState(e.state.Swap(int32(s))) == s {
		return
	}
	e.metrics.StateChanged(s.String(), stateNames)
}

func clampGain(g float64) float64 {
	switch {
	case math.IsNaN(g) || g < 0:
		return 0
	case g > MaxGain:
		return MaxGain
	}
	return g
}
