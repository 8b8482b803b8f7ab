package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/voicewatch/internal/audio"
	"github.com/petems/voicewatch/internal/config"
	"github.com/petems/voicewatch/internal/engine"
)

// HistorySize is the number of transcripts kept for the tray.
const HistorySize = 20

// Pipeline is the capture engine as the app drives it.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetGain(g float64) float64
	RequestDevice(index *int)
	ListDevices() ([]audio.DeviceInfo, error)
	Level() float64
	Online() bool
	State() engine.CaptureState
}

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetTranscript(text string)
	SetError(msg string)
}

type Config struct {
	Pipeline      Pipeline
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

// Transcript is one recognized utterance.
type Transcript struct {
	Text string
	At   time.Time
}

// Status is a point-in-time view for the tray.
type Status struct {
	Level  float64
	Online bool
	State  engine.CaptureState
	Gain   float64
	Device *int
}

type App struct {
	pipe   Pipeline
	cfg    *config.Config
	log    zerolog.Logger
	status StatusUpdater

	mu      sync.Mutex
	history []Transcript
}

func New(cfg Config) *App {
	return &App{
		pipe:   cfg.Pipeline,
		cfg:    cfg.Config,
		log:    cfg.Logger,
		status: cfg.StatusUpdater,
	}
}

// SetStatusUpdater attaches the tray once it exists.
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

func (a *App) Start(ctx context.Context) error {
	if err := a.pipe.Start(ctx); err != nil {
		a.log.Error().Err(err).Msg("Failed to start listening")
		a.reportError("Failed to start listening")
		return err
	}
	a.log.Info().Msg("Listening")
	return nil
}

// Restart stops and starts the pipeline. Recognitions that outlive the stop
// grace are abandoned.
func (a *App) Restart(ctx context.Context) error {
	a.log.Info().Msg("Restarting listener")
	if err := a.pipe.Stop(ctx); err != nil && !errors.Is(err, engine.ErrShutdownTimeout) {
		return err
	}
	return a.Start(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.pipe.Stop(ctx)
}

// OnTranscription records text and forwards it to the status updater. The
// engine calls it from recognition workers.
func (a *App) OnTranscription(text string) {
	a.mu.Lock()
	a.history = append(a.history, Transcript{Text: text, At: time.Now()})
	if len(a.history) > HistorySize {
		a.history = a.history[len(a.history)-HistorySize:]
	}
	status := a.status
	a.mu.Unlock()

	a.log.Info().Str("text", text).Msg("Transcribed")
	if status != nil {
		status.SetTranscript(text)
	}
}

// LastTranscript returns the newest transcript, if any.
func (a *App) LastTranscript() (Transcript, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) == 0 {
		return Transcript{}, false
	}
	return a.history[len(a.history)-1], true
}

// Transcripts returns the history, oldest first.
func (a *App) Transcripts() []Transcript {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Transcript(nil), a.history...)
}

// Tray actions

func (a *App) SetGain(g float64) error {
	applied := a.pipe.SetGain(g)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Gain.ManualGain = applied
	return a.cfg.Save()
}

func (a *App) SetDevice(index *int) error {
	a.pipe.RequestDevice(index)

	a.mu.Lock()
	defer a.mu.Unlock()
	if index == nil {
		a.cfg.Audio.DeviceIndex = nil
	} else {
		v := *index
		a.cfg.Audio.DeviceIndex = &v
	}
	return a.cfg.Save()
}

func (a *App) ListDevices() ([]audio.DeviceInfo, error) {
	return a.pipe.ListDevices()
}

func (a *App) Status() Status {
	a.mu.Lock()
	gain := a.cfg.Gain.ManualGain
	var device *int
	if a.cfg.Audio.DeviceIndex != nil {
		v := *a.cfg.Audio.DeviceIndex
		device = &v
	}
	a.mu.Unlock()

	return Status{
		Level:  a.pipe.Level(),
		Online: a.pipe.Online(),
		State:  a.pipe.State(),
		Gain:   gain,
		Device: device,
	}
}

func (a *App) reportError(msg string) {
	a.mu.Lock()
	status := a.status
	a.mu.Unlock()
	if status != nil {
		status.SetError(msg)
	}
}
