package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/petems/voicewatch/internal/audio"
	"github.com/petems/voicewatch/internal/engine"
	"github.com/petems/voicewatch/internal/recognize"
	"github.com/petems/voicewatch/internal/segment"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Environment overrides, read after the optional .env file.
const (
	EnvAPIKey   = "VOICEWATCH_API_KEY"
	EnvEndpoint = "VOICEWATCH_ENDPOINT"
	EnvLanguage = "VOICEWATCH_LANGUAGE"
	EnvLogLevel = "VOICEWATCH_LOG_LEVEL"
)

type Config struct {
	Audio            AudioConfig        `json:"audio" yaml:"audio"`
	Gain             audio.GainSettings `json:"gain" yaml:"gain"`
	Segmenter        SegmenterConfig    `json:"segmenter" yaml:"segmenter"`
	Recovery         RecoveryConfig     `json:"recovery" yaml:"recovery"`
	Meter            MeterConfig        `json:"meter" yaml:"meter"`
	Recognizer       RecognizerConfig   `json:"recognizer" yaml:"recognizer"`
	Metrics          MetricsConfig      `json:"metrics" yaml:"metrics"`
	ShutdownGraceSec float64            `json:"shutdown_grace_sec" yaml:"shutdown_grace_sec"`
	LogLevel         string             `json:"log_level" yaml:"log_level"`

	path string
}

type AudioConfig struct {
	// DeviceIndex selects an input device; nil means the system default.
	DeviceIndex     *int    `json:"device_index,omitempty" yaml:"device_index,omitempty"`
	CandidateRates  []int   `json:"candidate_rates" yaml:"candidate_rates"`
	TargetRate      int     `json:"target_rate" yaml:"target_rate"`
	FramesPerBuffer int     `json:"frames_per_buffer" yaml:"frames_per_buffer"`
	CalibrationSec  float64 `json:"calibration_sec" yaml:"calibration_sec"`
	IdleTimeoutSec  float64 `json:"idle_timeout_sec" yaml:"idle_timeout_sec"`
	MaxPhraseSec    float64 `json:"max_phrase_sec" yaml:"max_phrase_sec"`
}

type SegmenterConfig struct {
	EnergyThreshold float64 `json:"energy_threshold" yaml:"energy_threshold"`
	DynamicEnergy   bool    `json:"dynamic_energy" yaml:"dynamic_energy"`
	DynamicDamping  float64 `json:"dynamic_damping" yaml:"dynamic_damping"`
	DynamicRatio    float64 `json:"dynamic_ratio" yaml:"dynamic_ratio"`
	PauseSec        float64 `json:"pause_sec" yaml:"pause_sec"`
	PhraseSec       float64 `json:"phrase_sec" yaml:"phrase_sec"`
	NonSpeakingSec  float64 `json:"non_speaking_sec" yaml:"non_speaking_sec"`
}

type RecoveryConfig struct {
	ReinitDelaySec    float64 `json:"reinit_delay_sec" yaml:"reinit_delay_sec"`
	EscalateAfter     int     `json:"escalate_after" yaml:"escalate_after"`
	EscalationStepSec float64 `json:"escalation_step_sec" yaml:"escalation_step_sec"`
	MaxEscalationSec  float64 `json:"max_escalation_sec" yaml:"max_escalation_sec"`
}

type MeterConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	ReopenDelaySec float64 `json:"reopen_delay_sec" yaml:"reopen_delay_sec"`
}

type RecognizerConfig struct {
	Endpoint      string  `json:"endpoint" yaml:"endpoint"`
	APIKey        string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Language      string  `json:"language" yaml:"language"`
	TimeoutSec    float64 `json:"timeout_sec" yaml:"timeout_sec"`
	MaxRetries    int     `json:"max_retries" yaml:"max_retries"`
	RetryDelaySec float64 `json:"retry_delay_sec" yaml:"retry_delay_sec"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			CandidateRates:  []int{16000, 44100, 48000},
			TargetRate:      16000,
			FramesPerBuffer: 1024,
			CalibrationSec:  1,
			IdleTimeoutSec:  10,
			MaxPhraseSec:    5,
		},
		Gain: audio.DefaultGainSettings(),
		Segmenter: SegmenterConfig{
			EnergyThreshold: 300,
			DynamicEnergy:   true,
			DynamicDamping:  0.15,
			DynamicRatio:    1.5,
			PauseSec:        1.0,
			PhraseSec:       0.1,
			NonSpeakingSec:  0.5,
		},
		Recovery: RecoveryConfig{
			ReinitDelaySec:    5,
			EscalateAfter:     3,
			EscalationStepSec: 2,
			MaxEscalationSec:  25,
		},
		Meter: MeterConfig{
			Enabled:        true,
			ReopenDelaySec: 5,
		},
		Recognizer: RecognizerConfig{
			Endpoint:      "http://127.0.0.1:9000/recognize",
			Language:      engine.DefaultLanguage,
			TimeoutSec:    15,
			MaxRetries:    1,
			RetryDelaySec: 0.5,
		},
		ShutdownGraceSec: 5,
		LogLevel:         "info",
	}
}

// Load reads the config from the platform config path, or returns defaults
// if no file exists yet.
func Load() (*Config, error) {
	return LoadFile(configPath())
}

// LoadFile reads path as YAML when it ends in .yaml or .yml and as JSON
// otherwise. A missing file yields defaults. Values from .env and the
// environment override the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.unmarshal(path, data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) unmarshal(path string, data []byte) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, c)
	}
	return json.Unmarshal(data, c)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKey); ok {
		c.Recognizer.APIKey = v
	}
	if v, ok := lookup(EnvEndpoint); ok && v != "" {
		c.Recognizer.Endpoint = v
	}
	if v, ok := lookup(EnvLanguage); ok && v != "" {
		c.Recognizer.Language = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

// Save writes the config back to the file it was loaded from, or to the
// platform config path. The API key is never written; keep it in the
// environment.
func (c *Config) Save() error {
	path := c.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	out := *c
	out.Recognizer.APIKey = ""

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(&out)
	} else {
		data, err = json.MarshalIndent(&out, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Path returns the file Save writes to.
func (c *Config) Path() string {
	if c.path != "" {
		return c.path
	}
	return configPath()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := []error{
		c.Audio.validate(),
		validateGain(c.Gain),
		c.Segmenter.validate(),
		c.Recovery.validate(),
		c.Meter.validate(),
		c.Recognizer.validate(),
	}
	if c.ShutdownGraceSec <= 0 {
		errs = append(errs, invalid("shutdown_grace_sec must be positive"))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, invalid("log_level %q: %v", c.LogLevel, err))
	}
	return errors.Join(errs...)
}

func (a AudioConfig) validate() error {
	switch {
	case a.DeviceIndex != nil && *a.DeviceIndex < 0:
		return invalid("audio.device_index must not be negative")
	case len(a.CandidateRates) == 0:
		return invalid("audio.candidate_rates must not be empty")
	case a.TargetRate <= 0:
		return invalid("audio.target_rate must be positive")
	case a.FramesPerBuffer <= 0:
		return invalid("audio.frames_per_buffer must be positive")
	case a.CalibrationSec < 0:
		return invalid("audio.calibration_sec must not be negative")
	case a.IdleTimeoutSec <= 0:
		return invalid("audio.idle_timeout_sec must be positive")
	case a.MaxPhraseSec <= 0:
		return invalid("audio.max_phrase_sec must be positive")
	}
	for _, r := range a.CandidateRates {
		if r <= 0 {
			return invalid("audio.candidate_rates contains %d", r)
		}
	}
	return nil
}

func validateGain(g audio.GainSettings) error {
	switch {
	case g.ManualGain < 0 || g.ManualGain > engine.MaxGain:
		return invalid("gain.manual_gain must be between 0 and %g", engine.MaxGain)
	case g.TargetLoudnessDBFS > 0:
		return invalid("gain.target_loudness_dbfs must not be above 0")
	case g.MinActiveRMS < 0:
		return invalid("gain.minimum_active_rms must not be negative")
	case g.MaxBoost < 1:
		return invalid("gain.max_boost must be at least 1")
	}
	return nil
}

func (s SegmenterConfig) validate() error {
	switch {
	case s.EnergyThreshold < 0:
		return invalid("segmenter.energy_threshold must not be negative")
	case s.DynamicDamping <= 0 || s.DynamicDamping >= 1:
		return invalid("segmenter.dynamic_damping must be between 0 and 1")
	case s.DynamicRatio < 1:
		return invalid("segmenter.dynamic_ratio must be at least 1")
	case s.PauseSec <= 0:
		return invalid("segmenter.pause_sec must be positive")
	case s.PhraseSec < 0 || s.NonSpeakingSec < 0:
		return invalid("segmenter.phrase_sec and non_speaking_sec must not be negative")
	case s.NonSpeakingSec > s.PauseSec:
		return invalid("segmenter.non_speaking_sec must not exceed pause_sec")
	}
	return nil
}

func (r RecoveryConfig) validate() error {
	if r.ReinitDelaySec < 0 || r.EscalateAfter < 0 || r.EscalationStepSec < 0 || r.MaxEscalationSec < 0 {
		return invalid("recovery values must not be negative")
	}
	return nil
}

func (m MeterConfig) validate() error {
	if m.ReopenDelaySec < 0 {
		return invalid("meter.reopen_delay_sec must not be negative")
	}
	return nil
}

func (r RecognizerConfig) validate() error {
	u, err := url.Parse(r.Endpoint)
	switch {
	case r.Endpoint == "":
		return invalid("recognizer.endpoint is required")
	case err != nil:
		return invalid("recognizer.endpoint: %v", err)
	case u.Scheme != "http" && u.Scheme != "https":
		return invalid("recognizer.endpoint must be an http or https URL")
	case r.Language == "":
		return invalid("recognizer.language is required")
	case r.TimeoutSec <= 0:
		return invalid("recognizer.timeout_sec must be positive")
	case r.MaxRetries < 0 || r.RetryDelaySec < 0:
		return invalid("recognizer retry settings must not be negative")
	case r.MinConfidence < 0 || r.MinConfidence > 1:
		return invalid("recognizer.min_confidence must be between 0 and 1")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Segment returns the segmenter tuning.
func (c *Config) Segment() segment.Config {
	s := c.Segmenter
	return segment.Config{
		EnergyThreshold:     s.EnergyThreshold,
		DynamicEnergy:       s.DynamicEnergy,
		DynamicDamping:      s.DynamicDamping,
		DynamicRatio:        s.DynamicRatio,
		PauseThreshold:      seconds(s.PauseSec),
		PhraseThreshold:     seconds(s.PhraseSec),
		NonSpeakingDuration: seconds(s.NonSpeakingSec),
	}
}

// Capture returns the capture session settings. The recognition timeout
// covers every retry the backend client may make.
func (c *Config) Capture() engine.CaptureConfig {
	r := c.Recognizer
	attempts := time.Duration(r.MaxRetries + 1)
	return engine.CaptureConfig{
		CandidateRates:      append([]int(nil), c.Audio.CandidateRates...),
		TargetRate:          c.Audio.TargetRate,
		CalibrationDuration: seconds(c.Audio.CalibrationSec),
		IdleTimeout:         seconds(c.Audio.IdleTimeoutSec),
		MaxPhrase:           seconds(c.Audio.MaxPhraseSec),
		Language:            r.Language,
		RecognitionTimeout:  attempts * (seconds(r.TimeoutSec) + 4*seconds(r.RetryDelaySec)),
	}
}

// RecoveryPolicy returns the capture backoff policy.
func (c *Config) RecoveryPolicy() engine.RecoveryPolicy {
	return engine.RecoveryPolicy{
		ReinitDelay:    seconds(c.Recovery.ReinitDelaySec),
		EscalateAfter:  c.Recovery.EscalateAfter,
		EscalationStep: seconds(c.Recovery.EscalationStepSec),
		MaxEscalation:  seconds(c.Recovery.MaxEscalationSec),
	}
}

// MeterSettings returns the level meter settings.
func (c *Config) MeterSettings() engine.MeterConfig {
	return engine.MeterConfig{
		Enabled:     c.Meter.Enabled,
		ReopenDelay: seconds(c.Meter.ReopenDelaySec),
	}
}

// HTTPRecognizer returns the backend client settings.
func (c *Config) HTTPRecognizer(logger zerolog.Logger) recognize.HTTPConfig {
	r := c.Recognizer
	return recognize.HTTPConfig{
		Endpoint:      r.Endpoint,
		APIKey:        r.APIKey,
		Timeout:       seconds(r.TimeoutSec),
		MaxRetries:    r.MaxRetries,
		RetryDelay:    seconds(r.RetryDelaySec),
		MinConfidence: r.MinConfidence,
		Logger:        logger,
	}
}

// ShutdownGrace returns how long Stop waits for pending recognitions.
func (c *Config) ShutdownGrace() time.Duration {
	return seconds(c.ShutdownGraceSec)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "voicewatch", "config.json")
}
