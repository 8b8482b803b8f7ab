package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/voicewatch/internal/audio"
	"github.com/petems/voicewatch/internal/metrics"
)

// meterSession keeps the level fresh between utterances by reading its own
// stream frame by frame.
type meterSession struct {
	driver  audio.Driver
	devices *deviceSelector
	rates   []int
	gain    func() audio.GainSettings
	level   *audio.Level
	delay   time.Duration
	sleep   func(context.Context, time.Duration) bool
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func (m *meterSession) run(ctx context.Context) {
	for ctx.Err() == nil {
		sel := m.devices.Current()
		stream, rate, err := audio.Negotiate(ctx, m.driver, sel.index, m.rates)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.metrics.DeviceOpened("meter", false)
			m.metrics.MeterError()
			m.log.Warn().Err(err).Dur("retry_in", m.delay).Msg("Level meter could not open input")
			if !waitOrSwitch(ctx, sel, m.delay, m.sleep) {
				return
			}
			continue
		}
		m.metrics.DeviceOpened("meter", true)
		m.log.Debug().Int("device", indexLabel(sel.index)).Int("rate", rate).Msg("Level meter opened")

		err = m.read(ctx, stream, sel)
		_ = stream.Close()

		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, errDeviceChanged):
			continue
		}
		m.metrics.MeterError()
		m.log.Warn().Err(err).Dur("retry_in", m.delay).Msg("Level meter read failed")
		if !waitOrSwitch(ctx, sel, m.delay, m.sleep) {
			return
		}
	}
}

func (m *meterSession) read(ctx context.Context, stream audio.Stream, sel deviceSelection) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.devices.Superseded(sel) {
			return errDeviceChanged
		}
		frame, err := stream.Read()
		if err != nil {
			return fmt.Errorf("%w: %w", audio.ErrTransientDevice, err)
		}
		m.level.Observe(audio.RMS(frame)*m.gain().ManualGain, audio.MeterSmoothing)
		m.metrics.MeterFrame()
	}
}
