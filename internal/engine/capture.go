package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/petems/voicewatch/internal/audio"
	"github.com/petems/voicewatch/internal/metrics"
)

// Segmenter splits a stream into utterances. Implementations hold per-stream
// state, so the capture session builds a fresh one for every open.
type Segmenter interface {
	Calibrate(ctx context.Context, src audio.Stream, d time.Duration) error
	Next(ctx context.Context, src audio.Stream, idle, maxPhrase time.Duration) ([]int16, error)
}

// SegmenterFactory returns a new Segmenter.
type SegmenterFactory func() Segmenter

// Utterance is one captured phrase at the device's native rate.
type Utterance struct {
	ID         string
	Seq        uint64
	Epoch      uint64
	CapturedAt time.Time
	Audio      audio.Buffer
}

type captureSession struct {
	driver       audio.Driver
	newSegmenter SegmenterFactory
	devices      *deviceSelector
	recovery     *recoveryController
	cfg          CaptureConfig
	submit       func(Utterance)
	setState     func(CaptureState)
	sleep        func(context.Context, time.Duration) bool
	log          zerolog.Logger
	metrics      *metrics.Metrics

	// Shared with the Engine so numbering continues across restarts.
	seq   *atomic.Uint64
	epoch *atomic.Uint64
}

// run opens, calibrates and listens until ctx is cancelled, recovering from
// device failures along the way.
func (c *captureSession) run(ctx context.Context) {
	for ctx.Err() == nil {
		sel := c.devices.Current()
		c.setState(StateOpening)

		stream, rate, err := audio.Negotiate(ctx, c.driver, sel.index, c.cfg.CandidateRates)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.metrics.DeviceOpened("capture", false)
			if !c.recover(ctx, sel, FailureDeviceUnavailable, err) {
				return
			}
			continue
		}
		epoch := c.epoch.Add(1)
		c.metrics.DeviceOpened("capture", true)
		c.metrics.RateNegotiated(rate)
		c.log.Info().
			Int("device", indexLabel(sel.index)).
			Int("rate", rate).
			Uint64("epoch", epoch).
			Msg("Audio input opened")

		err = c.listen(ctx, stream, rate, sel, epoch)
		if cerr := stream.Close(); cerr != nil {
			c.log.Debug().Err(cerr).Msg("Failed to close audio input")
		}

		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, errDeviceChanged):
			c.setState(StateRecovering)
			c.logSwitch()
		case err != nil:
			if !c.recover(ctx, sel, FailureTransient, err) {
				return
			}
		}
	}
}

func (c *captureSession) listen(ctx context.Context, stream audio.Stream, rate int, sel deviceSelection, epoch uint64) error {
	c.setState(StateCalibrating)
	seg := c.newSegmenter()
	if err := seg.Calibrate(ctx, stream, c.cfg.CalibrationDuration); err != nil {
		return fmt.Errorf("%w: calibration: %w", audio.ErrTransientDevice, err)
	}

	c.setState(StateListening)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.devices.Superseded(sel) {
			return errDeviceChanged
		}

		samples, err := seg.Next(ctx, stream, c.cfg.IdleTimeout, c.cfg.MaxPhrase)
		switch {
		case err == nil:
		case errors.Is(err, audio.ErrSegmentTimeout):
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("%w: %w", audio.ErrTransientDevice, err)
		}
		if len(samples) == 0 {
			continue
		}

		c.recovery.Succeed()
		u := Utterance{
			ID:         uuid.NewString(),
			Seq:        c.seq.Add(1),
			Epoch:      epoch,
			CapturedAt: time.Now(),
			Audio:      audio.Detach(samples, rate),
		}
		c.metrics.UtteranceCaptured(u.Audio.Duration().Seconds())
		c.log.Debug().
			Str("utterance_id", u.ID).
			Uint64("seq", u.Seq).
			Dur("duration", u.Audio.Duration()).
			Msg("Utterance captured")
		c.submit(u)
	}
}

// recover records the failure and waits out the backoff. A device change
// ends the wait early and clears the failure streak. It returns false when
// ctx ends first.
func (c *captureSession) recover(ctx context.Context, sel deviceSelection, kind FailureKind, err error) bool {
	c.setState(StateRecovering)
	if c.devices.Superseded(sel) {
		c.log.Debug().Err(err).Msg("Ignoring failure on replaced audio input")
		c.logSwitch()
		return true
	}

	delay := c.recovery.Fail(kind, err)
	c.metrics.Recovery(string(kind))
	c.log.Error().
		Err(err).
		Str("kind", string(kind)).
		Int("failures", c.recovery.Failures()).
		Dur("retry_in", delay).
		Msg("Audio capture failed, reinitializing")

	if !waitOrSwitch(ctx, sel, delay, c.sleep) {
		return false
	}
	if c.devices.Superseded(sel) {
		c.recovery.Succeed()
		c.logSwitch()
	}
	return true
}

func (c *captureSession) logSwitch() {
	c.log.Info().
		Int("device", indexLabel(c.devices.Current().index)).
		Msg("Switching audio input")
}

// sleepCtx waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
