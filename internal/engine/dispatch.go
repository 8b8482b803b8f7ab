package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/voicewatch/internal/audio"
	"github.com/petems/voicewatch/internal/metrics"
	"github.com/petems/voicewatch/internal/recognize"
)

// ErrShutdownTimeout is returned by Stop when recognition workers are still
// running after the grace period.
var ErrShutdownTimeout = errors.New("recognition workers still running")

// dispatcher runs one recognition worker per utterance so capture never waits
// on the backend.
type dispatcher struct {
	recognizer recognize.Recognizer
	gain       func() audio.GainSettings
	level      *audio.Level
	online     *atomic.Bool
	onText     func(string)
	targetRate int
	language   string
	timeout    time.Duration
	log        zerolog.Logger
	metrics    *metrics.Metrics

	wg       sync.WaitGroup
	inflight atomic.Int64
}

// Submit starts a worker for u and returns immediately.
func (d *dispatcher) Submit(u Utterance) {
	d.wg.Add(1)
	d.inflight.Add(1)
	d.metrics.WorkerStarted()
	go d.work(u)
}

// InFlight returns the number of running workers.
func (d *dispatcher) InFlight() int {
	return int(d.inflight.Load())
}

// Wait blocks until every worker has finished, grace has elapsed or ctx is
// done, whichever comes first.
func (d *dispatcher) Wait(ctx context.Context, grace time.Duration) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
	case <-ctx.Done():
	}
	return fmt.Errorf("%w: %d in flight", ErrShutdownTimeout, d.InFlight())
}

func (d *dispatcher) work(u Utterance) {
	log := d.log.With().Str("utterance_id", u.ID).Uint64("seq", u.Seq).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recognition worker panicked")
		}
		d.inflight.Add(-1)
		d.metrics.WorkerFinished()
		d.wg.Done()
	}()

	settings := d.gain()
	buf := audio.Resample(u.Audio, d.targetRate)
	buf = audio.ApplyGain(buf, settings.ManualGain)
	buf = audio.Normalize(buf, settings)
	d.level.Observe(buf.RMS(), audio.UtteranceSmoothing)

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	res, err := d.recognizer.Recognize(ctx, recognize.Request{
		UtteranceID: u.ID,
		Audio:       buf,
		Language:    d.language,
	})
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
	case errors.Is(err, recognize.ErrNoSpeech):
		d.metrics.Recognized(metrics.OutcomeNoSpeech, elapsed)
		log.Debug().Msg("No speech in utterance")
		return
	case errors.Is(err, recognize.ErrUnrecognized):
		d.metrics.Recognized(metrics.OutcomeUnrecognized, elapsed)
		log.Debug().Msg("Utterance not recognized")
		return
	case errors.Is(err, recognize.ErrBackendUnavailable):
		d.metrics.Recognized(metrics.OutcomeBackendUnavailable, elapsed)
		d.setOnline(false)
		log.Warn().Err(err).Msg("Recognition backend unavailable")
		return
	default:
		d.metrics.Recognized(metrics.OutcomeError, elapsed)
		log.Error().Err(err).Msg("Recognition failed")
		return
	}

	d.metrics.Recognized(metrics.OutcomeText, elapsed)
	d.setOnline(true)

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}
	log.Info().
		Float64("confidence", res.Confidence).
		Dur("captured_ago", time.Since(u.CapturedAt)).
		Msg("Transcription ready")
	d.deliver(log, text)
}

func (d *dispatcher) setOnline(online bool) {
	if d.online.Swap(online) != online {
		d.log.Info().Bool("online", online).Msg("Recognition backend status changed")
	}
	d.metrics.Online(online)
}

func (d *dispatcher) deliver(log zerolog.Logger, text string) {
	if d.onText == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Transcription callback panicked")
		}
	}()
	d.onText(text)
}
