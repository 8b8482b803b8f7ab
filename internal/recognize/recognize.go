// Package recognize defines the speech recognition backend contract and an
// HTTP implementation of it.
package recognize

import (
	"context"
	"errors"

	"github.com/petems/voicewatch/internal/audio"
)

// ErrBackendUnavailable means the service could not be reached or refused the
// request. Callers treat the backend as offline and drop the utterance.
var ErrBackendUnavailable = errors.New("recognition backend unavailable")

// ErrNoSpeech means the backend heard no speech in the audio.
var ErrNoSpeech = errors.New("no speech detected")

// ErrUnrecognized means the backend heard speech but produced no confident
// transcript.
var ErrUnrecognized = errors.New("speech not recognized")

// Request is one utterance to transcribe. Audio must already be at the rate
// the backend requires.
type Request struct {
	UtteranceID string
	Audio       audio.Buffer
	Language    string
}

// Result is the backend's transcript.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer turns an utterance into text.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) (Result, error)
}
