package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petems/voicewatch/internal/audio"
	"github.com/petems/voicewatch/internal/recognize"
)

type openCall struct {
	device int
	rate   int
}

// fakeDriver hands out streams of a constant-amplitude square wave. A nil
// rates map accepts every rate.
type fakeDriver struct {
	mu        sync.Mutex
	rates     map[int]bool
	dead      map[int]bool
	amplitude int16
	readErrs  int
	opens     []openCall
	reads     atomic.Int64
}

func (d *fakeDriver) Open(device *int, rate int) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens = append(d.opens, openCall{device: indexLabel(device), rate: rate})
	if d.dead[indexLabel(device)] {
		return nil, errors.New("device unplugged")
	}
	if d.rates != nil && !d.rates[rate] {
		return nil, fmt.Errorf("%d Hz not supported", rate)
	}
	frame := make([]int16, rate/100)
	for i := range frame {
		frame[i] = d.amplitude
		if i%2 == 1 {
			frame[i] = -d.amplitude
		}
	}
	return &fakeStream{driver: d, rate: rate, frame: frame}, nil
}

func (d *fakeDriver) Devices() ([]audio.DeviceInfo, error) {
	return []audio.DeviceInfo{
		{Index: 0, Name: "Built-in Microphone", Default: true, DefaultSampleRate: 48000},
		{Index: 2, Name: "USB Headset", DefaultSampleRate: 44100},
	}, nil
}

func (d *fakeDriver) opensFor(device int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, o := range d.opens {
		if o.device == device {
			n++
		}
	}
	return n
}

func (d *fakeDriver) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opens)
}

func (d *fakeDriver) takeReadErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErrs > 0 {
		d.readErrs--
		return errors.New("device unplugged")
	}
	return nil
}

type fakeStream struct {
	driver *fakeDriver
	rate   int
	frame  []int16
	closed atomic.Bool
}

func (s *fakeStream) Read() ([]int16, error) {
	time.Sleep(time.Millisecond)
	if s.closed.Load() {
		return nil, errors.New("stream closed")
	}
	if err := s.driver.takeReadErr(); err != nil {
		return nil, err
	}
	s.driver.reads.Add(1)
	return s.frame, nil
}

func (s *fakeStream) SampleRate() int { return s.rate }

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type segStep struct {
	samples []int16
	err     error
}

// fakeSegmenters scripts the results of Next across every segmenter it
// creates. Once the script runs out, Next reports a timeout.
type fakeSegmenters struct {
	mu      sync.Mutex
	steps   []segStep
	created int
}

func (f *fakeSegmenters) New() Segmenter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &fakeSegmenter{f: f}
}

func (f *fakeSegmenters) Push(step segStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, step)
}

func (f *fakeSegmenters) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakeSegmenter struct {
	f *fakeSegmenters
}

func (s *fakeSegmenter) Calibrate(ctx context.Context, src audio.Stream, d time.Duration) error {
	return ctx.Err()
}

func (s *fakeSegmenter) Next(ctx context.Context, src audio.Stream, idle, maxPhrase time.Duration) ([]int16, error) {
	s.f.mu.Lock()
	if len(s.f.steps) > 0 {
		step := s.f.steps[0]
		s.f.steps = s.f.steps[1:]
		s.f.mu.Unlock()
		return step.samples, step.err
	}
	s.f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	return nil, audio.ErrSegmentTimeout
}

type fakeResult struct {
	res recognize.Result
	err error
}

// fakeRecognizer returns scripted results in order, then "ok".
type fakeRecognizer struct {
	mu      sync.Mutex
	results []fakeResult
	reqs    []recognize.Request
	block   chan struct{}
}

func (r *fakeRecognizer) Recognize(ctx context.Context, req recognize.Request) (recognize.Result, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if len(r.results) == 0 {
		return recognize.Result{Text: "ok", Confidence: 1}, nil
	}
	next := r.results[0]
	r.results = r.results[1:]
	return next.res, next.err
}

func (r *fakeRecognizer) Requests() []recognize.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recognize.Request(nil), r.reqs...)
}

// sleepRecorder replaces the backoff timer so tests see requested delays
// without waiting for them.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Millisecond):
		return true
	}
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func tone(n, rate int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

func intPtr(v int) *int { return &v }
