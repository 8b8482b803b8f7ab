package audio

import "time"

// Buffer is an immutable block of mono 16-bit PCM samples tagged with the
// rate they were captured or resampled at. Transformations return new
// buffers and never write into an existing one.
type Buffer struct {
	samples []int16
	rate    int
}

// NewBuffer wraps samples without copying. The caller hands over ownership
// and must not modify the slice afterwards.
func NewBuffer(samples []int16, sampleRate int) Buffer {
	return Buffer{samples: samples, rate: sampleRate}
}

// Detach copies samples into a freshly allocated buffer. Use it when the
// source slice is owned by a driver or a segmenter that will reuse it.
func Detach(samples []int16, sampleRate int) Buffer {
	owned := make([]int16, len(samples))
	copy(owned, samples)
	return Buffer{samples: owned, rate: sampleRate}
}

// SampleRate returns the rate of the sample data in Hz.
func (b Buffer) SampleRate() int {
	return b.rate
}

// Len returns the number of samples.
func (b Buffer) Len() int {
	return len(b.samples)
}

// At returns sample i.
func (b Buffer) At(i int) int16 {
	return b.samples[i]
}

// Samples returns a copy of the sample data.
func (b Buffer) Samples() []int16 {
	out := make([]int16, len(b.samples))
	copy(out, b.samples)
	return out
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.rate <= 0 {
		return 0
	}
	return time.Duration(len(b.samples)) * time.Second / time.Duration(b.rate)
}

// RMS returns the root-mean-square amplitude with samples scaled to [-1, 1].
func (b Buffer) RMS() float64 {
	return RMS(b.samples)
}
