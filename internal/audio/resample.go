package audio

import "math"

// DefaultTargetRate is the sample rate recognition backends expect.
const DefaultTargetRate = 16000

// Resample converts b to targetRate using linear interpolation.
//
// This is not a band-limited resampler; downsampling aliases.
//
// The output length is floor(len*targetRate/sourceRate). When the rates
// already match, b is returned as is.
func Resample(b Buffer, targetRate int) Buffer {
	if b.rate == targetRate || targetRate <= 0 || b.rate <= 0 {
		return b
	}

	n := len(b.samples)
	newLen := int(int64(n) * int64(targetRate) / int64(b.rate))
	if newLen <= 0 {
		return Buffer{samples: []int16{}, rate: targetRate}
	}

	out := make([]int16, newLen)
	if newLen == 1 || n == 1 {
		out[0] = b.samples[0]
		for i := 1; i < newLen; i++ {
			out[i] = b.samples[0]
		}
		return Buffer{samples: out, rate: targetRate}
	}

	step := float64(n-1) / float64(newLen-1)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= n-1 {
			out[i] = b.samples[n-1]
			continue
		}
		frac := pos - float64(idx)
		v := float64(b.samples[idx])*(1-frac) + float64(b.samples[idx+1])*frac
		out[i] = quantize(v)
	}
	return Buffer{samples: out, rate: targetRate}
}

// quantize clips v to the int16 range and truncates toward zero.
func quantize(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
