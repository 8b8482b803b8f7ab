package audio

import (
	"bytes"
	"testing"

	"github.com/go-audio/wav"
)

func TestEncodeWAVRoundTrip(t *testing.T) {
	in := NewBuffer([]int16{0, 1000, -1000, 32767, -32768, 7}, 16000)

	data, err := EncodeWAV(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(data) != 44+in.Len()*2 {
		t.Fatalf("expected %d bytes, got %d", 44+in.Len()*2, len(data))
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("decoder rejected encoded file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if int(dec.SampleRate) != 16000 || int(dec.NumChans) != 1 || int(dec.BitDepth) != 16 {
		t.Fatalf("unexpected format: rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) != in.Len() {
		t.Fatalf("expected %d samples, got %d", in.Len(), len(buf.Data))
	}
	for i, v := range buf.Data {
		if int16(v) != in.At(i) {
			t.Fatalf("sample %d: expected %d, got %d", i, in.At(i), v)
		}
	}
}

func TestEncodeWAVRejectsBadRate(t *testing.T) {
	if _, err := EncodeWAV(NewBuffer([]int16{1}, 0)); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}
