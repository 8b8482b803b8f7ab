package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV encodes b as a 16-bit mono PCM WAV file.
func EncodeWAV(b Buffer) ([]byte, error) {
	if b.rate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", b.rate)
	}

	data := make([]int, len(b.samples))
	for i, s := range b.samples {
		data[i] = int(s)
	}

	out := &memFile{}
	enc := wav.NewEncoder(out, b.rate, 16, 1, 1)
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: b.rate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write WAV data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV header: %w", err)
	}
	return out.buf, nil
}

// memFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, len(m.buf), 2*end)
			copy(grown, m.buf)
			m.buf = grown
		}
		m.buf = m.buf[:end]
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(next)
	return next, nil
}
