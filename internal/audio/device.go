package audio

// Stream is an open, started mono input stream.
type Stream interface {
	// Read blocks until the next frame is available. The returned slice is
	// owned by the stream and is overwritten by the next Read.
	Read() ([]int16, error)
	// SampleRate returns the rate the stream was opened at.
	SampleRate() int
	Close() error
}

// Driver opens input streams. A nil device selects the system default.
type Driver interface {
	Open(device *int, sampleRate int) (Stream, error)
	Devices() ([]DeviceInfo, error)
}

// DeviceInfo describes an input device for configuration menus.
type DeviceInfo struct {
	Index             int
	Name              string
	Default           bool
	DefaultSampleRate float64
}
