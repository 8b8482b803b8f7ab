package audio

import "errors"

// ErrDeviceUnavailable means no candidate sample rate could open the device.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrTransientDevice marks a read failure on an already open stream.
var ErrTransientDevice = errors.New("transient audio device error")

// ErrSegmentTimeout is returned by a segmenter when no speech started within
// the idle window. It is not a failure.
var ErrSegmentTimeout = errors.New("no speech before idle timeout")

// ErrDeviceNotFound means the requested device index has no input channels
// or does not exist.
var ErrDeviceNotFound = errors.New("input device not found")
