package engine

// CaptureState is the capture session's position in its lifecycle.
type CaptureState int32

const (
	StateStopped CaptureState = iota
	StateOpening
	StateCalibrating
	StateListening
	StateRecovering
)

var stateNames = []string{"stopped", "opening", "calibrating", "listening", "recovering"}

func (s CaptureState) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
