// Package permissions checks that the process may use the microphone.
package permissions

import "errors"

// ErrMicrophoneDenied means the OS has not granted microphone access.
var ErrMicrophoneDenied = errors.New("microphone permission not granted")

// Microphone authorization states as reported by macOS.
const (
	PermissionNotDetermined = 0
	PermissionRestricted    = 1
	PermissionDenied        = 2
	PermissionAuthorized    = 3
)

func statusName(status int) string {
	switch status {
	case PermissionNotDetermined:
		return "not determined"
	case PermissionRestricted:
		return "restricted"
	case PermissionDenied:
		return "denied"
	case PermissionAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}
