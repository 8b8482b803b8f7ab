package permissions

import "testing"

func TestStatusName(t *testing.T) {
	tests := map[int]string{
		PermissionNotDetermined: "not determined",
		PermissionDenied:        "denied",
		PermissionAuthorized:    "authorized",
		9:                       "unknown",
	}
	for status, want := range tests {
		if got := statusName(status); got != want {
			t.Errorf("statusName(%d) = %q, want %q", status, got, want)
		}
	}
}
