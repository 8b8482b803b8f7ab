package engine

import (
	"context"
	"testing"
	"time"
)

func TestDeviceSelectorVersions(t *testing.T) {
	d := newDeviceSelector(nil)
	if d.Request(nil) {
		t.Error("Request(nil) on default should not change the selection")
	}
	if v := d.Current().version; v != 0 {
		t.Fatalf("version = %d, want 0", v)
	}

	idx := 3
	if !d.Request(&idx) {
		t.Fatal("Request(3) should change the selection")
	}
	idx = 7
	cur := d.Current()
	if cur.version != 1 || cur.index == nil || *cur.index != 3 {
		t.Fatalf("Current() = {%v, %d}, want {3, 1}", cur.index, cur.version)
	}
	if d.Request(intPtr(3)) {
		t.Error("requesting the same index should be a no-op")
	}
	if !d.Request(nil) || d.Current().version != 2 {
		t.Error("switching back to the default should bump the version")
	}
}

func TestCaptureStateString(t *testing.T) {
	if got := StateListening.String(); got != "listening" {
		t.Errorf("String() = %q", got)
	}
	if got := CaptureState(42).String(); got != "unknown" {
		t.Errorf("String() = %q", got)
	}
}

func TestWaitOrSwitch(t *testing.T) {
	d := newDeviceSelector(nil)

	sel := d.Current()
	if !waitOrSwitch(context.Background(), sel, time.Millisecond, sleepCtx) {
		t.Error("completed wait reported as cancelled")
	}

	done := make(chan bool, 1)
	go func() { done <- waitOrSwitch(context.Background(), sel, 10*time.Second, sleepCtx) }()
	d.Request(intPtr(3))
	select {
	case ok := <-done:
		if !ok {
			t.Error("switch reported as cancelled")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("wait did not end on device change")
	}
	if !d.Superseded(sel) {
		t.Error("old selection not superseded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if waitOrSwitch(ctx, d.Current(), 10*time.Second, sleepCtx) {
		t.Error("cancelled context reported as completed")
	}
}
