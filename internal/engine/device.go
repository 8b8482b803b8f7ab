package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// errDeviceChanged ends a listen or meter loop so it reopens on the newly
// requested device. It is not a failure.
var errDeviceChanged = errors.New("input device changed")

type deviceSelection struct {
	index   *int
	version uint64
	// changed is closed when a newer selection replaces this one.
	changed chan struct{}
}

// deviceSelector holds the requested input device. Every request bumps the
// version; each loop remembers the version it opened with and reopens once
// it sees a newer one, so the capture and meter loops never race on a shared
// flag.
type deviceSelector struct {
	mu  sync.Mutex
	cur atomic.Pointer[deviceSelection]
}

func newDeviceSelector(index *int) *deviceSelector {
	d := &deviceSelector{}
	d.cur.Store(&deviceSelection{index: copyIndex(index), changed: make(chan struct{})})
	return d
}

// Request records a new device and reports whether it differs from the
// current one.
func (d *deviceSelector) Request(index *int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.cur.Load()
	if sameIndex(cur.index, index) {
		return false
	}
	d.cur.Store(&deviceSelection{
		index:   copyIndex(index),
		version: cur.version + 1,
		changed: make(chan struct{}),
	})
	close(cur.changed)
	return true
}

func (d *deviceSelector) Current() deviceSelection {
	return *d.cur.Load()
}

// Superseded reports whether sel is no longer the current selection.
func (d *deviceSelector) Superseded(sel deviceSelection) bool {
	return d.Current().version != sel.version
}

// waitOrSwitch sleeps for delay through sleep, waking early when sel is
// replaced. It returns false only when ctx ends.
func waitOrSwitch(ctx context.Context, sel deviceSelection, delay time.Duration, sleep func(context.Context, time.Duration) bool) bool {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sel.changed:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	if sleep(waitCtx, delay) {
		return true
	}
	return ctx.Err() == nil
}

func copyIndex(index *int) *int {
	if index == nil {
		return nil
	}
	v := *index
	return &v
}

func sameIndex(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func indexLabel(index *int) int {
	if index == nil {
		return -1
	}
	return *index
}
