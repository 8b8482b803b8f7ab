package engine

import (
	"sync/atomic"
	"time"
)

// FailureKind classifies why the capture session entered recovery.
type FailureKind string

const (
	// FailureDeviceUnavailable: no candidate rate opened the device.
	FailureDeviceUnavailable FailureKind = "device_unavailable"
	// FailureTransient: a read failed on an open stream.
	FailureTransient FailureKind = "transient"
)

// RecoveryPolicy decides how long to wait before reopening the device.
type RecoveryPolicy struct {
	// ReinitDelay is paid after every failure.
	ReinitDelay time.Duration
	// EscalateAfter is the number of consecutive failures tolerated before
	// extra delay is added.
	EscalateAfter int
	// EscalationStep is the extra delay per consecutive failure.
	EscalationStep time.Duration
	// MaxEscalation caps the extra delay.
	MaxEscalation time.Duration
}

// DefaultRecoveryPolicy waits 5s per failure, adding 2s per failure once
// more than 3 happen in a row, capped at 25s extra.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		ReinitDelay:    5 * time.Second,
		EscalateAfter:  3,
		EscalationStep: 2 * time.Second,
		MaxEscalation:  25 * time.Second,
	}
}

// Delay returns the wait after the given number of consecutive failures.
// It never decreases as failures grow and never exceeds
// ReinitDelay+MaxEscalation.
func (p RecoveryPolicy) Delay(failures int) time.Duration {
	d := p.ReinitDelay
	if failures > p.EscalateAfter {
		extra := time.Duration(failures) * p.EscalationStep
		if extra > p.MaxEscalation {
			extra = p.MaxEscalation
		}
		d += extra
	}
	return d
}

// RecoveryContext is the capture session's failure bookkeeping.
type RecoveryContext struct {
	ConsecutiveFailures int
	LastFailure         FailureKind
	LastError           error
	BackoffUntil        time.Time
}

// recoveryController owns a RecoveryContext. Only the capture goroutine
// calls Fail and Succeed; Failures may be read from anywhere.
type recoveryController struct {
	policy   RecoveryPolicy
	now      func() time.Time
	ctx      RecoveryContext
	failures atomic.Int64
}

func newRecoveryController(policy RecoveryPolicy) *recoveryController {
	return &recoveryController{policy: policy, now: time.Now}
}

// Fail records a failure and returns how long to wait before reopening.
func (r *recoveryController) Fail(kind FailureKind, err error) time.Duration {
	r.ctx.ConsecutiveFailures++
	r.ctx.LastFailure = kind
	r.ctx.LastError = err
	delay := r.policy.Delay(r.ctx.ConsecutiveFailures)
	r.ctx.BackoffUntil = r.now().Add(delay)
	r.failures.Store(int64(r.ctx.ConsecutiveFailures))
	return delay
}

// Succeed clears the failure streak after a captured utterance.
func (r *recoveryController) Succeed() {
	if r.ctx.ConsecutiveFailures == 0 {
		return
	}
	r.ctx = RecoveryContext{}
	r.failures.Store(0)
}

func (r *recoveryController) Context() RecoveryContext {
	return r.ctx
}

func (r *recoveryController) Failures() int {
	return int(r.failures.Load())
}
