package audio

import (
	"context"
	"fmt"
)

// DefaultCandidateRates lists the rates tried, in order, when none are configured.
var DefaultCandidateRates = []int{16000, 44100, 48000}

// Negotiate finds the first rate in rates the device accepts and returns a
// stream opened at that rate.
//
// Each rate gets a trial open that is closed straight away, then the real
// open. Some drivers accept a rate at open time and only fail once frames
// are requested, so the stream stays provisional until its first Read
// succeeds.
func Negotiate(ctx context.Context, driver Driver, device *int, rates []int) (Stream, int, error) {
	if len(rates) == 0 {
		return nil, 0, fmt.Errorf("%w: no candidate sample rates", ErrDeviceUnavailable)
	}

	var lastErr error
	for _, rate := range rates {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		trial, err := driver.Open(device, rate)
		if err != nil {
			lastErr = fmt.Errorf("open at %d Hz: %w", rate, err)
			continue
		}
		if err := trial.Close(); err != nil {
			lastErr = fmt.Errorf("close trial at %d Hz: %w", rate, err)
			continue
		}

		stream, err := driver.Open(device, rate)
		if err != nil {
			lastErr = fmt.Errorf("reopen at %d Hz: %w", rate, err)
			continue
		}
		return stream, rate, nil
	}

	return nil, 0, fmt.Errorf("%w: tried %v: %w", ErrDeviceUnavailable, rates, lastErr)
}
