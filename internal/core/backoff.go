package core

import (
	"time"

	"github.com/surge-downloader/ariasync/internal/config"
)

// Backoff computes the reconnect delay after consecutive failed reconciliations.
type Backoff struct {
	Mode    config.BackoffMode
	Initial time.Duration
	Max     time.Duration
}

// NewBackoff fills zero values with the defaults and caps Initial at Max.
func NewBackoff(mode config.BackoffMode, initial, maxDelay time.Duration) Backoff {
	b := Backoff{Mode: config.BackoffExponential, Initial: config.DefaultReconnectInterval, Max: 2 * time.Minute}
	switch mode {
	case config.BackoffFixed, config.BackoffLinear, config.BackoffExponential:
		b.Mode = mode
	}
	if initial > 0 {
		b.Initial = initial
	}
	if maxDelay > 0 {
		b.Max = maxDelay
	}
	if b.Initial > b.Max {
		b.Initial = b.Max
	}
	return b
}

// Delay returns the wait before attempt n+1, n being the number of failures so far
// (1-based).
func (b Backoff) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	switch b.Mode {
	case config.BackoffFixed:
		return b.Initial
	case config.BackoffLinear:
		d := time.Duration(failures) * b.Initial
		return min(d, b.Max)
	default:
		d := b.Initial
		for i := 1; i < failures && d < b.Max; i++ {
			d *= 2
		}
		return min(d, b.Max)
	}
}
