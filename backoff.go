package carwings

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// ReconnectBaseDelay and ReconnectStep define the linear reconnect
	// schedule: attempt n (n >= 2) waits ReconnectBaseDelay + n*ReconnectStep.
	ReconnectBaseDelay = 1500 * time.Millisecond
	ReconnectStep      = 300 * time.Millisecond

	// VisibleReconnectAttempt is the attempt at which an outage is surfaced
	// to the user with a Reconnecting event.
	VisibleReconnectAttempt = 4
)

// ReconnectDelay returns the wait before reconnect attempt n (1-based).
// The first retry is immediate.
func ReconnectDelay(n int) time.Duration {
	if n <= 1 {
		return 0
	}
	return ReconnectBaseDelay + time.Duration(n)*ReconnectStep
}

// reconnectBackOff is the attempt counter behind the push channel. It
// satisfies backoff.BackOff so the same schedule can drive backoff.Retry.
type reconnectBackOff struct {
	attempt int
}

var _ backoff.BackOff = (*reconnectBackOff)(nil)

// NextBackOff counts one more attempt and returns its delay.
func (b *reconnectBackOff) NextBackOff() time.Duration {
	b.attempt++
	return ReconnectDelay(b.attempt)
}

// Reset zeroes the attempt counter.
func (b *reconnectBackOff) Reset() { b.attempt = 0 }

// Attempt returns the number of attempts since the last reset.
func (b *reconnectBackOff) Attempt() int { return b.attempt }

// NewReconnectBackOff returns a fresh backoff.BackOff following the push
// channel's reconnect schedule.
func NewReconnectBackOff() backoff.BackOff {
	return &reconnectBackOff{}
}
