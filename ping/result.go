package ping

import (
	"fmt"
	"time"
)

// Result is the outcome of a single probe. Values are immutable once built.
type Result struct {
	// Seq is the 1-based probe sequence within a session.
	Seq uint64

	// SentAt is when the probe left, on the monotonic clock.
	SentAt time.Time

	// Timestamp is the wall clock time the result was produced.
	Timestamp time.Time

	rtt        time.Duration
	receivedAt time.Time
	success    bool

	jitter    time.Duration
	hasJitter bool
}

// NewSuccess builds a result for a probe answered after rtt. When hasPrev is
// set, jitter is the absolute difference from the previous successful RTT.
func NewSuccess(seq uint64, rtt time.Duration, sentAt time.Time, prev time.Duration, hasPrev bool) Result {
	r := Result{
		Seq:        seq,
		SentAt:     sentAt,
		Timestamp:  time.Now(),
		rtt:        rtt,
		receivedAt: sentAt.Add(rtt),
		success:    true,
	}
	if hasPrev {
		r.jitter = absDuration(rtt - prev)
		r.hasJitter = true
	}
	return r
}

// NewTimeout builds a result for a probe that was never answered.
func NewTimeout(seq uint64, sentAt time.Time) Result {
	return Result{
		Seq:       seq,
		SentAt:    sentAt,
		Timestamp: time.Now(),
	}
}

func (r Result) Success() bool { return r.success }

// RTT returns the round trip time, false on timeout.
func (r Result) RTT() (time.Duration, bool) { return r.rtt, r.success }

// ReceivedAt returns the reply arrival time, false on timeout.
func (r Result) ReceivedAt() (time.Time, bool) { return r.receivedAt, r.success }

// Jitter returns the RTT variation against the previous success, if known.
func (r Result) Jitter() (time.Duration, bool) { return r.jitter, r.hasJitter }

// RTTMillis is the RTT as fractional milliseconds, 0 on timeout.
func (r Result) RTTMillis() float64 {
	return float64(r.rtt) / float64(time.Millisecond)
}

func (r Result) JitterMillis() float64 {
	return float64(r.jitter) / float64(time.Millisecond)
}

// Clock formats the wall timestamp for display.
func (r Result) Clock() string {
	return r.Timestamp.Format("15:04:05.000")
}

func (r Result) String() string {
	if !r.success {
		return fmt.Sprintf("seq=%d timeout", r.Seq)
	}
	if r.hasJitter {
		return fmt.Sprintf("seq=%d time=%.2f ms jitter=%.2f ms", r.Seq, r.RTTMillis(), r.JitterMillis())
	}
	return fmt.Sprintf("seq=%d time=%.2f ms", r.Seq, r.RTTMillis())
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
