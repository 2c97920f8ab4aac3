package ping

import (
	"context"
	"time"
)

// Pinger schedules probes against one target and reports every outcome to a
// sink. Run blocks until ctx is cancelled; probes still in flight at that
// point are abandoned without a result. A non-nil error means the socket
// could not be set up and no probe was ever sent.
type Pinger interface {
	Run(ctx context.Context, sink *Sink) error
}

// Options are the probing parameters shared by every pinger.
type Options struct {
	// Interval is the wait time between each probe.
	Interval time.Duration

	// Timeout is how long a probe may stay unanswered before it is lost.
	Timeout time.Duration

	// Port is the remote UDP port, ignored by ICMP.
	Port uint16

	// Source is an optional local address to send from.
	Source string

	// Privileged selects raw ICMP sockets instead of unprivileged datagram
	// ICMP. Requires super-user privileges or CAP_NET_RAW.
	Privileged bool
}

// DefaultOptions mirror the command line defaults.
func DefaultOptions() Options {
	return Options{
		Interval: time.Second,
		Timeout:  3 * time.Second,
		Port:     44444,
	}
}
