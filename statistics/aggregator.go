package statistics

import (
	"fmt"
	"math"
	"time"

	"github.com/thetooth/pinggraph/ping"
)

// Aggregator keeps running totals over a stream of probe results. It is owned
// by a single consumer and is not safe for concurrent use.
type Aggregator struct {
	// Sent is the number of probes recorded.
	Sent int

	// Received is the number of probes that got a reply.
	Received int

	// Lost is the number of probes that timed out.
	Lost int

	minRtt  time.Duration
	maxRtt  time.Duration
	sumRtt  time.Duration
	lastRtt time.Duration

	lastJitter    time.Duration
	hasLastJitter bool

	mean     float64
	stddevm2 float64
}

// Record folds one result into the totals.
func (a *Aggregator) Record(r ping.Result) {
	a.Sent++

	rtt, ok := r.RTT()
	if !ok {
		a.Lost++
		a.hasLastJitter = false
		return
	}

	a.Received++
	a.lastRtt = rtt
	a.sumRtt += rtt
	if a.Received == 1 || rtt < a.minRtt {
		a.minRtt = rtt
	}
	if rtt > a.maxRtt {
		a.maxRtt = rtt
	}
	a.lastJitter, a.hasLastJitter = r.Jitter()

	// welford's online method for stddev
	// https://en.wikipedia.org/wiki/Algorithms_for_calculating_variance#Welford's_online_algorithm
	x := float64(rtt)
	delta := x - a.mean
	a.mean += delta / float64(a.Received)
	a.stddevm2 += delta * (x - a.mean)
}

func (a *Aggregator) Min() (time.Duration, bool) { return a.minRtt, a.Received > 0 }

func (a *Aggregator) Max() (time.Duration, bool) { return a.maxRtt, a.Received > 0 }

// Last returns the RTT of the most recent successful probe.
func (a *Aggregator) Last() (time.Duration, bool) { return a.lastRtt, a.Received > 0 }

// Jitter returns the jitter of the most recent result, absent after a timeout.
func (a *Aggregator) Jitter() (time.Duration, bool) { return a.lastJitter, a.hasLastJitter }

// Average is the mean RTT over received probes.
func (a *Aggregator) Average() (time.Duration, bool) {
	if a.Received == 0 {
		return 0, false
	}
	return a.sumRtt / time.Duration(a.Received), true
}

// StdDev is the population standard deviation of received RTTs.
func (a *Aggregator) StdDev() time.Duration {
	if a.Received == 0 {
		return 0
	}
	return time.Duration(math.Sqrt(a.stddevm2 / float64(a.Received)))
}

// LossPercent is the share of lost probes, 0 before anything was sent.
func (a *Aggregator) LossPercent() float64 {
	if a.Sent == 0 {
		return 0
	}
	return float64(a.Lost) / float64(a.Sent) * 100
}

func (a *Aggregator) Reset() {
	*a = Aggregator{}
}

// String renders the one line summary printed on exit.
func (a *Aggregator) String() string {
	s := fmt.Sprintf("Sent: %d | Rcvd: %d | Lost: %d (%.1f%%)", a.Sent, a.Received, a.Lost, a.LossPercent())
	avg, ok := a.Average()
	if !ok {
		return s
	}
	return fmt.Sprintf("%s | RTT min/avg/max: %.1f/%.1f/%.1f ms", s, millis(a.minRtt), millis(avg), millis(a.maxRtt))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
