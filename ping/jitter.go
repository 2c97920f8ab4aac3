package ping

import (
	"sync"
	"time"
)

// rttSlot holds the most recent successful RTT of a session. It is shared by
// every goroutine that completes probes, so jitter follows arrival order.
type rttSlot struct {
	mu  sync.Mutex
	rtt time.Duration
	ok  bool
}

// swap stores rtt and returns the previous value.
func (s *rttSlot) swap(rtt time.Duration) (prev time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok = s.rtt, s.ok
	s.rtt, s.ok = rtt, true
	return
}

func (s *rttSlot) clear() {
	s.mu.Lock()
	s.rtt, s.ok = 0, false
	s.mu.Unlock()
}

// success records rtt in the slot and builds the matching result.
func (s *rttSlot) success(seq uint64, rtt time.Duration, sentAt time.Time) Result {
	prev, ok := s.swap(rtt)
	return NewSuccess(seq, rtt, sentAt, prev, ok)
}

// timeout clears the slot and builds a timeout result.
func (s *rttSlot) timeout(seq uint64, sentAt time.Time) Result {
	s.clear()
	return NewTimeout(seq, sentAt)
}
