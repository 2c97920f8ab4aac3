package ping

import "sync"

// Sink is an unbounded multi-producer single-consumer queue of results.
// Send never blocks, so probe scheduling is never held up by the consumer.
type Sink struct {
	mu     sync.Mutex
	queue  []Result
	closed bool
	ready  chan struct{}
}

func NewSink() *Sink {
	return &Sink{ready: make(chan struct{}, 1)}
}

// Send enqueues r. It returns false once the sink has been closed.
func (s *Sink) Send(r Result) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, r)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return true
}

// TryRecv dequeues the oldest result without blocking.
func (s *Sink) TryRecv() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return Result{}, false
	}
	r := s.queue[0]
	s.queue[0] = Result{}
	s.queue = s.queue[1:]
	return r, true
}

// Drain dequeues everything currently buffered, in send order.
func (s *Sink) Drain() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.queue
	s.queue = nil
	return out
}

// Ready is signalled after a Send. A single signal may cover many results.
func (s *Sink) Ready() <-chan struct{} {
	return s.ready
}

func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close rejects further sends and discards anything still queued.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}
