package sync

import stdsync "sync"

// serial выполняет функции по одной в порядке постановки.
// Очередь не ограничена, поэтому Do никогда не блокирует.
type serial struct {
	wake   chan struct{}
	done   chan struct{}
	queue  []func()
	mu     stdsync.Mutex
	closed bool
}

func newSerial() *serial {
	return &serial{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Do queues fn. Calls after Close are ignored.
func (s *serial) Do(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	s.signal()
}

// Close lets run return once the queue is drained.
func (s *serial) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *serial) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}

func (s *serial) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
