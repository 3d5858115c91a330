package scheduler

// Semaphore is a channel-based counting semaphore. The poller uses a
// one-slot Semaphore to keep cycles from overlapping.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given number of slots.
func NewSemaphore(slots int) *Semaphore {
	if slots <= 0 {
		slots = 1
	}
	return &Semaphore{ch: make(chan struct{}, slots)}
}

// TryAcquire takes a slot without blocking and reports whether it got one.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot taken by TryAcquire.
func (s *Semaphore) Release() {
	<-s.ch
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	return cap(s.ch) - len(s.ch)
}
