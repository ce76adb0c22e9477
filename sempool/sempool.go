// Package sempool provides a counting semaphore used to bound concurrent work.
package sempool

import "context"

// NewSemaphore returns a semaphore admitting up to capacity holders.
func NewSemaphore(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{inner: make(chan struct{}, capacity)}
}

type Semaphore struct {
	inner chan struct{}
}

func (s *Semaphore) Acquire() {
	s.inner <- struct{}{}
}

// AcquireContext blocks until a slot is free or ctx is done.
func (s *Semaphore) AcquireContext(ctx context.Context) error {
	select {
	case s.inner <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Semaphore) TryAcquire() bool {
	select {
	case s.inner <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Semaphore) Release() {
	select {
	case <-s.inner:
	default:
		panic("semaphore inconsistency: release before acquire!")
	}
}

// InUse returns the number of held slots.
func (s *Semaphore) InUse() int {
	return len(s.inner)
}
