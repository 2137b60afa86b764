// Package spin contains the polling primitives used by the scheduler and
// executor goroutines: a stop signal, a non-blocking try-lock and a backoff
// for wait loops.
package spin

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Signal is a one-shot stop request. It can be polled from a spin loop with
// Requested or waited on through Done.
type Signal struct {
	requested atomic.Bool
	once      sync.Once
	done      chan struct{}
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Request raises the signal. It returns true for the first caller only.
func (s *Signal) Request() bool {
	if s.requested.Swap(true) {
		return false
	}
	s.once.Do(func() { close(s.done) })
	return true
}

// Requested reports whether the signal has been raised.
func (s *Signal) Requested() bool { return s.requested.Load() }

// Done is closed once the signal has been raised.
func (s *Signal) Done() <-chan struct{} { return s.done }

// TryLock is a mutex that is only ever acquired without blocking. The zero
// value is unlocked.
type TryLock struct {
	held atomic.Bool
}

// TryLock acquires the lock if it is free.
func (l *TryLock) TryLock() bool {
	return !l.held.Load() && l.held.CompareAndSwap(false, true)
}

// Unlock releases a held lock.
func (l *TryLock) Unlock() {
	l.held.Store(false)
}

// Held reports whether somebody currently holds the lock.
func (l *TryLock) Held() bool { return l.held.Load() }

const (
	yieldAfter = 64
	sleepAfter = 4096
	sleepFor   = 50 * time.Microsecond
)

// Backoff paces a wait loop: it busy-spins first, then yields the processor,
// and finally sleeps briefly so idle loops stop burning a core.
type Backoff struct {
	iter int
}

// Wait pauses for one iteration of the loop.
func (b *Backoff) Wait() {
	b.iter++
	switch {
	case b.iter < yieldAfter:
	case b.iter < sleepAfter:
		runtime.Gosched()
	default:
		time.Sleep(sleepFor)
	}
}

// Reset is called after the loop made progress.
func (b *Backoff) Reset() { b.iter = 0 }

// Until spins until cond holds or stop is raised. It returns false when
// stopped first.
func Until(stop *Signal, cond func() bool) bool {
	var b Backoff
	for !cond() {
		if stop.Requested() {
			return false
		}
		b.Wait()
	}
	return true
}
