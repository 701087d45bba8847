// Package gametest provides a manually driven game.Scheduler.
package gametest

import (
	"sync"
	"time"

	game "github.com/CodeAndHammer/hearsay/internal/game"
)

// Scheduler fires callbacks only when Advance moves its clock past them.
// Callbacks run synchronously on the caller's goroutine in due order.
type Scheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*Timer
}

type Timer struct {
	s       *Scheduler
	at      time.Duration
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *Timer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func New() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) AfterFunc(d time.Duration, f func()) game.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &Timer{s: s, at: s.now + d, seq: s.seq, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that falls due,
// including timers armed by callbacks along the way.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		t := s.nextDue(target)
		if t == nil {
			break
		}
		t.f()
	}

	s.mu.Lock()
	s.now = target
	s.mu.Unlock()
}

// Flush fires every timer already due without moving the clock.
func (s *Scheduler) Flush() {
	s.Advance(0)
}

func (s *Scheduler) nextDue(target time.Duration) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *Timer
	live := s.timers[:0]
	for _, t := range s.timers {
		if t.stopped || t.fired {
			continue
		}
		live = append(live, t)
		if t.at > target {
			continue
		}
		if next == nil || t.at < next.at || (t.at == next.at && t.seq < next.seq) {
			next = t
		}
	}
	s.timers = live
	if next != nil {
		next.fired = true
		s.now = next.at
	}
	return next
}

// Pending reports how many timers are armed and not yet fired.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
