package orchestrator

import (
	"sync"
	"time"
)

// silenceTimer implements the local endpointer of §4.4: a timer that fires
// exactly once per arming, where re-arming cancels any pending fire (§8
// invariant). Disarm stops it without firing.
type silenceTimer struct {
	mu         sync.Mutex
	timer      *time.Timer
	generation int
	duration   time.Duration
	onFire     func()
}

func newSilenceTimer(duration time.Duration, onFire func()) *silenceTimer {
	return &silenceTimer{duration: duration, onFire: onFire}
}

// Arm (re)starts the timer. Any fire scheduled by a previous Arm call is
// cancelled, even if it is already queued to run, via a generation check
// inside the fire callback.
func (s *silenceTimer) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.generation++
	gen := s.generation
	s.timer = time.AfterFunc(s.duration, func() {
		s.mu.Lock()
		stale := gen != s.generation
		s.mu.Unlock()
		if stale {
			return
		}
		s.onFire()
	})
}

// Disarm stops the timer without firing (e.g. on speech_started or
// utterance_end, per §4.4).
func (s *silenceTimer) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.generation++
}
