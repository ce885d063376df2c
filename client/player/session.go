package player

import (
	"sync"
	"time"
)

// Events are the callbacks a Session fires as the underlying transport
// changes state. All callbacks may be invoked from the session's own
// goroutine and must not be assumed to run on the caller's.
type Events struct {
	// OnLoad fires once the resource is decodable and its duration known.
	OnLoad func(duration float64)
	// OnEnd fires when playback reaches the end of the resource.
	OnEnd func()
	// OnUnlock fires when a transport that deferred playback (autoplay
	// policy) becomes able to play.
	OnUnlock func()
	// OnError fires on a load or playback failure.
	OnError func(err error)
}

// Session wraps exactly one decodable audio resource. The engine owns at
// most one Session at a time and tears it down before building the next.
type Session interface {
	Play() error
	Pause()
	Stop()
	Seek(position float64)
	Position() float64
	SetVolume(volume float64)
	Close()
}

// SessionFactory builds a Session bound to an audio location.
type SessionFactory func(audioURL string, duration, volume float64, events Events) (Session, error)

// clockSession is the built-in transport: it simulates playback against
// the wall clock using the track's known duration. It stands in where no
// real audio output is wired (headless runs, tests).
type clockSession struct {
	mu       sync.Mutex
	duration float64
	offset   float64
	started  time.Time
	playing  bool
	closed   bool
	events   Events
	endTimer *time.Timer
}

// NewClockSession creates the simulated transport.
func NewClockSession(audioURL string, duration, volume float64, events Events) (Session, error) {
	s := &clockSession{
		duration: duration,
		events:   events,
	}
	if events.OnLoad != nil {
		events.OnLoad(duration)
	}
	return s, nil
}

func (s *clockSession) Play() error {
	s.mu.Lock()
	if s.closed || s.playing {
		s.mu.Unlock()
		return nil
	}
	s.playing = true
	s.started = time.Now()
	s.armEndTimerLocked()
	s.mu.Unlock()
	return nil
}

func (s *clockSession) Pause() {
	s.mu.Lock()
	if s.playing {
		s.offset += time.Since(s.started).Seconds()
		s.playing = false
		s.disarmEndTimerLocked()
	}
	s.mu.Unlock()
}

func (s *clockSession) Stop() {
	s.mu.Lock()
	s.playing = false
	s.offset = 0
	s.disarmEndTimerLocked()
	s.mu.Unlock()
}

func (s *clockSession) Seek(position float64) {
	s.mu.Lock()
	if position < 0 {
		position = 0
	}
	if s.duration > 0 && position > s.duration {
		position = s.duration
	}
	s.offset = position
	s.started = time.Now()
	if s.playing {
		s.armEndTimerLocked()
	}
	s.mu.Unlock()
}

func (s *clockSession) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	position := s.offset
	if s.playing {
		position += time.Since(s.started).Seconds()
	}
	if s.duration > 0 && position > s.duration {
		position = s.duration
	}
	return position
}

func (s *clockSession) SetVolume(volume float64) {}

func (s *clockSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.playing = false
	s.disarmEndTimerLocked()
	s.mu.Unlock()
}

func (s *clockSession) armEndTimerLocked() {
	s.disarmEndTimerLocked()
	if s.duration <= 0 {
		return
	}
	remaining := s.duration - s.offset
	if remaining < 0 {
		remaining = 0
	}
	s.endTimer = time.AfterFunc(time.Duration(remaining*float64(time.Second)), s.fireEnd)
}

func (s *clockSession) disarmEndTimerLocked() {
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
}

func (s *clockSession) fireEnd() {
	s.mu.Lock()
	if s.closed || !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	s.offset = s.duration
	onEnd := s.events.OnEnd
	s.mu.Unlock()

	if onEnd != nil {
		onEnd()
	}
}
