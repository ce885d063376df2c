// Package player holds the playback engine: one audio session at a time,
// a queue with shuffle and repeat, a once-per-second progress tick and the
// view-panel layout around the playing track.
package player

import (
	"math/rand"
	"sync"
	"time"

	"github.com/velichkin/wavefm/client"
)

// Event names published through the Emitter.
const (
	EventStateChanged = "player:state"
	EventViewChanged  = "player:views"
)

// Emitter receives engine events. It is called outside the engine lock
// and may be nil.
type Emitter func(event string, payload any)

// Recorder is notified when playback of a new track starts. Resuming a
// paused track does not count.
type Recorder interface {
	TrackStarted(track client.TrackRow)
}

// State is the observable snapshot published on every EventStateChanged.
type State struct {
	CurrentTrack *client.TrackRow
	IsPlaying    bool
	CurrentTime  float64
	Duration     float64
	Volume       float64
	IsRepeat     bool
	IsShuffle    bool
	QueueLength  int
	CurrentIndex int
}

// Options configure an Engine.
type Options struct {
	Factory  SessionFactory
	Emitter  Emitter
	Recorder Recorder
	Logger   client.Logger
	Volume   float64
}

// Engine is the playback state machine. All exported methods are safe for
// concurrent use.
type Engine struct {
	factory  SessionFactory
	emitter  Emitter
	recorder Recorder
	logger   client.Logger

	mu          sync.Mutex
	session     Session
	current     *client.TrackRow
	queue       []client.TrackRow
	index       int
	isPlaying   bool
	currentTime float64
	duration    float64
	volume      float64
	repeat      bool
	shuffle     bool
	tickStop    chan struct{}
	awaitUnlock bool
	unlockUsed  bool
	// recordPending marks a freshly loaded track whose listen has not
	// been recorded yet; consumed when playback actually starts.
	recordPending bool
	// loadGen identifies the most recent load, so a slower concurrent
	// load can never install its session over a newer one.
	loadGen uint64
	lastErr error
	closed  bool
	rng     *rand.Rand

	views panels
}

// NewEngine creates an engine. A nil Factory falls back to the clock
// transport.
func NewEngine(opts Options) *Engine {
	factory := opts.Factory
	if factory == nil {
		factory = NewClockSession
	}
	volume := opts.Volume
	if volume <= 0 || volume > 1 {
		volume = 1
	}
	return &Engine{
		factory:  factory,
		emitter:  opts.Emitter,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		volume:   volume,
		index:    -1,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Play starts the given track. When list is non-empty it wholesale
// replaces the queue. Calling Play for the track already loaded toggles
// pause and resume instead of rebuilding the session.
func (e *Engine) Play(track client.TrackRow, list []client.TrackRow) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if e.current != nil && e.current.ID == track.ID && e.session != nil {
		playing := e.isPlaying
		e.mu.Unlock()
		if playing {
			e.Pause()
			return nil
		}
		return e.Resume()
	}
	e.mu.Unlock()

	return e.load(track, list, true)
}

// load tears down the old session, binds the new track and, when
// autoplay is true, starts playback. The listen is recorded by
// startPlayback once the track actually enters playing.
func (e *Engine) load(track client.TrackRow, list []client.TrackRow, autoplay bool) error {
	e.teardownSession()

	e.mu.Lock()
	e.loadGen++
	gen := e.loadGen
	copied := track
	e.current = &copied
	e.currentTime = 0
	e.duration = track.Duration
	if len(list) > 0 {
		e.queue = append([]client.TrackRow(nil), list...)
	}
	e.index = indexOf(e.queue, track.ID)
	volume := e.volume
	e.awaitUnlock = false
	e.unlockUsed = false
	e.recordPending = false
	e.lastErr = nil
	e.mu.Unlock()

	session, err := e.factory(track.AudioURL, track.Duration, volume, Events{
		OnLoad:   e.onLoad,
		OnEnd:    e.onEnd,
		OnUnlock: e.onUnlock,
		OnError:  e.onSessionError,
	})
	if err != nil {
		e.mu.Lock()
		if e.loadGen == gen {
			e.lastErr = err
		}
		e.mu.Unlock()
		if e.logger != nil {
			e.logger.Error("audio session failed to load", "track", track.ID, "error", err)
		}
		e.emitState()
		return err
	}

	e.mu.Lock()
	if e.loadGen != gen || e.closed {
		e.mu.Unlock()
		// A newer load took over while the factory ran; its session is
		// the live one and this one must not replace it.
		session.Close()
		return nil
	}
	e.session = session
	e.recordPending = autoplay
	e.mu.Unlock()

	if !autoplay {
		e.emitState()
		return nil
	}
	return e.startPlayback()
}

// startPlayback asks the session to play. A refusal arms a single
// unlock retry rather than failing the engine; a deferred track's
// pending listen stays pending until playback really starts.
func (e *Engine) startPlayback() error {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return client.ErrNoTrack
	}

	err := session.Play()

	e.mu.Lock()
	if err != nil {
		e.lastErr = err
		e.isPlaying = false
		if !e.unlockUsed {
			e.awaitUnlock = true
		}
		e.stopTickerLocked()
		e.mu.Unlock()
		if e.logger != nil {
			e.logger.Warn("playback deferred", "error", err)
		}
		e.emitState()
		return nil
	}
	e.isPlaying = true
	e.awaitUnlock = false
	record := e.recordPending && e.current != nil
	e.recordPending = false
	var started client.TrackRow
	if record {
		started = *e.current
	}
	e.startTickerLocked()
	e.mu.Unlock()

	e.emitState()
	if record && e.recorder != nil {
		e.recorder.TrackStarted(started)
	}
	return nil
}

// Pause suspends playback, keeping the session loaded.
func (e *Engine) Pause() {
	e.mu.Lock()
	session := e.session
	if session == nil || !e.isPlaying {
		e.mu.Unlock()
		return
	}
	e.isPlaying = false
	e.stopTickerLocked()
	e.mu.Unlock()

	session.Pause()
	e.syncPosition()
	e.emitState()
}

// Resume continues the loaded track from its paused position.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return client.ErrNoTrack
	}
	if e.isPlaying {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.startPlayback()
}

// Stop halts playback and rewinds to the start. The session stays bound
// so the track can be restarted without a reload.
func (e *Engine) Stop() {
	e.mu.Lock()
	session := e.session
	e.isPlaying = false
	e.currentTime = 0
	e.stopTickerLocked()
	e.mu.Unlock()

	if session != nil {
		session.Stop()
	}
	e.emitState()
}

// Seek moves the playhead, clamped to the track bounds.
func (e *Engine) Seek(position float64) {
	e.mu.Lock()
	session := e.session
	if position < 0 {
		position = 0
	}
	if e.duration > 0 && position > e.duration {
		position = e.duration
	}
	e.currentTime = position
	e.mu.Unlock()

	if session != nil {
		session.Seek(position)
	}
	e.emitState()
}

// SetVolume clamps volume into [0, 1] and applies it to the session.
func (e *Engine) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}

	e.mu.Lock()
	e.volume = volume
	session := e.session
	e.mu.Unlock()

	if session != nil {
		session.SetVolume(volume)
	}
	e.emitState()
}

// ToggleRepeat flips repeat-one mode.
func (e *Engine) ToggleRepeat() {
	e.mu.Lock()
	e.repeat = !e.repeat
	e.mu.Unlock()
	e.emitState()
}

// ToggleShuffle flips shuffle mode.
func (e *Engine) ToggleShuffle() {
	e.mu.Lock()
	e.shuffle = !e.shuffle
	e.mu.Unlock()
	e.emitState()
}

// PlayNext advances through the queue. With shuffle on the next track is
// drawn uniformly from the queue excluding the current one; otherwise the
// queue wraps around at the end.
func (e *Engine) PlayNext() error {
	next, ok := e.pickNeighbor(1)
	if !ok {
		e.Stop()
		return nil
	}
	return e.load(next, nil, true)
}

// PlayPrevious steps back through the queue, wrapping at the front.
// More than three seconds into a track it restarts the track instead.
func (e *Engine) PlayPrevious() error {
	e.mu.Lock()
	pastIntro := e.session != nil && e.currentTime > 3
	e.mu.Unlock()
	if pastIntro {
		e.Seek(0)
		return nil
	}

	previous, ok := e.pickNeighbor(-1)
	if !ok {
		e.Stop()
		return nil
	}
	return e.load(previous, nil, true)
}

// pickNeighbor resolves the queue entry one step away in the given
// direction, honoring shuffle.
func (e *Engine) pickNeighbor(step int) (client.TrackRow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) == 0 || e.index < 0 {
		return client.TrackRow{}, false
	}
	if len(e.queue) == 1 {
		return e.queue[0], true
	}

	if e.shuffle {
		next := e.rng.Intn(len(e.queue) - 1)
		if next >= e.index {
			next++
		}
		return e.queue[next], true
	}

	next := (e.index + step + len(e.queue)) % len(e.queue)
	return e.queue[next], true
}

// ReplaceQueue swaps the whole queue and starts playback at start, or at
// the first entry when start is nil.
func (e *Engine) ReplaceQueue(list []client.TrackRow, start *client.TrackRow) error {
	if len(list) == 0 {
		e.mu.Lock()
		e.queue = nil
		e.index = -1
		e.mu.Unlock()
		e.Stop()
		return nil
	}

	first := list[0]
	if start != nil {
		if at := indexOf(list, start.ID); at >= 0 {
			first = list[at]
		}
	}
	return e.load(first, list, true)
}

// SyncLike updates the liked flag on the loaded track so the now-playing
// surface never shows stale like state.
func (e *Engine) SyncLike(trackID string, liked bool) {
	e.mu.Lock()
	changed := e.current != nil && e.current.ID == trackID && e.current.IsLikedByUser != liked
	if changed {
		e.current.IsLikedByUser = liked
	}
	for i := range e.queue {
		if e.queue[i].ID == trackID {
			e.queue[i].IsLikedByUser = liked
		}
	}
	e.mu.Unlock()

	if changed {
		e.emitState()
	}
}

// Snapshot captures the restorable part of the engine state.
func (e *Engine) Snapshot() client.PlayerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.queue))
	for _, track := range e.queue {
		ids = append(ids, track.ID)
	}
	snapshot := client.PlayerSnapshot{
		QueueIDs:  ids,
		Position:  e.currentTime,
		Volume:    e.volume,
		Repeat:    e.repeat,
		Shuffle:   e.shuffle,
		UpdatedAt: time.Now().UTC(),
	}
	if e.current != nil {
		snapshot.CurrentTrackID = e.current.ID
	}
	return snapshot
}

// Restore rebuilds the engine from a saved snapshot. tracks supplies the
// resolved rows for the snapshot's queue ids; unresolved ids are dropped.
// The track is bound and seeked but never auto-played.
func (e *Engine) Restore(snapshot client.PlayerSnapshot, tracks []client.TrackRow) error {
	byID := make(map[string]client.TrackRow, len(tracks))
	for _, track := range tracks {
		byID[track.ID] = track
	}

	queue := make([]client.TrackRow, 0, len(snapshot.QueueIDs))
	for _, id := range snapshot.QueueIDs {
		if track, found := byID[id]; found {
			queue = append(queue, track)
		}
	}

	e.mu.Lock()
	e.volume = clampVolume(snapshot.Volume)
	e.repeat = snapshot.Repeat
	e.shuffle = snapshot.Shuffle
	e.mu.Unlock()

	current, found := byID[snapshot.CurrentTrackID]
	if snapshot.CurrentTrackID == "" || !found {
		e.mu.Lock()
		e.queue = queue
		e.index = -1
		e.mu.Unlock()
		e.emitState()
		return nil
	}

	if err := e.load(current, queue, false); err != nil {
		return err
	}
	if snapshot.Position > 0 {
		e.Seek(snapshot.Position)
	}
	return nil
}

// Close tears the engine down. Further calls are no-ops.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.teardownSession()
}

// CurrentTrack returns a copy of the loaded track, or nil.
func (e *Engine) CurrentTrack() *client.TrackRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	copied := *e.current
	return &copied
}

// Queue returns a copy of the queue.
func (e *Engine) Queue() []client.TrackRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]client.TrackRow(nil), e.queue...)
}

// CurrentState returns the snapshot EventStateChanged would carry.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// IsPlaying reports whether playback is running.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isPlaying
}

// LastError returns the most recent session error, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) teardownSession() {
	e.mu.Lock()
	session := e.session
	e.session = nil
	e.isPlaying = false
	e.stopTickerLocked()
	e.mu.Unlock()

	if session != nil {
		session.Stop()
		session.Close()
	}
}

// startTickerLocked launches the once-per-second progress goroutine.
// Exactly one runs while playback is active.
func (e *Engine) startTickerLocked() {
	if e.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	e.tickStop = stop
	go e.tickLoop(stop)
}

func (e *Engine) stopTickerLocked() {
	if e.tickStop != nil {
		close(e.tickStop)
		e.tickStop = nil
	}
}

func (e *Engine) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.syncPosition()
			e.emitState()
		}
	}
}

// syncPosition pulls the playhead from the session into engine state.
func (e *Engine) syncPosition() {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return
	}
	position := session.Position()
	e.mu.Lock()
	e.currentTime = position
	e.mu.Unlock()
}

func (e *Engine) onLoad(duration float64) {
	e.mu.Lock()
	if duration > 0 {
		e.duration = duration
	}
	e.mu.Unlock()
	e.emitState()
}

// onEnd handles natural end of the track: repeat-one restarts the same
// session, otherwise the queue advances.
func (e *Engine) onEnd() {
	e.mu.Lock()
	repeat := e.repeat
	session := e.session
	e.currentTime = 0
	if !repeat {
		e.isPlaying = false
		e.stopTickerLocked()
	}
	e.mu.Unlock()

	if repeat && session != nil {
		session.Seek(0)
		if err := session.Play(); err == nil {
			e.emitState()
			return
		}
	}
	if repeat {
		e.emitState()
		return
	}
	if err := e.PlayNext(); err != nil && e.logger != nil {
		e.logger.Error("advance after track end failed", "error", err)
	}
}

// onUnlock retries the deferred play once the transport allows it. The
// retry happens at most once per loaded track.
func (e *Engine) onUnlock() {
	e.mu.Lock()
	retry := e.awaitUnlock && !e.unlockUsed
	if retry {
		e.awaitUnlock = false
		e.unlockUsed = true
	}
	e.mu.Unlock()

	if retry {
		_ = e.startPlayback()
	}
}

// onSessionError records the failure and leaves the engine paused. The
// unlock retry is the only recovery attempted.
func (e *Engine) onSessionError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.isPlaying = false
	if !e.unlockUsed {
		e.awaitUnlock = true
	}
	e.stopTickerLocked()
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Error("audio session error", "error", err)
	}
	e.emitState()
}

func (e *Engine) emitState() {
	if e.emitter == nil {
		return
	}
	e.mu.Lock()
	state := e.stateLocked()
	e.mu.Unlock()
	e.emitter(EventStateChanged, state)
}

func (e *Engine) stateLocked() State {
	state := State{
		IsPlaying:    e.isPlaying,
		CurrentTime:  e.currentTime,
		Duration:     e.duration,
		Volume:       e.volume,
		IsRepeat:     e.repeat,
		IsShuffle:    e.shuffle,
		QueueLength:  len(e.queue),
		CurrentIndex: e.index,
	}
	if e.current != nil {
		copied := *e.current
		state.CurrentTrack = &copied
	}
	return state
}

func indexOf(queue []client.TrackRow, id string) int {
	for i, track := range queue {
		if track.ID == id {
			return i
		}
	}
	return -1
}

func clampVolume(volume float64) float64 {
	if volume < 0 {
		return 0
	}
	if volume > 1 {
		return 1
	}
	return volume
}
