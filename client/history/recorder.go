// Package history records listens. Each play lands in the local journal
// and is forwarded to the backend best-effort; a repeat of the same track
// inside the dedup window is dropped so rapid skipping back and forth
// does not inflate play counts.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/velichkin/wavefm/client"
)

// DefaultDedupWindow suppresses repeat listens of the same track within
// five minutes.
const DefaultDedupWindow = 300 * time.Second

const recordTimeout = 10 * time.Second

// Options configure a Recorder.
type Options struct {
	Backend     client.Backend
	Repo        client.HistoryRepository
	Users       client.UserProvider
	Pool        client.WorkerPool
	Logger      client.Logger
	DedupWindow time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Recorder journals listens locally and submits them remotely.
type Recorder struct {
	backend client.Backend
	repo    client.HistoryRepository
	users   client.UserProvider
	pool    client.WorkerPool
	logger  client.Logger
	window  time.Duration
	now     func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(opts Options) *Recorder {
	window := opts.DedupWindow
	if window <= 0 {
		window = DefaultDedupWindow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		backend: opts.Backend,
		repo:    opts.Repo,
		users:   opts.Users,
		pool:    opts.Pool,
		logger:  opts.Logger,
		window:  window,
		now:     now,
	}
}

// TrackStarted records one listen of the track for the current user.
// Failures are logged and never propagate to playback.
func (r *Recorder) TrackStarted(track client.TrackRow) {
	userID := r.users.CurrentUserID()
	if userID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	now := r.now().UTC()
	last, err := r.repo.LastPlayedAt(ctx, userID, track.ID)
	if err != nil {
		r.logError("listen journal lookup failed", track.ID, err)
	} else if last != nil && now.Sub(*last) < r.window {
		if r.logger != nil {
			r.logger.Debug("listen suppressed by dedup window", "track", track.ID)
		}
		return
	}

	event := client.PlayEvent{
		ID:       uuid.NewString(),
		UserID:   userID,
		TrackID:  track.ID,
		PlayedAt: now,
	}
	if err := r.repo.RecordPlay(ctx, event); err != nil {
		r.logError("listen journal write failed", track.ID, err)
	}

	r.submitRemote(event)
}

// submitRemote forwards the event to the backend on the worker pool.
// When the pool is full or closed the event stays local only.
func (r *Recorder) submitRemote(event client.PlayEvent) {
	if r.pool == nil || r.backend == nil {
		return
	}
	err := r.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.backend.RecordPlay(ctx, event.UserID, event.TrackID); err != nil {
			r.logError("remote play submission failed", event.TrackID, err)
		}
	})
	if err != nil {
		r.logError("remote play submission skipped", event.TrackID, err)
	}
}

func (r *Recorder) logError(msg, trackID string, err error) {
	if r.logger != nil {
		r.logger.Warn(msg, "track", trackID, "error", err)
	}
}
