// Package recent aggregates the three recently-played sources (tracks,
// authors, playlists) into one snapshot. A reload cancels every pending
// sub-request before issuing new ones, so a stale detail fetch can never
// race a fresh recency fetch.
package recent

import (
	"context"
	"sync"

	"github.com/velichkin/wavefm/client"
	"golang.org/x/sync/errgroup"
)

// Snapshot is one consistent view of recent activity.
type Snapshot struct {
	Tracks    []client.RecentTrackItem
	Authors   []client.AuthorRow
	Playlists []client.RecentPlaylistItem
}

// Limits bound the three lookups independently.
type Limits struct {
	Tracks    int
	Authors   int
	Playlists int
}

func (l Limits) withDefaults() Limits {
	if l.Tracks <= 0 {
		l.Tracks = 20
	}
	if l.Authors <= 0 {
		l.Authors = 10
	}
	if l.Playlists <= 0 {
		l.Playlists = 10
	}
	return l
}

// Options configure an Aggregator.
type Options struct {
	Backend client.Backend
	Users   client.UserProvider
	Logger  client.Logger
}

// Aggregator loads and caches the recent-activity snapshot.
type Aggregator struct {
	backend client.Backend
	users   client.UserProvider
	logger  client.Logger

	mu        sync.Mutex
	tracks    []client.RecentTrackItem
	authors   []client.AuthorRow
	playlists []client.RecentPlaylistItem
	loading   bool
	err       error
	gen       uint64
	cancel    context.CancelFunc
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	return &Aggregator{
		backend: opts.Backend,
		users:   opts.Users,
		logger:  opts.Logger,
	}
}

// LoadAll refreshes all three sources. For an unauthenticated user it
// clears the snapshot and returns immediately with zero network calls.
// On a non-cancellation failure the error is recorded and whatever the
// authoritative tracks source delivered so far is preserved.
func (a *Aggregator) LoadAll(ctx context.Context, limits Limits) Snapshot {
	limits = limits.withDefaults()

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	userID := a.users.CurrentUserID()
	if userID == "" {
		a.mu.Lock()
		a.tracks = nil
		a.authors = nil
		a.playlists = nil
		a.err = nil
		snapshot := a.snapshotLocked()
		a.mu.Unlock()
		return snapshot
	}

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.cancel = cancel
	a.loading = true
	a.err = nil
	a.mu.Unlock()

	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		items, err := a.loadTracks(groupCtx, userID, limits.Tracks)
		if err != nil {
			return err
		}
		a.apply(gen, func() { a.tracks = items })
		return nil
	})

	group.Go(func() error {
		rows, err := a.backend.RecentAuthors(groupCtx, userID, limits.Authors)
		if err != nil {
			return err
		}
		a.apply(gen, func() { a.authors = rows })
		return nil
	})

	group.Go(func() error {
		items, err := a.loadPlaylists(groupCtx, userID, limits.Playlists)
		if err != nil {
			return err
		}
		a.apply(gen, func() { a.playlists = items })
		return nil
	})

	err := group.Wait()
	cancel()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen == gen {
		a.loading = false
		a.cancel = nil
		if err != nil && !client.IsCancelled(err) {
			a.err = err
			if a.logger != nil {
				a.logger.Error("recent activity load failed", "error", err)
			}
		}
	}
	return a.snapshotLocked()
}

// loadTracks runs the recency lookup followed by the detail batch,
// re-assembled in recency order with placeholders for missing rows.
func (a *Aggregator) loadTracks(ctx context.Context, userID string, limit int) ([]client.RecentTrackItem, error) {
	light, err := a.backend.RecentTracks(ctx, userID, limit, nil)
	if err != nil {
		return nil, err
	}
	if len(light) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(light))
	for _, row := range light {
		ids = append(ids, row.TrackID)
	}
	details, err := a.backend.TracksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]client.TrackRow, len(details))
	for _, track := range details {
		byID[track.ID] = track
	}

	items := make([]client.RecentTrackItem, 0, len(light))
	for _, row := range light {
		track, found := byID[row.TrackID]
		if !found {
			track = client.TrackRow{ID: row.TrackID}
		}
		items = append(items, client.RecentTrackItem{
			Track:      track,
			LastPlayed: row.LastPlayed,
			PlayCount:  row.PlayCount,
		})
	}
	return items, nil
}

func (a *Aggregator) loadPlaylists(ctx context.Context, userID string, limit int) ([]client.RecentPlaylistItem, error) {
	light, err := a.backend.RecentPlaylists(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if len(light) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(light))
	for _, row := range light {
		ids = append(ids, row.PlaylistID)
	}
	details, err := a.backend.PlaylistsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]client.PlaylistRow, len(details))
	for _, playlist := range details {
		byID[playlist.ID] = playlist
	}

	items := make([]client.RecentPlaylistItem, 0, len(light))
	for _, row := range light {
		playlist, found := byID[row.PlaylistID]
		if !found {
			playlist = client.PlaylistRow{ID: row.PlaylistID}
		}
		items = append(items, client.RecentPlaylistItem{
			Playlist:   playlist,
			LastPlayed: row.LastPlayed,
			Plays:      row.Plays,
		})
	}
	return items, nil
}

// apply mutates aggregator state only while the load that produced the
// data still owns the snapshot.
func (a *Aggregator) apply(gen uint64, mutate func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen == gen {
		mutate()
	}
}

// Cancel aborts the in-flight load, if any. Safe to call repeatedly.
func (a *Aggregator) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// Current returns the latest snapshot without loading.
func (a *Aggregator) Current() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Loading reports whether a load is in flight.
func (a *Aggregator) Loading() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loading
}

// Err returns the last non-cancellation load error.
func (a *Aggregator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Aggregator) snapshotLocked() Snapshot {
	return Snapshot{
		Tracks:    append([]client.RecentTrackItem(nil), a.tracks...),
		Authors:   append([]client.AuthorRow(nil), a.authors...),
		Playlists: append([]client.RecentPlaylistItem(nil), a.playlists...),
	}
}
