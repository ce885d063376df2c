package recent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/velichkin/wavefm/client"
)

type stubUsers struct {
	id string
}

func (u stubUsers) CurrentUserID() string { return u.id }

// recentBackend implements the recent-related part of client.Backend.
type recentBackend struct {
	recentTracksFn    func(ctx context.Context, userID string, limit int, after *time.Time) ([]client.RecentTrackRow, error)
	recentAuthorsFn   func(ctx context.Context, userID string, limit int) ([]client.AuthorRow, error)
	recentPlaylistsFn func(ctx context.Context, userID string, limit int) ([]client.RecentPlaylistRow, error)
	tracksByIDsFn     func(ctx context.Context, ids []string) ([]client.TrackRow, error)
	playlistsByIDsFn  func(ctx context.Context, ids []string) ([]client.PlaylistRow, error)

	calls atomic.Int64
}

func (b *recentBackend) RecentTracks(ctx context.Context, userID string, limit int, after *time.Time) ([]client.RecentTrackRow, error) {
	b.calls.Add(1)
	if b.recentTracksFn != nil {
		return b.recentTracksFn(ctx, userID, limit, after)
	}
	return nil, nil
}

func (b *recentBackend) RecentAuthors(ctx context.Context, userID string, limit int) ([]client.AuthorRow, error) {
	b.calls.Add(1)
	if b.recentAuthorsFn != nil {
		return b.recentAuthorsFn(ctx, userID, limit)
	}
	return nil, nil
}

func (b *recentBackend) RecentPlaylists(ctx context.Context, userID string, limit int) ([]client.RecentPlaylistRow, error) {
	b.calls.Add(1)
	if b.recentPlaylistsFn != nil {
		return b.recentPlaylistsFn(ctx, userID, limit)
	}
	return nil, nil
}

func (b *recentBackend) TracksByIDs(ctx context.Context, ids []string) ([]client.TrackRow, error) {
	b.calls.Add(1)
	if b.tracksByIDsFn != nil {
		return b.tracksByIDsFn(ctx, ids)
	}
	return nil, nil
}

func (b *recentBackend) PlaylistsByIDs(ctx context.Context, ids []string) ([]client.PlaylistRow, error) {
	b.calls.Add(1)
	if b.playlistsByIDsFn != nil {
		return b.playlistsByIDsFn(ctx, ids)
	}
	return nil, nil
}

func (b *recentBackend) SearchTracks(ctx context.Context, params client.SearchParams) ([]client.TrackRow, error) {
	return nil, nil
}

func (b *recentBackend) Autocomplete(ctx context.Context, query string, limit int) ([]client.AutocompleteRow, error) {
	return nil, nil
}

func (b *recentBackend) Feed(ctx context.Context, params client.FeedParams) ([]client.TrackRow, error) {
	return nil, nil
}

func (b *recentBackend) TrackByID(ctx context.Context, id string) (*client.TrackRow, error) {
	return nil, nil
}

func (b *recentBackend) GetLikes(ctx context.Context, userID string, targetIDs []string, targetType client.LikeTargetType) ([]client.LikeRow, error) {
	return nil, nil
}

func (b *recentBackend) AddLike(ctx context.Context, userID string, target client.LikeTarget) error {
	return nil
}

func (b *recentBackend) DeleteLike(ctx context.Context, userID string, target client.LikeTarget) error {
	return nil
}

func (b *recentBackend) RecordPlay(ctx context.Context, userID, trackID string) error {
	return nil
}

func TestLoadAllUnauthenticatedClearsWithoutNetwork(t *testing.T) {
	backend := &recentBackend{}
	agg := New(Options{Backend: backend, Users: stubUsers{}})

	snapshot := agg.LoadAll(context.Background(), Limits{})
	if len(snapshot.Tracks) != 0 || len(snapshot.Authors) != 0 || len(snapshot.Playlists) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snapshot)
	}
	if backend.calls.Load() != 0 {
		t.Fatalf("unauthenticated load must not reach the backend, got %d calls", backend.calls.Load())
	}
}

func TestLoadAllAssemblesAllThreeSources(t *testing.T) {
	now := time.Now().UTC()
	backend := &recentBackend{
		recentTracksFn: func(ctx context.Context, userID string, limit int, after *time.Time) ([]client.RecentTrackRow, error) {
			return []client.RecentTrackRow{
				{TrackID: "t2", LastPlayed: now, PlayCount: 4},
				{TrackID: "t1", LastPlayed: now.Add(-time.Hour), PlayCount: 1},
				{TrackID: "deleted", LastPlayed: now.Add(-2 * time.Hour), PlayCount: 9},
			}, nil
		},
		tracksByIDsFn: func(ctx context.Context, ids []string) ([]client.TrackRow, error) {
			// Order differs from recency and one id has no detail row.
			return []client.TrackRow{{ID: "t1", Title: "One"}, {ID: "t2", Title: "Two"}}, nil
		},
		recentAuthorsFn: func(ctx context.Context, userID string, limit int) ([]client.AuthorRow, error) {
			return []client.AuthorRow{{ID: "a1", Name: "Author", LastPlayed: now}}, nil
		},
		recentPlaylistsFn: func(ctx context.Context, userID string, limit int) ([]client.RecentPlaylistRow, error) {
			return []client.RecentPlaylistRow{{PlaylistID: "p1", LastPlayed: now, Plays: 2}}, nil
		},
		playlistsByIDsFn: func(ctx context.Context, ids []string) ([]client.PlaylistRow, error) {
			return []client.PlaylistRow{{ID: "p1", Title: "Mix"}}, nil
		},
	}
	agg := New(Options{Backend: backend, Users: stubUsers{id: "u1"}})

	snapshot := agg.LoadAll(context.Background(), Limits{})
	if agg.Err() != nil {
		t.Fatalf("unexpected error: %v", agg.Err())
	}

	if len(snapshot.Tracks) != 3 {
		t.Fatalf("expected 3 tracks, got %d", len(snapshot.Tracks))
	}
	if snapshot.Tracks[0].Track.ID != "t2" || snapshot.Tracks[1].Track.ID != "t1" {
		t.Fatalf("tracks not in recency order: %+v", snapshot.Tracks)
	}
	if snapshot.Tracks[2].Track.ID != "deleted" || snapshot.Tracks[2].Track.Title != "" {
		t.Fatalf("missing detail row must yield a placeholder, got %+v", snapshot.Tracks[2].Track)
	}
	if snapshot.Tracks[0].PlayCount != 4 {
		t.Fatalf("recency metadata lost: %+v", snapshot.Tracks[0])
	}

	if len(snapshot.Authors) != 1 || snapshot.Authors[0].ID != "a1" {
		t.Fatalf("unexpected authors: %+v", snapshot.Authors)
	}
	if len(snapshot.Playlists) != 1 || snapshot.Playlists[0].Playlist.Title != "Mix" {
		t.Fatalf("unexpected playlists: %+v", snapshot.Playlists)
	}
}

func TestLoadAllPreservesTracksWhenAnotherSourceFails(t *testing.T) {
	now := time.Now().UTC()
	boom := errors.New("authors down")
	tracksDone := make(chan struct{})
	var once sync.Once

	backend := &recentBackend{
		recentTracksFn: func(ctx context.Context, userID string, limit int, after *time.Time) ([]client.RecentTrackRow, error) {
			return []client.RecentTrackRow{{TrackID: "t1", LastPlayed: now, PlayCount: 1}}, nil
		},
		tracksByIDsFn: func(ctx context.Context, ids []string) ([]client.TrackRow, error) {
			once.Do(func() { close(tracksDone) })
			return []client.TrackRow{{ID: "t1", Title: "Kept"}}, nil
		},
		recentAuthorsFn: func(ctx context.Context, userID string, limit int) ([]client.AuthorRow, error) {
			// Fail only after the tracks stage finished its last fetch, so
			// the outcome does not depend on goroutine scheduling.
			<-tracksDone
			return nil, boom
		},
	}
	agg := New(Options{Backend: backend, Users: stubUsers{id: "u1"}})

	snapshot := agg.LoadAll(context.Background(), Limits{})
	if !errors.Is(agg.Err(), boom) {
		t.Fatalf("expected recorded error, got %v", agg.Err())
	}
	if len(snapshot.Tracks) != 1 || snapshot.Tracks[0].Track.Title != "Kept" {
		t.Fatalf("tracks must survive a failure in another source, got %+v", snapshot.Tracks)
	}
	if len(snapshot.Authors) != 0 {
		t.Fatalf("failed source must stay empty, got %+v", snapshot.Authors)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	agg := New(Options{Backend: &recentBackend{}, Users: stubUsers{id: "u1"}})
	agg.Cancel()
	agg.Cancel()
}
