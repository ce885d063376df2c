package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/velichkin/wavefm/client"
)

type stubUsers struct {
	id string
}

func (u stubUsers) CurrentUserID() string { return u.id }

// memRepo is an in-memory client.HistoryRepository.
type memRepo struct {
	mu     sync.Mutex
	events []client.PlayEvent
}

func (r *memRepo) RecordPlay(ctx context.Context, event client.PlayEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memRepo) LastPlayedAt(ctx context.Context, userID, trackID string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *time.Time
	for _, event := range r.events {
		if event.UserID != userID || event.TrackID != trackID {
			continue
		}
		if last == nil || event.PlayedAt.After(*last) {
			playedAt := event.PlayedAt
			last = &playedAt
		}
	}
	return last, nil
}

func (r *memRepo) SaveSnapshot(ctx context.Context, snapshot client.PlayerSnapshot) error {
	return nil
}

func (r *memRepo) LoadSnapshot(ctx context.Context) (*client.PlayerSnapshot, error) {
	return nil, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// inlinePool runs submitted tasks synchronously.
type inlinePool struct{}

func (inlinePool) Submit(task func()) error    { task(); return nil }
func (inlinePool) TrySubmit(task func()) error { task(); return nil }
func (inlinePool) Shutdown(ctx context.Context) error {
	return nil
}

// playBackend counts RecordPlay calls and stubs the rest of the API.
type playBackend struct {
	mu      sync.Mutex
	records int
	err     error
}

func (b *playBackend) RecordPlay(ctx context.Context, userID, trackID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records++
	return b.err
}

func (b *playBackend) recordCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records
}

func (b *playBackend) SearchTracks(ctx context.Context, params client.SearchParams) ([]client.TrackRow, error) {
	return nil, nil
}

func (b *playBackend) Autocomplete(ctx context.Context, query string, limit int) ([]client.AutocompleteRow, error) {
	return nil, nil
}

func (b *playBackend) Feed(ctx context.Context, params client.FeedParams) ([]client.TrackRow, error) {
	return nil, nil
}

func (b *playBackend) TrackByID(ctx context.Context, id string) (*client.TrackRow, error) {
	return nil, nil
}

func (b *playBackend) TracksByIDs(ctx context.Context, ids []string) ([]client.TrackRow, error) {
	return nil, nil
}

func (b *playBackend) PlaylistsByIDs(ctx context.Context, ids []string) ([]client.PlaylistRow, error) {
	return nil, nil
}

func (b *playBackend) RecentTracks(ctx context.Context, userID string, limit int, after *time.Time) ([]client.RecentTrackRow, error) {
	return nil, nil
}

func (b *playBackend) RecentAuthors(ctx context.Context, userID string, limit int) ([]client.AuthorRow, error) {
	return nil, nil
}

func (b *playBackend) RecentPlaylists(ctx context.Context, userID string, limit int) ([]client.RecentPlaylistRow, error) {
	return nil, nil
}

func (b *playBackend) GetLikes(ctx context.Context, userID string, targetIDs []string, targetType client.LikeTargetType) ([]client.LikeRow, error) {
	return nil, nil
}

func (b *playBackend) AddLike(ctx context.Context, userID string, target client.LikeTarget) error {
	return nil
}

func (b *playBackend) DeleteLike(ctx context.Context, userID string, target client.LikeTarget) error {
	return nil
}

func TestTrackStartedJournalsAndSubmits(t *testing.T) {
	repo := &memRepo{}
	backend := &playBackend{}
	recorder := NewRecorder(Options{
		Backend: backend,
		Repo:    repo,
		Users:   stubUsers{id: "u1"},
		Pool:    inlinePool{},
	})

	recorder.TrackStarted(client.TrackRow{ID: "t1"})

	if repo.count() != 1 {
		t.Fatalf("expected one journal entry, got %d", repo.count())
	}
	if backend.recordCount() != 1 {
		t.Fatalf("expected one remote submission, got %d", backend.recordCount())
	}
}

func TestDedupWindowSuppressesRepeats(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	repo := &memRepo{}
	backend := &playBackend{}
	recorder := NewRecorder(Options{
		Backend:     backend,
		Repo:        repo,
		Users:       stubUsers{id: "u1"},
		Pool:        inlinePool{},
		DedupWindow: 300 * time.Second,
		Now:         func() time.Time { return clock },
	})

	recorder.TrackStarted(client.TrackRow{ID: "t1"})
	clock = now.Add(299 * time.Second)
	recorder.TrackStarted(client.TrackRow{ID: "t1"})

	if repo.count() != 1 {
		t.Fatalf("repeat inside the window must be suppressed, got %d entries", repo.count())
	}

	// Exactly at the window boundary the play counts again.
	clock = now.Add(300 * time.Second)
	recorder.TrackStarted(client.TrackRow{ID: "t1"})
	if repo.count() != 2 {
		t.Fatalf("repeat at the window boundary must be recorded, got %d entries", repo.count())
	}

	// A different track is never suppressed.
	recorder.TrackStarted(client.TrackRow{ID: "t2"})
	if repo.count() != 3 {
		t.Fatalf("other tracks must not be suppressed, got %d entries", repo.count())
	}
}

func TestTrackStartedSkipsAnonymousUser(t *testing.T) {
	repo := &memRepo{}
	backend := &playBackend{}
	recorder := NewRecorder(Options{
		Backend: backend,
		Repo:    repo,
		Users:   stubUsers{},
		Pool:    inlinePool{},
	})

	recorder.TrackStarted(client.TrackRow{ID: "t1"})

	if repo.count() != 0 || backend.recordCount() != 0 {
		t.Fatalf("anonymous listen must not be recorded")
	}
}

func TestRemoteFailureKeepsJournalEntry(t *testing.T) {
	repo := &memRepo{}
	backend := &playBackend{err: errors.New("backend down")}
	recorder := NewRecorder(Options{
		Backend: backend,
		Repo:    repo,
		Users:   stubUsers{id: "u1"},
		Pool:    inlinePool{},
	})

	recorder.TrackStarted(client.TrackRow{ID: "t1"})

	if repo.count() != 1 {
		t.Fatalf("journal entry must survive a remote failure, got %d", repo.count())
	}

	events := append([]client.PlayEvent(nil), repo.events...)
	if events[0].ID == "" || events[0].UserID != "u1" || events[0].TrackID != "t1" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}
