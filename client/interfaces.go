package client

import (
	"context"
	"time"
)

// Logger is the minimal logging abstraction used across modules.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Config provides typed access to configuration values.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetFloat64(key string) float64
}

// UserProvider exposes the current authenticated user, if any.
// Session management itself lives outside this module; the data layer
// only ever asks "who is the user right now".
type UserProvider interface {
	// CurrentUserID returns the authenticated user id, or "" when no
	// user is signed in.
	CurrentUserID() string
}

// Backend is the hosted backend consumed by the client: auto-generated
// REST over managed Postgres plus a handful of RPC functions. All calls
// honour context cancellation.
type Backend interface {
	SearchTracks(ctx context.Context, params SearchParams) ([]TrackRow, error)
	Autocomplete(ctx context.Context, query string, limit int) ([]AutocompleteRow, error)
	Feed(ctx context.Context, params FeedParams) ([]TrackRow, error)
	TrackByID(ctx context.Context, id string) (*TrackRow, error)
	TracksByIDs(ctx context.Context, ids []string) ([]TrackRow, error)
	PlaylistsByIDs(ctx context.Context, ids []string) ([]PlaylistRow, error)

	RecentTracks(ctx context.Context, userID string, limit int, after *time.Time) ([]RecentTrackRow, error)
	RecentAuthors(ctx context.Context, userID string, limit int) ([]AuthorRow, error)
	RecentPlaylists(ctx context.Context, userID string, limit int) ([]RecentPlaylistRow, error)

	GetLikes(ctx context.Context, userID string, targetIDs []string, targetType LikeTargetType) ([]LikeRow, error)
	AddLike(ctx context.Context, userID string, target LikeTarget) error
	DeleteLike(ctx context.Context, userID string, target LikeTarget) error

	// RecordPlay is fire-and-forget from the caller's point of view;
	// failures are reported through the returned error but are never
	// fatal to playback.
	RecordPlay(ctx context.Context, userID, trackID string) error
}

// HistoryRepository stores the local listen journal and the persisted
// player snapshot.
type HistoryRepository interface {
	RecordPlay(ctx context.Context, event PlayEvent) error
	LastPlayedAt(ctx context.Context, userID, trackID string) (*time.Time, error)
	SaveSnapshot(ctx context.Context, snapshot PlayerSnapshot) error
	LoadSnapshot(ctx context.Context) (*PlayerSnapshot, error)
}

// WorkerPool limits concurrency for background tasks. TrySubmit rejects
// instead of blocking when the queue is full.
type WorkerPool interface {
	Submit(task func()) error
	TrySubmit(task func()) error
	Shutdown(ctx context.Context) error
}
