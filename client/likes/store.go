// Package likes holds the per-user liked state with optimistic toggling.
// A toggle flips the local flag immediately, then confirms remotely and
// rolls back on failure; concurrent toggles for the same id coalesce onto
// the in-flight mutation instead of racing it.
package likes

import (
	"context"
	"sync"

	"github.com/velichkin/wavefm/client"
	"golang.org/x/sync/singleflight"
)

// NowPlayingSync receives like updates for the track the player currently
// holds, so the now-playing view never shows stale like state.
type NowPlayingSync interface {
	SyncLike(trackID string, liked bool)
}

// Options configure a Store.
type Options struct {
	Backend   client.Backend
	Users     client.UserProvider
	Logger    client.Logger
	ChunkSize int
}

// Store caches liked-state per target id and coalesces mutations.
type Store struct {
	backend   client.Backend
	users     client.UserProvider
	logger    client.Logger
	chunkSize int

	group singleflight.Group

	mu      sync.Mutex
	likes   map[string]bool
	pending map[string]struct{}
	player  NowPlayingSync
}

// NewStore creates a like store.
func NewStore(opts Options) *Store {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = 200
	}
	return &Store{
		backend:   opts.Backend,
		users:     opts.Users,
		logger:    opts.Logger,
		chunkSize: chunk,
		likes:     make(map[string]bool),
		pending:   make(map[string]struct{}),
	}
}

// AttachPlayer registers the now-playing sync hook.
func (s *Store) AttachPlayer(player NowPlayingSync) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player = player
}

// IsLiked reports the cached liked-state for id.
func (s *Store) IsLiked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.likes[id]
}

// IsPending reports whether a mutation for id is in flight.
func (s *Store) IsPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, inflight := s.pending[id]
	return inflight
}

// FetchLikes loads liked-state for the given ids in bounded batches. For
// an unauthenticated user every id is marked not-liked without any
// network call.
func (s *Store) FetchLikes(ctx context.Context, targetIDs []string, targetType client.LikeTargetType) error {
	if targetType == "" {
		targetType = client.LikeTargetTrack
	}

	userID := s.users.CurrentUserID()
	if userID == "" {
		s.mu.Lock()
		for _, id := range targetIDs {
			s.likes[id] = false
		}
		s.mu.Unlock()
		return nil
	}

	for _, chunk := range chunkIDs(uniqueIDs(targetIDs), s.chunkSize) {
		rows, err := s.backend.GetLikes(ctx, userID, chunk, targetType)
		if err != nil {
			return err
		}

		s.mu.Lock()
		for _, id := range chunk {
			if _, known := s.likes[id]; !known {
				s.likes[id] = false
			}
		}
		for _, row := range rows {
			s.likes[row.TargetID] = true
		}
		s.mu.Unlock()
	}
	return nil
}

// Toggle flips the liked-state of target optimistically and confirms the
// change remotely. When a mutation for the same id is already pending, the
// call joins it and returns its outcome instead of starting another one.
// On remote failure the local flag is rolled back and the error returned,
// so the UI can react to the failed mutation distinctly.
func (s *Store) Toggle(ctx context.Context, target client.LikeTarget) error {
	result := s.group.DoChan(target.ID, func() (any, error) {
		return nil, s.toggleOnce(ctx, target)
	})

	select {
	case res := <-result:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) toggleOnce(ctx context.Context, target client.LikeTarget) error {
	userID := s.users.CurrentUserID()
	if userID == "" {
		return client.ErrAuthRequired
	}

	s.mu.Lock()
	previous := s.likes[target.ID]
	s.likes[target.ID] = !previous
	s.pending[target.ID] = struct{}{}
	s.mu.Unlock()
	s.syncToPlayer(target.ID, !previous)

	var err error
	if previous {
		err = s.backend.DeleteLike(ctx, userID, target)
	} else {
		err = s.backend.AddLike(ctx, userID, target)
	}

	s.mu.Lock()
	delete(s.pending, target.ID)
	if err != nil {
		s.likes[target.ID] = previous
	}
	s.mu.Unlock()

	if err != nil {
		s.syncToPlayer(target.ID, previous)
		if s.logger != nil {
			s.logger.Error("like toggle failed", "target", target.ID, "error", err)
		}
		return err
	}
	return nil
}

// Refresh re-reads the liked-state of a single id from the backend.
func (s *Store) Refresh(ctx context.Context, id string, targetType client.LikeTargetType) error {
	if targetType == "" {
		targetType = client.LikeTargetTrack
	}

	userID := s.users.CurrentUserID()
	if userID == "" {
		s.mu.Lock()
		s.likes[id] = false
		s.mu.Unlock()
		return nil
	}

	rows, err := s.backend.GetLikes(ctx, userID, []string{id}, targetType)
	if err != nil {
		return err
	}
	liked := len(rows) > 0

	s.mu.Lock()
	s.likes[id] = liked
	s.mu.Unlock()
	s.syncToPlayer(id, liked)
	return nil
}

func (s *Store) syncToPlayer(id string, liked bool) {
	s.mu.Lock()
	player := s.player
	s.mu.Unlock()

	if player != nil {
		player.SyncLike(id, liked)
	}
}

func uniqueIDs(ids []string) []string {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}

func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
