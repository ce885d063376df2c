// Package tracks holds the incremental-loading query state for track
// search (offset pagination), the track feed (keyset pagination), and the
// user's recently played tracks (keyset on last_played). All network
// access goes through a slot-keyed request runner, so a new query always
// supersedes the previous one of the same kind.
package tracks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/velichkin/wavefm/client"
	"github.com/velichkin/wavefm/client/request"
)

const (
	slotSearch       = "search"
	slotAutocomplete = "autocomplete"
	slotFeed         = "feed"
	slotTrack        = "track-detail"
	slotRecent       = "recent-tracks"
)

type feedCursor struct {
	createdAt time.Time
	id        string
}

// Options configure a Store.
type Options struct {
	Backend        client.Backend
	Logger         client.Logger
	PageSize       int
	MinQueryLength int
	DebounceWindow time.Duration
	RecentLimit    int
}

// Store is the paginated query state for tracks.
type Store struct {
	backend client.Backend
	runner  *request.Runner
	logger  client.Logger

	debounced func(func())

	minQueryLength int
	limit          int
	recentLimit    int

	mu sync.Mutex

	// search (offset pagination)
	query    string
	language string
	genreIDs []string
	offset   int
	items    []client.TrackRow
	loading  bool
	hasMore  bool
	err      error

	// feed (keyset pagination)
	feedItems   []client.TrackRow
	feedLoading bool
	feedHasMore bool
	feedCursor  *feedCursor

	// selected single track
	selected *client.TrackRow

	// recently played (keyset on last_played)
	recentItems   []client.RecentTrackItem
	recentLoading bool
	recentHasMore bool
	recentCursor  *time.Time
}

// NewStore creates a track query store.
func NewStore(opts Options) *Store {
	limit := opts.PageSize
	if limit <= 0 {
		limit = 20
	}
	minLen := opts.MinQueryLength
	if minLen <= 0 {
		minLen = 2
	}
	window := opts.DebounceWindow
	if window <= 0 {
		window = 300 * time.Millisecond
	}
	recentLimit := opts.RecentLimit
	if recentLimit <= 0 {
		recentLimit = 20
	}

	return &Store{
		backend:        opts.Backend,
		runner:         request.NewRunner(opts.Logger),
		logger:         opts.Logger,
		debounced:      debounce.New(window),
		minQueryLength: minLen,
		limit:          limit,
		recentLimit:    recentLimit,
		hasMore:        true,
		feedHasMore:    true,
		recentHasMore:  true,
	}
}

// SetQuery updates the search parameters without issuing a call.
func (s *Store) SetQuery(query, language string, genreIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = query
	s.language = language
	s.genreIDs = append([]string(nil), genreIDs...)
}

// Search schedules a debounced search with the current parameters. Of all
// calls within one quiet window only the last reaches the network. A query
// shorter than the configured minimum is rejected before any call is made.
func (s *Store) Search(ctx context.Context) error {
	s.mu.Lock()
	query := strings.TrimSpace(s.query)
	s.mu.Unlock()

	if query != "" && len([]rune(query)) < s.minQueryLength {
		s.mu.Lock()
		s.err = client.ErrQueryTooShort
		s.mu.Unlock()
		return client.ErrQueryTooShort
	}

	s.debounced(func() {
		s.doSearch(ctx, true)
	})
	return nil
}

// LoadMore fetches the next offset page. It is a no-op while a load is in
// flight or once the result set is exhausted.
func (s *Store) LoadMore(ctx context.Context) {
	s.mu.Lock()
	if s.loading || !s.hasMore {
		s.mu.Unlock()
		return
	}
	// Claim the in-flight flag here, not in doSearch, so a concurrent
	// LoadMore cannot pass the guard and advance the offset twice.
	s.loading = true
	s.offset += s.limit
	s.mu.Unlock()

	s.doSearch(ctx, false)
}

func (s *Store) doSearch(ctx context.Context, reset bool) {
	s.mu.Lock()
	if reset {
		s.offset = 0
		s.items = nil
		s.hasMore = true
	}
	params := client.SearchParams{
		Query:    s.query,
		Language: s.language,
		GenreIDs: append([]string(nil), s.genreIDs...),
		Limit:    s.limit,
		Offset:   s.offset,
	}
	s.loading = true
	s.err = nil
	s.mu.Unlock()

	before := s.runner.LastError()
	rows, ok := request.Do(s.runner, ctx, slotSearch, []client.TrackRow(nil), func(ctx context.Context) ([]client.TrackRow, error) {
		return s.backend.SearchTracks(ctx, params)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if !ok {
		s.setErrIfFreshLocked(before)
		return
	}
	if reset {
		s.items = rows
	} else {
		s.items = append(s.items, rows...)
	}
	if len(rows) < s.limit {
		s.hasMore = false
	}
}

// Autocomplete fetches title suggestions on its own slot. An empty query
// returns nothing without a network call.
func (s *Store) Autocomplete(ctx context.Context, query string, limit int) []client.AutocompleteRow {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	if limit <= 0 {
		limit = 8
	}

	rows, ok := request.Do(s.runner, ctx, slotAutocomplete, []client.AutocompleteRow(nil), func(ctx context.Context) ([]client.AutocompleteRow, error) {
		return s.backend.Autocomplete(ctx, query, limit)
	})
	if !ok {
		return nil
	}
	return rows
}

// LoadFeed loads the next keyset feed page, or the first page when initial
// is true. The cursor is derived from the last row of the previous page
// and is strictly exclusive, so pages never overlap.
func (s *Store) LoadFeed(ctx context.Context, initial bool) []client.TrackRow {
	s.mu.Lock()
	if s.feedLoading {
		s.mu.Unlock()
		return nil
	}
	if initial {
		s.feedCursor = nil
		s.feedItems = nil
	}
	params := client.FeedParams{Limit: s.limit}
	if s.feedCursor != nil {
		params.AfterCreatedAt = s.feedCursor.createdAt
		params.AfterID = s.feedCursor.id
	}
	s.feedLoading = true
	s.feedHasMore = true
	s.mu.Unlock()

	before := s.runner.LastError()
	rows, ok := request.Do(s.runner, ctx, slotFeed, []client.TrackRow(nil), func(ctx context.Context) ([]client.TrackRow, error) {
		return s.backend.Feed(ctx, params)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedLoading = false
	if !ok {
		s.setErrIfFreshLocked(before)
		return nil
	}
	if initial {
		s.feedItems = rows
	} else {
		s.feedItems = append(s.feedItems, rows...)
	}
	if last := lastRow(rows); last != nil {
		s.feedCursor = &feedCursor{createdAt: last.CreatedAt, id: last.ID}
	}
	s.feedHasMore = len(rows) >= s.limit
	return rows
}

// FetchTrack loads a single track with authors and stores it as Selected.
func (s *Store) FetchTrack(ctx context.Context, id string) *client.TrackRow {
	before := s.runner.LastError()
	row, ok := request.Do(s.runner, ctx, slotTrack, (*client.TrackRow)(nil), func(ctx context.Context) (*client.TrackRow, error) {
		return s.backend.TrackByID(ctx, id)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.setErrIfFreshLocked(before)
		return nil
	}
	s.selected = row
	return row
}

// LoadRecent loads the user's recently played tracks. The first lookup
// returns lightweight recency rows; full detail is fetched for exactly
// those ids and re-assembled in recency order. A missing detail row is
// replaced by a placeholder carrying only the id.
func (s *Store) LoadRecent(ctx context.Context, userID string, reset bool) ([]client.RecentTrackItem, error) {
	if userID == "" {
		return nil, client.ErrAuthRequired
	}

	s.mu.Lock()
	if s.recentLoading {
		s.mu.Unlock()
		return nil, nil
	}
	s.recentLoading = true
	s.recentHasMore = true
	if reset {
		s.recentCursor = nil
		s.recentItems = nil
	}
	after := s.recentCursor
	limit := s.recentLimit
	s.mu.Unlock()

	type recentPage struct {
		items []client.RecentTrackItem
		light []client.RecentTrackRow
	}

	before := s.runner.LastError()
	page, ok := request.Do(s.runner, ctx, slotRecent, recentPage{}, func(ctx context.Context) (recentPage, error) {
		light, err := s.backend.RecentTracks(ctx, userID, limit, after)
		if err != nil {
			return recentPage{}, err
		}
		items, err := assembleRecent(ctx, s.backend, light)
		if err != nil {
			return recentPage{}, err
		}
		return recentPage{items: items, light: light}, nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentLoading = false
	if !ok {
		s.setErrIfFreshLocked(before)
		return nil, nil
	}

	if reset {
		s.recentItems = page.items
	} else {
		s.recentItems = append(s.recentItems, page.items...)
	}
	s.upsertItemsLocked(tracksOf(page.items))

	if len(page.light) > 0 {
		cursor := page.light[len(page.light)-1].LastPlayed
		s.recentCursor = &cursor
	}
	s.recentHasMore = len(page.light) >= limit
	return page.items, nil
}

// LoadMoreRecent fetches the next recent page if one may exist.
func (s *Store) LoadMoreRecent(ctx context.Context, userID string) ([]client.RecentTrackItem, error) {
	s.mu.Lock()
	if !s.recentHasMore || s.recentLoading {
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()
	return s.LoadRecent(ctx, userID, false)
}

// assembleRecent pairs lightweight recency rows with detail rows fetched
// by id, preserving the recency order of the first lookup.
func assembleRecent(ctx context.Context, backend client.Backend, light []client.RecentTrackRow) ([]client.RecentTrackItem, error) {
	if len(light) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(light))
	for _, row := range light {
		ids = append(ids, row.TrackID)
	}

	details, err := backend.TracksByIDs(ctx, ids)
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

// UpsertItems merges rows into the id-keyed item cache: existing entries
// are replaced in place, unseen rows are appended.
func (s *Store) UpsertItems(rows []client.TrackRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertItemsLocked(rows)
}

func (s *Store) upsertItemsLocked(rows []client.TrackRow) {
	if len(rows) == 0 {
		return
	}
	index := make(map[string]int, len(s.items))
	for i, item := range s.items {
		index[item.ID] = i
	}
	for _, row := range rows {
		if i, found := index[row.ID]; found {
			s.items[i] = row
		} else {
			index[row.ID] = len(s.items)
			s.items = append(s.items, row)
		}
	}
}

// ClearSearch resets search parameters and cancels any pending search.
func (s *Store) ClearSearch() {
	s.mu.Lock()
	s.query = ""
	s.language = ""
	s.genreIDs = nil
	s.offset = 0
	s.items = nil
	s.hasMore = true
	s.mu.Unlock()

	s.runner.Cancel(slotSearch)
}

// ClearRecent resets recent state and cancels any pending recent load.
func (s *Store) ClearRecent() {
	s.mu.Lock()
	s.recentItems = nil
	s.recentCursor = nil
	s.recentHasMore = true
	s.mu.Unlock()

	s.runner.Cancel(slotRecent)
}

// CancelSearch aborts the in-flight search, if any.
func (s *Store) CancelSearch() { s.runner.Cancel(slotSearch) }

// CancelFeed aborts the in-flight feed load, if any.
func (s *Store) CancelFeed() { s.runner.Cancel(slotFeed) }

// CancelRecent aborts the in-flight recent load, if any.
func (s *Store) CancelRecent() { s.runner.Cancel(slotRecent) }

// CancelAll aborts every pending request; intended for view teardown.
func (s *Store) CancelAll() { s.runner.CancelAll() }

// Items returns a copy of the current search results / item cache.
func (s *Store) Items() []client.TrackRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.TrackRow(nil), s.items...)
}

// FeedItems returns a copy of the loaded feed rows.
func (s *Store) FeedItems() []client.TrackRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.TrackRow(nil), s.feedItems...)
}

// RecentItems returns a copy of the loaded recent items.
func (s *Store) RecentItems() []client.RecentTrackItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.RecentTrackItem(nil), s.recentItems...)
}

// Selected returns the last fetched single track, if any.
func (s *Store) Selected() *client.TrackRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil
	}
	copied := *s.selected
	return &copied
}

// Loading reports whether a search page is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// HasMore reports whether another search page may exist.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// FeedHasMore reports whether another feed page may exist.
func (s *Store) FeedHasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedHasMore
}

// RecentHasMore reports whether another recent page may exist.
func (s *Store) RecentHasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentHasMore
}

// Err returns the last observed error, nil when the previous operation
// completed or was cancelled cleanly.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Offset returns the current search offset.
func (s *Store) Offset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// setErrIfFreshLocked records the runner's last error only when the run
// that just finished produced it; cancellations stay silent.
func (s *Store) setErrIfFreshLocked(before error) {
	if after := s.runner.LastError(); after != nil && after != before {
		s.err = after
	}
}

func lastRow(rows []client.TrackRow) *client.TrackRow {
	if len(rows) == 0 {
		return nil
	}
	return &rows[len(rows)-1]
}

func tracksOf(items []client.RecentTrackItem) []client.TrackRow {
	rows := make([]client.TrackRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, item.Track)
	}
	return rows
}
