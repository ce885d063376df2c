package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/velichkin/wavefm/client"
)

// SearchTracks calls the get_tracks_search RPC (offset pagination).
func (c *Client) SearchTracks(ctx context.Context, params client.SearchParams) ([]client.TrackRow, error) {
	payload := map[string]any{
		"p_q":         nullableString(params.Query),
		"p_language":  nullableString(params.Language),
		"p_genre_ids": params.GenreIDs,
		"p_limit":     params.Limit,
		"p_offset":    params.Offset,
	}

	var rows []client.TrackRow
	err := c.execute(ctx, "search_tracks", func() error {
		return c.rpc(ctx, "get_tracks_search", payload, &rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Autocomplete calls the autocomplete_tracks RPC.
func (c *Client) Autocomplete(ctx context.Context, query string, limit int) ([]client.AutocompleteRow, error) {
	var rows []client.AutocompleteRow
	err := c.execute(ctx, "autocomplete", func() error {
		return c.rpc(ctx, "autocomplete_tracks", map[string]any{"p_q": query, "p_limit": limit}, &rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Feed calls the get_tracks_feed RPC (keyset pagination). The cursor is
// strictly exclusive: rows are returned after (created_at, id).
func (c *Client) Feed(ctx context.Context, params client.FeedParams) ([]client.TrackRow, error) {
	payload := map[string]any{
		"p_limit":            params.Limit,
		"p_after_created_at": nullableTime(params.AfterCreatedAt),
		"p_after_id":         nullableString(params.AfterID),
	}

	var rows []client.TrackRow
	err := c.execute(ctx, "feed", func() error {
		return c.rpc(ctx, "get_tracks_feed", payload, &rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TrackByID fetches a single row from the tracks_with_authors view.
func (c *Client) TrackByID(ctx context.Context, id string) (*client.TrackRow, error) {
	query := url.Values{}
	query.Set("id", "eq."+id)
	query.Set("select", "*")
	query.Set("limit", "1")

	var rows []client.TrackRow
	err := c.execute(ctx, "track_by_id", func() error {
		return c.table(ctx, http.MethodGet, "tracks_with_authors", query, nil, &rows)
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &client.BackendError{Op: "track_by_id", Resource: "track", ID: id, Err: client.ErrNotFound}
	}
	row := rows[0]
	return &row, nil
}

// TracksByIDs fetches detail rows for the given ids. Order of the result
// is backend-defined; callers re-order by id.
func (c *Client) TracksByIDs(ctx context.Context, ids []string) ([]client.TrackRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("id", inFilter(ids))
	query.Set("select", "*")

	var rows []client.TrackRow
	err := c.execute(ctx, "tracks_by_ids", func() error {
		return c.table(ctx, http.MethodGet, "tracks_with_authors", query, nil, &rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// PlaylistsByIDs fetches playlist detail rows for the given ids.
func (c *Client) PlaylistsByIDs(ctx context.Context, ids []string) ([]client.PlaylistRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("id", inFilter(ids))
	query.Set("select", "*")

	var rows []client.PlaylistRow
	err := c.execute(ctx, "playlists_by_ids", func() error {
		return c.table(ctx, http.MethodGet, "playlists", query, nil, &rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// RecentTracks calls the get_user_recent_tracks RPC. after, when non-nil,
// is the exclusive keyset cursor on last_played.
func (c *Client) RecentTracks(ctx context.Context, userID string, limit int, after *time.Time) ([]client.RecentTrackRow, error) {
	payload := map[string]any{
		"p_user_id": userID,
		"p_limit":   limit,
	}
	if after != nil {
		payload["p_after"] = after.UTC().Format(time.RFC3339Nano)
	} else {
		payload["p_after"] = nil
	}

	var rows []client.RecentTrackRow
	err := c.execute(ctx, "recent_tracks", func() error {
		return c.rpc(ctx, "get_user_recent_tracks", payload, &rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// RecentAuthors calls the get_user_recent_authors RPC.
func (c *Client) RecentAuthors(ctx context.Context, userID string, limit int) ([]client.AuthorRow, error) {
	var rows []client.AuthorRow
	err := c.execute(ctx, "recent_authors", func() error {
		return c.rpc(ctx, "get_user_recent_authors", map[string]any{"p_user_id": userID, "p_limit": limit}, &rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// RecentPlaylists calls the get_user_recent_playlists RPC.
func (c *Client) RecentPlaylists(ctx context.Context, userID string, limit int) ([]client.RecentPlaylistRow, error) {
	var rows []client.RecentPlaylistRow
	err := c.execute(ctx, "recent_playlists", func() error {
		return c.rpc(ctx, "get_user_recent_playlists", map[string]any{"p_user_id": userID, "p_limit": limit}, &rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetLikes returns the subset of targetIDs liked by the user.
func (c *Client) GetLikes(ctx context.Context, userID string, targetIDs []string, targetType client.LikeTargetType) ([]client.LikeRow, error) {
	if userID == "" {
		return nil, client.ErrAuthRequired
	}
	if len(targetIDs) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("select", "target_id")
	query.Set("target_id", inFilter(targetIDs))
	query.Set("target_type", "eq."+string(targetType))
	query.Set("user_id", "eq."+userID)

	var rows []client.LikeRow
	err := c.execute(ctx, "get_likes", func() error {
		return c.table(ctx, http.MethodGet, "likes", query, nil, &rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AddLike upserts a like row for the user.
func (c *Client) AddLike(ctx context.Context, userID string, target client.LikeTarget) error {
	if userID == "" {
		return client.ErrAuthRequired
	}

	payload := map[string]any{
		"target_id":   target.ID,
		"target_type": string(targetTypeOrTrack(target)),
		"user_id":     userID,
	}
	query := url.Values{}
	query.Set("on_conflict", "target_id,target_type,user_id")

	return c.execute(ctx, "add_like", func() error {
		return c.table(ctx, http.MethodPost, "likes", query, payload, nil)
	})
}

// DeleteLike removes a like row for the user.
func (c *Client) DeleteLike(ctx context.Context, userID string, target client.LikeTarget) error {
	if userID == "" {
		return client.ErrAuthRequired
	}

	query := url.Values{}
	query.Set("target_id", "eq."+target.ID)
	query.Set("target_type", "eq."+string(targetTypeOrTrack(target)))
	query.Set("user_id", "eq."+userID)

	return c.execute(ctx, "delete_like", func() error {
		return c.table(ctx, http.MethodDelete, "likes", query, nil, nil)
	})
}

// RecordPlay submits a play event through the record_play RPC.
func (c *Client) RecordPlay(ctx context.Context, userID, trackID string) error {
	if userID == "" {
		return client.ErrAuthRequired
	}
	return c.execute(ctx, "record_play", func() error {
		return c.rpc(ctx, "record_play", map[string]any{"p_user_id": userID, "p_track_id": trackID}, nil)
	})
}

var _ client.Backend = (*Client)(nil)

func targetTypeOrTrack(target client.LikeTarget) client.LikeTargetType {
	if target.Type == "" {
		return client.LikeTargetTrack
	}
	return target.Type
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
