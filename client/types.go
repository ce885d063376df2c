package client

import "time"

// AuthorRef is the compact author reference embedded in track rows.
type AuthorRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TrackRow is a track as returned by the backend views.
// The player holds its own copy of the row it is currently playing;
// everything else treats track rows as immutable data.
type TrackRow struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	AudioURL      string      `json:"audio_url"`
	CoverURL      string      `json:"cover_url"`
	Duration      float64     `json:"duration"`
	Authors       []AuthorRef `json:"authors"`
	LikeCount     int         `json:"like_count"`
	IsLikedByUser bool        `json:"is_liked_by_user"`
	CreatedAt     time.Time   `json:"created_at"`
}

// PlaylistRow is a playlist as returned by the backend.
type PlaylistRow struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CoverURL  string    `json:"cover_url"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthorRow is a full author row from the recent-authors lookup.
type AuthorRow struct {
	ID         string    `json:"author_id"`
	Name       string    `json:"name"`
	AvatarURL  string    `json:"avatar_url"`
	LastPlayed time.Time `json:"last_played"`
	Plays      int       `json:"plays"`
}

// AutocompleteRow is one title suggestion with its match score.
type AutocompleteRow struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// RecentTrackRow is the lightweight row from the recent-tracks lookup.
// Full track detail is fetched separately by id.
type RecentTrackRow struct {
	TrackID    string    `json:"track_id"`
	LastPlayed time.Time `json:"last_played"`
	PlayCount  int       `json:"play_count"`
}

// RecentPlaylistRow is the lightweight row from the recent-playlists lookup.
type RecentPlaylistRow struct {
	PlaylistID string    `json:"playlist_id"`
	LastPlayed time.Time `json:"last_played"`
	Plays      int       `json:"plays"`
}

// RecentTrackItem pairs a full track row with its recency data.
type RecentTrackItem struct {
	Track      TrackRow  `json:"track"`
	LastPlayed time.Time `json:"last_played"`
	PlayCount  int       `json:"play_count"`
}

// RecentPlaylistItem pairs a full playlist row with its recency data.
type RecentPlaylistItem struct {
	Playlist   PlaylistRow `json:"playlist"`
	LastPlayed time.Time   `json:"last_played"`
	Plays      int         `json:"plays"`
}

// LikeTargetType identifies what kind of entity a like points at.
type LikeTargetType string

const (
	LikeTargetTrack    LikeTargetType = "track"
	LikeTargetPlaylist LikeTargetType = "playlist"
	LikeTargetAlbum    LikeTargetType = "album"
)

// LikeTarget identifies a likeable entity.
type LikeTarget struct {
	ID   string
	Type LikeTargetType
}

// LikeRow is a like as returned by the backend; only the target id is
// needed to mark local state.
type LikeRow struct {
	TargetID string `json:"target_id"`
}

// SearchParams are the parameters of an offset-paginated track search.
type SearchParams struct {
	Query    string
	Language string
	GenreIDs []string
	Limit    int
	Offset   int
}

// FeedParams carry the keyset cursor for the track feed. A zero
// AfterCreatedAt means "from the top".
type FeedParams struct {
	Limit          int
	AfterCreatedAt time.Time
	AfterID        string
}

// PlayEvent is one recorded listen.
type PlayEvent struct {
	ID       string
	UserID   string
	TrackID  string
	PlayedAt time.Time
}

// PlayerSnapshot is the persisted player state used to restore the last
// session on startup. Restoring a snapshot never starts playback.
type PlayerSnapshot struct {
	QueueIDs       []string
	CurrentTrackID string
	Position       float64
	Volume         float64
	Repeat         bool
	Shuffle        bool
	UpdatedAt      time.Time
}
