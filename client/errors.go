package client

import (
	"context"
	"errors"
	"fmt"
)

// Common errors that can be checked with errors.Is.
var (
	// ErrNotFound is returned when a track, author, or playlist row does not exist.
	ErrNotFound = errors.New("backend: resource not found")

	// ErrAuthRequired is returned when an operation needs a signed-in user.
	ErrAuthRequired = errors.New("backend: authentication required")

	// ErrRateLimited is returned when the backend rejects a call for quota reasons.
	ErrRateLimited = errors.New("backend: rate limit exceeded")

	// ErrQueryTooShort is the pre-flight validation error for search queries.
	ErrQueryTooShort = errors.New("search: query too short")

	// ErrViewUnavailable is returned when a view cannot be placed in any panel slot.
	ErrViewUnavailable = errors.New("player: view has no available placement")

	// ErrNoTrack is returned for playback operations that need a loaded track.
	ErrNoTrack = errors.New("player: no track loaded")
)

// BackendError wraps a backend failure with the operation and resource that
// caused it, so callers can match the underlying error with errors.Is while
// diagnostics keep the full context.
type BackendError struct {
	Op       string // logical operation, e.g. "search_tracks"
	Resource string // resource kind, e.g. "track"
	ID       string // resource id, if applicable
	Err      error
}

func (e *BackendError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Op, e.Resource, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Resource, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err is a cooperative cancellation rather than
// a real failure. Cancellation always degrades to neutral results and is
// never surfaced to callers as an error.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
