package player

import "github.com/velichkin/wavefm/client"

// View identifies a player surface.
type View string

// Known views.
const (
	ViewNowPlaying View = "now"
	ViewQueue      View = "queue"
	ViewLyrics     View = "lyrics"
)

// Slot is a placement a view can occupy. Each slot holds at most one
// view at a time.
type Slot string

// Known slots.
const (
	SlotSidebar    Slot = "sidebar"
	SlotFullscreen Slot = "fullscreen"
)

// slotSupport lists which slots each view may occupy. The queue view has
// no fullscreen rendering.
var slotSupport = map[View][]Slot{
	ViewNowPlaying: {SlotSidebar, SlotFullscreen},
	ViewQueue:      {SlotSidebar},
	ViewLyrics:     {SlotSidebar, SlotFullscreen},
}

// ViewState is the layout published on every EventViewChanged. Empty
// string means the slot is vacant.
type ViewState struct {
	Sidebar    View
	Fullscreen View
}

type panels struct {
	sidebar    View
	fullscreen View
}

// OpenView places the view in a slot it supports, preferring the
// sidebar. The previous occupant of the chosen slot is evicted, and a
// view never occupies two slots at once.
func (e *Engine) OpenView(view View) error {
	slots, known := slotSupport[view]
	if !known || len(slots) == 0 {
		return client.ErrViewUnavailable
	}

	e.mu.Lock()
	e.closeViewLocked(view)
	switch slots[0] {
	case SlotSidebar:
		e.views.sidebar = view
	case SlotFullscreen:
		e.views.fullscreen = view
	}
	e.mu.Unlock()

	e.emitViews()
	return nil
}

// CloseView vacates whichever slot holds the view. Closing a view that
// is not open is a no-op.
func (e *Engine) CloseView(view View) {
	e.mu.Lock()
	changed := e.closeViewLocked(view)
	e.mu.Unlock()

	if changed {
		e.emitViews()
	}
}

func (e *Engine) closeViewLocked(view View) bool {
	changed := false
	if e.views.sidebar == view {
		e.views.sidebar = ""
		changed = true
	}
	if e.views.fullscreen == view {
		e.views.fullscreen = ""
		changed = true
	}
	return changed
}

// SwitchViewMode moves an open view to its other supported slot,
// evicting that slot's occupant. It fails when the view is not open or
// supports only one slot.
func (e *Engine) SwitchViewMode(view View) error {
	slots := slotSupport[view]
	if len(slots) < 2 {
		return client.ErrViewUnavailable
	}

	e.mu.Lock()
	switch view {
	case e.views.sidebar:
		e.views.sidebar = ""
		e.views.fullscreen = view
	case e.views.fullscreen:
		e.views.fullscreen = ""
		e.views.sidebar = view
	default:
		e.mu.Unlock()
		return client.ErrViewUnavailable
	}
	e.mu.Unlock()

	e.emitViews()
	return nil
}

// Views returns the current layout.
func (e *Engine) Views() ViewState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ViewState{Sidebar: e.views.sidebar, Fullscreen: e.views.fullscreen}
}

func (e *Engine) emitViews() {
	if e.emitter == nil {
		return
	}
	e.mu.Lock()
	state := ViewState{Sidebar: e.views.sidebar, Fullscreen: e.views.fullscreen}
	e.mu.Unlock()
	e.emitter(EventViewChanged, state)
}
