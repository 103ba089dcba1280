// Package session holds the in-memory state of one labeling session:
// the scanned image list, the cursor into it, the focus-mode flag, and
// the keypress-to-label dispatch. A Session is an explicit value
// created when a workspace opens and discarded when it closes; nothing
// here is ambient or global.
package session

import (
	"errors"
	"fmt"

	"github.com/skinscan/labeltool/pkg/store"
)

// Reserved navigation keys. They are checked before label dispatch and
// can never toggle a label, even if an operator binds a label to them.
const (
	NavPrevKey = ","
	NavNextKey = "."
)

var (
	// ErrNoDatabase rejects label operations while the workspace has
	// no label database. Navigation stays available.
	ErrNoDatabase = errors.New("no label database open")

	// ErrImageNotInDatabase signals that the scanned image list and
	// the database have diverged: the current image has no row. This
	// is a data-integrity condition, not user error. The fix is an
	// explicit sync, not a silent insert.
	ErrImageNotInDatabase = errors.New("current image not in database")

	// ErrWorkspaceNotSelected rejects operations before any workspace
	// has been opened.
	ErrWorkspaceNotSelected = errors.New("no workspace selected")
)

// State of a session. A session is Ready only once a workspace is open
// and its database was found.
type State int

const (
	Empty State = iota
	Ready
)

// Session is the navigation and labeling state for one open workspace.
// Not safe for concurrent use; drive it from a single event loop.
type Session struct {
	images    []string
	index     int
	focusMode bool
	store     *store.Store
}

// New creates a session over a scanned image list. st may be nil when
// the workspace has no database yet; the session then permits
// navigation but rejects label operations with ErrNoDatabase.
func New(images []string, st *store.Store) *Session {
	return &Session{images: images, store: st}
}

// State reports whether label operations are available.
func (s *Session) State() State {
	if s.store == nil {
		return Empty
	}
	return Ready
}

// AttachStore upgrades an Empty session to Ready after the database
// has been created.
func (s *Session) AttachStore(st *store.Store) {
	s.store = st
}

// SetImages replaces the image list after a rescan or reconcile,
// clamping the cursor into the new range.
func (s *Session) SetImages(images []string) {
	s.images = images
	if len(images) == 0 {
		s.index = 0
	} else if s.index >= len(images) {
		s.index = len(images) - 1
	}
}

// CurrentImage returns the path under the cursor. ok is false when the
// image set is empty.
func (s *Session) CurrentImage() (path string, ok bool) {
	if len(s.images) == 0 {
		return "", false
	}
	return s.images[s.index], true
}

// Position returns the zero-based cursor index and the image count.
func (s *Session) Position() (index, total int) {
	return s.index, len(s.images)
}

// Next advances the cursor with wraparound. No-op on an empty set.
func (s *Session) Next() {
	if len(s.images) == 0 {
		return
	}
	s.index = (s.index + 1) % len(s.images)
}

// Seek moves the cursor straight to index. Out-of-range indexes leave
// the cursor where it is.
func (s *Session) Seek(index int) {
	if index < 0 || index >= len(s.images) {
		return
	}
	s.index = index
}

// Prev retreats the cursor with wraparound. No-op on an empty set.
func (s *Session) Prev() {
	if len(s.images) == 0 {
		return
	}
	s.index = (s.index - 1 + len(s.images)) % len(s.images)
}

// FocusMode reports the focus-mode flag.
func (s *Session) FocusMode() bool {
	return s.focusMode
}

// ToggleFocusMode flips the focus-mode flag and returns the new value.
// Pure state; the presentation layer decides what focus mode means.
func (s *Session) ToggleFocusMode() bool {
	s.focusMode = !s.focusMode
	return s.focusMode
}

// ToggleResult describes what a keypress did.
type ToggleResult struct {
	Label   store.Label
	Present bool
}

// ToggleLabelByKey resolves a pressed key to a label and toggles it on
// the current image. Unbound keys and the reserved navigation keys are
// legal no-ops (nil, nil), as is pressing a key while the image set is
// empty.
func (s *Session) ToggleLabelByKey(key string) (*ToggleResult, error) {
	if s.store == nil {
		return nil, ErrNoDatabase
	}
	if key == NavPrevKey || key == NavNextKey {
		return nil, nil
	}

	label, err := s.store.FindLabelByKey(key)
	if err != nil {
		return nil, err
	}
	if label == nil {
		return nil, nil
	}

	path, ok := s.CurrentImage()
	if !ok {
		return nil, nil
	}

	imageID, found, err := s.store.FindImageID(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrImageNotInDatabase, path)
	}

	present, err := s.store.ToggleAssociation(imageID, label.ID)
	if err != nil {
		return nil, err
	}
	return &ToggleResult{Label: *label, Present: present}, nil
}

// CurrentLabels returns the label names attached to the current image.
// An empty image set yields an empty list.
func (s *Session) CurrentLabels() ([]string, error) {
	if s.store == nil {
		return nil, ErrNoDatabase
	}
	path, ok := s.CurrentImage()
	if !ok {
		return nil, nil
	}
	imageID, found, err := s.store.FindImageID(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrImageNotInDatabase, path)
	}
	return s.store.LabelsForImage(imageID)
}
