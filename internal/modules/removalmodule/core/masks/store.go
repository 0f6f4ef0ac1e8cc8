// Package masks records user strokes as closed polygonal paths and commits
// them as masks, with LIFO undo.
package masks

import (
	"sync"

	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// MinPoints is the smallest stroke that can be committed as a mask.
const MinPoints = 3

// Store holds the committed masks and at most one active stroke. Lifecycle
// gating (Editing only) is the session's job; the store itself is always
// mutable.
type Store struct {
	mu     sync.RWMutex
	active types.Path
	open   bool
	masks  []types.Mask
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// StartStroke begins a new path at p, discarding any incomplete stroke.
func (s *Store) StartStroke(p types.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = types.Path{p}
	s.open = true
}

// ExtendStroke appends p to the active path. No-op without an active stroke.
func (s *Store) ExtendStroke(p types.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return
	}
	s.active = append(s.active, p)
}

// FinalizeStroke commits the active path as a mask if it has at least
// MinPoints points and discards it otherwise. It reports whether a mask was
// committed.
func (s *Store) FinalizeStroke() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return false
	}
	path := s.active
	s.active = nil
	s.open = false
	if len(path) < MinPoints {
		return false
	}
	s.masks = append(s.masks, types.NewMask(path))
	return true
}

// UndoLastMask removes the most recently committed mask, if any.
func (s *Store) UndoLastMask() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.masks) == 0 {
		return false
	}
	s.masks[len(s.masks)-1] = types.Mask{}
	s.masks = s.masks[:len(s.masks)-1]
	return true
}

// Masks returns a deep copy of the committed masks in creation order.
func (s *Store) Masks() []types.Mask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.CloneMasks(s.masks)
}

// Len returns the number of committed masks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.masks)
}

// Stroking reports whether a stroke is in progress.
func (s *Store) Stroking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// Reset drops every mask and the active stroke.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.open = false
	s.masks = nil
}
