package kanban

import "errors"

// ActivationDistance is the pointer travel, in pixels, needed to start a drag.
const ActivationDistance = 5.0

var (
	ErrDragInProgress  = errors.New("another drag is in progress")
	ErrBelowActivation = errors.New("pointer has not moved past the activation distance")
	ErrUnknownItem     = errors.New("unknown item")
)

// DragSession tracks the item currently being dragged. It is not safe for
// concurrent use; Board guards it.
type DragSession struct {
	active string
}

// Begin starts a session for id.
func (d *DragSession) Begin(id string, distance float64) error {
	if d.active != "" {
		return ErrDragInProgress
	}
	if distance < ActivationDistance {
		return ErrBelowActivation
	}
	d.active = id
	return nil
}

// Active returns the dragged item id.
func (d *DragSession) Active() (string, bool) {
	return d.active, d.active != ""
}

// End clears the session and returns the id that was being dragged.
func (d *DragSession) End() (string, bool) {
	id := d.active
	d.active = ""
	return id, id != ""
}
