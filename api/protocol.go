package api

import (
	"time"

	"proflo-api/domain"
	"proflo-api/kanban"
)

const maxBodySize = 64 * 1024 // 64 KiB

const headerIdempotencyKey = "Idempotency-Key"

// POST /api/boards/:kind/drag/start request body
type dragStartRequest struct {
	Scope    string  `json:"scope,omitempty"`
	ItemID   string  `json:"itemId"`
	Distance float64 `json:"distance"`
}

// POST /api/boards/:kind/drag/end request body
type dragEndRequest struct {
	Scope  string `json:"scope,omitempty"`
	OverID string `json:"overId"`
}

// POST /api/boards/:kind/drag/cancel request body
type dragCancelRequest struct {
	Scope string `json:"scope,omitempty"`
}

// /POST /api/boards/:kind/drag/end response body
type dragEndResponse struct {
	Outcome string       `json:"outcome"`
	From    string       `json:"from,omitempty"`
	To      string       `json:"to,omitempty"`
	Item    *domain.Item `json:"item,omitempty"`
	Error   string       `json:"error,omitempty"`
	Board   kanban.View  `json:"board"`
}

// POST /api/projects and POST /api/projects/:id/tasks request body
type createItemRequest struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	ClientName  string     `json:"clientName,omitempty"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// POST /api/projects/:id/notes and PATCH /api/projects/:id/notes/:noteId request body
type noteRequest struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// GET /api/tasks/board response body
type tenantTasksView struct {
	kanban.View
	// Projects maps project ids to names for the card labels and the project filter.
	Projects map[string]string `json:"projects"`
}

type errorResponse struct {
	Error string `json:"error"`
}
