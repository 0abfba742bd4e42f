package domain

import (
	"slices"
	"time"
)

// Kind identifies which collection an item belongs to.
type Kind string

const (
	KindProject Kind = "project"
	KindTask    Kind = "task"
)

// Project statuses, in column order.
const (
	StatusActive    = "active"
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Task statuses, in column order. Tasks share StatusCompleted with projects.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in-progress"
)

var (
	projectStatuses = []string{StatusActive, StatusPending, StatusCompleted}
	taskStatuses    = []string{StatusTodo, StatusInProgress, StatusCompleted}
)

// ParseKind accepts both the singular and the plural route form.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "project", "projects":
		return KindProject, true
	case "task", "tasks":
		return KindTask, true
	}
	return "", false
}

// Statuses returns the declared column order for kind.
func (k Kind) Statuses() []string {
	switch k {
	case KindProject:
		return slices.Clone(projectStatuses)
	case KindTask:
		return slices.Clone(taskStatuses)
	}
	return nil
}

// DefaultStatus is assigned to newly created items without an explicit status.
func (k Kind) DefaultStatus() string {
	if k == KindTask {
		return StatusTodo
	}
	return StatusPending
}

// ValidStatus reports whether status is one of kind's columns.
func (k Kind) ValidStatus(status string) bool {
	return slices.Contains(k.Statuses(), status)
}

// Item is a single board card: a project of a tenant or a task of a project.
type Item struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	// Scope is the owning partition: the tenant for projects, the project for tasks.
	Scope       string     `json:"scope"`
	Status      string     `json:"status"`
	Name        string     `json:"name"`
	ClientName  string     `json:"clientName,omitempty"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   int64      `json:"updatedAt"`
}

// Clone returns a deep copy of the item.
func (i Item) Clone() Item {
	if i.DueDate != nil {
		d := *i.DueDate
		i.DueDate = &d
	}
	return i
}

// CloneItems deep copies a slice of items. A nil input yields an empty slice.
func CloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

// ItemPatch carries optional fields for an explicit edit.
type ItemPatch struct {
	Name        *string    `json:"name,omitempty"`
	ClientName  *string    `json:"clientName,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	ClearDue    bool       `json:"clearDueDate,omitempty"`
}

// Empty reports whether the patch carries no change.
func (p ItemPatch) Empty() bool {
	return p.Name == nil && p.ClientName == nil && p.Description == nil &&
		p.Status == nil && p.DueDate == nil && !p.ClearDue
}

// Apply writes the patch into item.
func (p ItemPatch) Apply(item *Item) {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.ClientName != nil {
		item.ClientName = *p.ClientName
	}
	if p.Description != nil {
		item.Description = *p.Description
	}
	if p.Status != nil {
		item.Status = *p.Status
	}
	if p.ClearDue {
		item.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		item.DueDate = &d
	}
}
