package api

import (
	"context"

	"proflo-api/domain"
)

// Storage abstracts persistence for handlers and boards.
type Storage interface {
	FetchItems(ctx context.Context, kind domain.Kind, scope string) ([]domain.Item, error)
	GetItem(ctx context.Context, kind domain.Kind, scope, id string) (*domain.Item, error)
	InsertItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateStatus(ctx context.Context, kind domain.Kind, scope, id, status string) (*domain.Item, error)
	DeleteItem(ctx context.Context, kind domain.Kind, scope, id string) error
	EnqueueActivity(ctx context.Context, activities []domain.Activity) error
	ListNotes(ctx context.Context, projectID string) ([]domain.Note, error)
	InsertNote(ctx context.Context, note domain.Note) (*domain.Note, error)
	UpdateNote(ctx context.Context, projectID, id, text string) (*domain.Note, error)
	DeleteNote(ctx context.Context, projectID, id string) error
}

// Publisher broadcasts change events to other instances.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// Authenticator is implemented by types able to extract tenant IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate drops.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, tenantID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, tenantID, key string) error
}
