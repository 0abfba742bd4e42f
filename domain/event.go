package domain

import "github.com/bytedance/sonic"

const (
	ItemCreated       = "item-created"
	ItemUpdated       = "item-updated"
	ItemStatusChanged = "item-status-changed"
	ItemDeleted       = "item-deleted"
)

// ChangeEvent is published on the change feed after every successful write.
type ChangeEvent struct {
	ID         string                 `json:"id"`
	EntityID   string                 `json:"entityId"`
	EntityType Kind                   `json:"entityType"`
	Type       string                 `json:"type"`
	Data       sonic.NoCopyRawMessage `json:"data,omitempty"`
	Time       int64                  `json:"time"`
	TenantID   string                 `json:"tenantId"`
	Scope      string                 `json:"scope"`
	// Origin identifies the publishing instance so it can skip its own events.
	Origin string `json:"origin,omitempty"`
}

// Activity actions.
const (
	ActionCreated = "created"
	ActionEdited  = "edited"
	ActionMoved   = "moved"
	ActionDeleted = "deleted"
)

// Activity is an entry of the tenant activity feed.
type Activity struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Kind     Kind   `json:"kind"`
	ItemID   string `json:"itemId"`
	Scope    string `json:"scope"`
	Action   string `json:"action"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Time     int64  `json:"time"`
}
