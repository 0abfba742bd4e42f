package storage

import (
	"time"

	"proflo-api/domain"
)

const (
	edmInt64 = "Edm.Int64"
)

// tableKeys are the row keys of a table entity.
type tableKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// itemEntity is the table row of a project or task. Timestamps are stored as
// Edm.Int64 nanoseconds so ordering survives the round trip exactly.
type itemEntity struct {
	tableKeys
	Name            string `json:"Name"`
	ClientName      string `json:"ClientName,omitempty"`
	Description     string `json:"Description,omitempty"`
	Status          string `json:"Status"`
	DueDate         int64  `json:"DueDate,omitempty,string"`
	DueDateType     string `json:"DueDate@odata.type,omitempty"`
	CreatedAt       int64  `json:"CreatedAt,string"`
	CreatedAtType   string `json:"CreatedAt@odata.type"`
	UpdatedAtNs     int64  `json:"UpdatedAt,string"`
	UpdatedAtNsType string `json:"UpdatedAt@odata.type"`
}

// statusUpdate is the single-field merge written by a board move.
type statusUpdate struct {
	tableKeys
	Status          string `json:"Status"`
	UpdatedAtNs     int64  `json:"UpdatedAt,string"`
	UpdatedAtNsType string `json:"UpdatedAt@odata.type"`
}

func toEntity(item domain.Item) itemEntity {
	ent := itemEntity{
		tableKeys:       tableKeys{PartitionKey: item.Scope, RowKey: item.ID},
		Name:            item.Name,
		ClientName:      item.ClientName,
		Description:     item.Description,
		Status:          item.Status,
		CreatedAt:       item.CreatedAt.UnixNano(),
		CreatedAtType:   edmInt64,
		UpdatedAtNs:     item.UpdatedAt,
		UpdatedAtNsType: edmInt64,
	}
	if item.DueDate != nil {
		ent.DueDate = item.DueDate.UnixNano()
		ent.DueDateType = edmInt64
	}
	return ent
}

func fromEntity(kind domain.Kind, ent itemEntity) domain.Item {
	item := domain.Item{
		ID:          ent.RowKey,
		Kind:        kind,
		Scope:       ent.PartitionKey,
		Status:      ent.Status,
		Name:        ent.Name,
		ClientName:  ent.ClientName,
		Description: ent.Description,
		CreatedAt:   time.Unix(0, ent.CreatedAt).UTC(),
		UpdatedAt:   ent.UpdatedAtNs,
	}
	if ent.DueDate != 0 {
		due := time.Unix(0, ent.DueDate).UTC()
		item.DueDate = &due
	}
	return item
}
