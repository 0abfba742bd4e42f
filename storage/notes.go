package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"proflo-api/domain"
)

// noteEntity is a row of the notes table, partitioned by project.
type noteEntity struct {
	tableKeys
	Text          string `json:"Text"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type noteTextUpdate struct {
	tableKeys
	Text          string `json:"Text"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

func fromNoteEntity(ent noteEntity) domain.Note {
	return domain.Note{
		ID:        ent.RowKey,
		ProjectID: ent.PartitionKey,
		Text:      ent.Text,
		CreatedAt: time.Unix(0, ent.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, ent.UpdatedAt).UTC(),
	}
}

var errNotesDisabled = errors.New("notes table not configured")

// ListNotes returns the notes of a project, newest first.
func (s *Storage) ListNotes(ctx context.Context, projectID string) ([]domain.Note, error) {
	if s.noteTable == nil {
		return nil, errNotesDisabled
	}
	filter := partitionFilter(projectID)
	pager := s.noteTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	notes := []domain.Note{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, e := range resp.Entities {
			var ent noteEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			notes = append(notes, fromNoteEntity(ent))
		}
	}
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	return notes, nil
}

// InsertNote stores a new note and returns it as written.
func (s *Storage) InsertNote(ctx context.Context, note domain.Note) (*domain.Note, error) {
	if s.noteTable == nil {
		return nil, errNotesDisabled
	}
	now := s.now().UTC()
	note.CreatedAt, note.UpdatedAt = now, now
	payload, err := sonic.Marshal(noteEntity{
		tableKeys:     tableKeys{PartitionKey: note.ProjectID, RowKey: note.ID},
		Text:          note.Text,
		CreatedAt:     now.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     now.UnixNano(),
		UpdatedAtType: edmInt64,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.noteTable.AddEntity(ctx, payload, nil); err != nil {
		return nil, mapError(err)
	}
	return &note, nil
}

// UpdateNote replaces the text of a note and returns the canonical row.
func (s *Storage) UpdateNote(ctx context.Context, projectID, id, text string) (*domain.Note, error) {
	if s.noteTable == nil {
		return nil, errNotesDisabled
	}
	payload, err := sonic.Marshal(noteTextUpdate{
		tableKeys:     tableKeys{PartitionKey: projectID, RowKey: id},
		Text:          text,
		UpdatedAt:     s.now().UTC().UnixNano(),
		UpdatedAtType: edmInt64,
	})
	if err != nil {
		return nil, err
	}
	et := azcore.ETagAny
	if _, err := s.noteTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return nil, mapError(err)
	}
	resp, err := s.noteTable.GetEntity(ctx, projectID, id, nil)
	if err != nil {
		return nil, mapError(err)
	}
	var ent noteEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	note := fromNoteEntity(ent)
	return &note, nil
}

// DeleteNote removes a note.
func (s *Storage) DeleteNote(ctx context.Context, projectID, id string) error {
	if s.noteTable == nil {
		return errNotesDisabled
	}
	if _, err := s.noteTable.DeleteEntity(ctx, projectID, id, nil); err != nil {
		return mapError(err)
	}
	return nil
}

// deleteProjectNotes removes every note of a deleted project.
func (s *Storage) deleteProjectNotes(ctx context.Context, projectID string) error {
	if s.noteTable == nil {
		return nil
	}
	notes, err := s.ListNotes(ctx, projectID)
	if err != nil {
		return err
	}
	for _, n := range notes {
		if err := s.DeleteNote(ctx, projectID, n.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}
