package storage

import (
	"context"
	"errors"
	"testing"

	"proflo-api/domain"
)

func newTestNoteStorage() (*Storage, *fakeTable) {
	s, _, _, _ := newTestStorage()
	notes := newFakeTable()
	s.noteTable = notes
	return s, notes
}

func TestNotesCRUD(t *testing.T) {
	s, notes := newTestNoteStorage()
	ctx := context.Background()

	for _, id := range []string{"n1", "n2"} {
		if _, err := s.InsertNote(ctx, domain.Note{ID: id, ProjectID: "p1", Text: "text " + id}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if _, err := s.InsertNote(ctx, domain.Note{ID: "n1", ProjectID: "p1"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	list, err := s.ListNotes(ctx, "p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "n2" || list[1].ID != "n1" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	updated, err := s.UpdateNote(ctx, "p1", "n1", "rewritten")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Text != "rewritten" || !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("unexpected updated note: %+v", updated)
	}
	if _, err := s.UpdateNote(ctx, "p1", "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.DeleteNote(ctx, "p1", "n2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(notes.rows["p1"]) != 1 {
		t.Fatalf("expected one note left, got %d", len(notes.rows["p1"]))
	}
}

func TestDeleteProjectCascadesNotes(t *testing.T) {
	s, notes := newTestNoteStorage()
	ctx := context.Background()
	if _, err := s.InsertItem(ctx, domain.Item{ID: "p1", Kind: domain.KindProject, Scope: "tenant-1", Status: domain.StatusActive}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	for _, n := range []domain.Note{{ID: "n1", ProjectID: "p1"}, {ID: "n2", ProjectID: "p2"}} {
		if _, err := s.InsertNote(ctx, n); err != nil {
			t.Fatalf("insert note: %v", err)
		}
	}

	if err := s.DeleteItem(ctx, domain.KindProject, "tenant-1", "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(notes.rows["p1"]) != 0 || len(notes.rows["p2"]) != 1 {
		t.Fatalf("expected only p1 notes to be removed, got %v", notes.deletes)
	}
}

func TestNotesWithoutTable(t *testing.T) {
	s, _, _, _ := newTestStorage()
	if _, err := s.ListNotes(context.Background(), "p1"); !errors.Is(err, errNotesDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
}
