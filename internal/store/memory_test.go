package store

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/models"
)

func TestMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("User 1")

	deck, err := m.CreateDeck(ctx, "Lang::Go")
	if err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}
	again, _ := m.CreateDeck(ctx, "Lang::Go")
	if again != deck {
		t.Errorf("CreateDeck existing = %d, want %d", again, deck)
	}
	id, err := m.CreateNote(ctx, deck, models.NoteTypeQA, map[string]string{"Question": "q", "Answer": "a"})
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if err := m.UpdateNote(ctx, id, map[string]string{"Question": "q2", "Answer": "a"}); err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	other, _ := m.CreateDeck(ctx, "Other")
	if err := m.MoveNote(ctx, id, other); err != nil {
		t.Fatalf("MoveNote: %v", err)
	}
	notes, err := m.ListManagedNotes(ctx, other)
	if err != nil {
		t.Fatalf("ListManagedNotes: %v", err)
	}
	if len(notes) != 1 || notes[0].Fields["Question"] != "q2" || notes[0].Type != models.NoteTypeQA {
		t.Errorf("notes = %+v", notes)
	}
	if err := m.DeleteNote(ctx, id); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if err := m.DeleteNote(ctx, id); !apperr.IsNotFound(err) || !apperr.IsExternalStore(err) {
		t.Errorf("second DeleteNote err = %v, want store not-found", err)
	}
	// createDeck x2, addNote, update, move, delete
	if got := m.Mutations(); got != 6 {
		t.Errorf("Mutations = %d, want 6 (%v)", got, m.Calls())
	}
}

func TestMemory_UnmanagedInvisible(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("p")
	deck, _ := m.CreateDeck(ctx, "D")
	m.AddUnmanagedNote(deck, "Basic", map[string]string{"Front": "x"})
	notes, err := m.ListManagedNotes(ctx, 0)
	if err != nil {
		t.Fatalf("ListManagedNotes: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("unmanaged note listed: %+v", notes)
	}
}

func TestMemory_FailOn(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("p")
	deck, _ := m.CreateDeck(ctx, "D")
	boom := errors.New("boom")
	m.FailOn = func(op string, _ int64) error {
		if op == "addNote" {
			return boom
		}
		return nil
	}
	_, err := m.CreateNote(ctx, deck, models.NoteTypeQA, nil)
	if !errors.Is(err, boom) || !apperr.IsExternalStore(err) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestMemory_NoRename(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("p")
	m.NoRename = true
	deck, _ := m.CreateDeck(ctx, "D")
	if err := m.RenameDeck(ctx, deck, "E"); !errors.Is(err, apperr.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("p")
	a, _ := m.CreateDeck(ctx, "A")
	b, _ := m.CreateDeck(ctx, "B")
	n1, _ := m.CreateNote(ctx, a, models.NoteTypeQA, map[string]string{"Question": "1"})
	_, _ = m.CreateNote(ctx, b, models.NoteTypeCloze, map[string]string{"Text": "{{c1::x}}"})

	snap, err := Load(ctx, m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Notes) != 2 {
		t.Errorf("notes = %d, want 2", len(snap.Notes))
	}
	if in := snap.NotesIn(a); len(in) != 1 || in[0].ID != n1 {
		t.Errorf("NotesIn(A) = %+v", in)
	}
	if d, ok := snap.DeckByName("B"); !ok || d.ID != b {
		t.Errorf("DeckByName(B) = %+v, %v", d, ok)
	}
	snap.PutDeck(models.Deck{ID: b, Name: "B2"})
	if d, _ := snap.Deck(b); d.Name != "B2" {
		t.Errorf("PutDeck did not rename: %+v", d)
	}
}
