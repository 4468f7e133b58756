// Package store defines the narrow capability interface the reconcilers use
// to reach the flashcard application.
package store

import (
	"context"

	"github.com/starford/deckmark/internal/models"
)

// Store is the external store adapter. Implementations are the only
// components allowed network I/O. Errors for a missing deck or note wrap
// apperr.ErrNotFound.
type Store interface {
	// ActiveProfile returns the name of the profile currently open.
	ActiveProfile(ctx context.Context) (string, error)
	// ListDecks returns every deck in the store.
	ListDecks(ctx context.Context) ([]models.Deck, error)
	// ListManagedNotes returns the notes of a managed note type in deckID.
	// deckID 0 lists managed notes across all decks.
	ListManagedNotes(ctx context.Context, deckID int64) ([]models.ExternalNote, error)
	// CreateDeck creates name and returns its id. Creating an existing name
	// returns the existing id.
	CreateDeck(ctx context.Context, name string) (int64, error)
	// RenameDeck renames a deck. Stores that cannot rename return an error
	// wrapping apperr.ErrUnsupported.
	RenameDeck(ctx context.Context, id int64, name string) error
	CreateNote(ctx context.Context, deckID int64, t models.NoteType, fields map[string]string) (int64, error)
	UpdateNote(ctx context.Context, id int64, fields map[string]string) error
	DeleteNote(ctx context.Context, id int64) error
	// MoveNote moves every card of note id into deckID, keeping review data.
	MoveNote(ctx context.Context, id, deckID int64) error
	// StoreMedia writes data under name in the store's media namespace.
	StoreMedia(ctx context.Context, name string, data []byte) error
}

// Snapshot is a store state read once at the start of a reconciliation.
type Snapshot struct {
	Decks []models.Deck
	Notes map[int64]models.ExternalNote // by note id
}

// Load reads every deck and managed note.
func Load(ctx context.Context, s Store) (*Snapshot, error) {
	decks, err := s.ListDecks(ctx)
	if err != nil {
		return nil, err
	}
	notes, err := s.ListManagedNotes(ctx, 0)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Decks: decks, Notes: make(map[int64]models.ExternalNote, len(notes))}
	for _, n := range notes {
		snap.Notes[n.ID] = n
	}
	return snap, nil
}

// Deck returns the deck with id.
func (s *Snapshot) Deck(id int64) (models.Deck, bool) {
	for _, d := range s.Decks {
		if d.ID == id {
			return d, true
		}
	}
	return models.Deck{}, false
}

// DeckByName returns the deck called name.
func (s *Snapshot) DeckByName(name string) (models.Deck, bool) {
	for _, d := range s.Decks {
		if d.Name == name {
			return d, true
		}
	}
	return models.Deck{}, false
}

// NotesIn returns the managed notes of deckID.
func (s *Snapshot) NotesIn(deckID int64) []models.ExternalNote {
	var out []models.ExternalNote
	for _, n := range s.Notes {
		if n.DeckID == deckID {
			out = append(out, n)
		}
	}
	return out
}

// PutDeck records a deck created or renamed during the run.
func (s *Snapshot) PutDeck(d models.Deck) {
	for i := range s.Decks {
		if s.Decks[i].ID == d.ID {
			s.Decks[i] = d
			return
		}
	}
	s.Decks = append(s.Decks, d)
}
