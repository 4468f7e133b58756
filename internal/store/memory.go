package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/models"
)

// Memory is an in-memory Store used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	profile string
	nextID  int64
	decks   map[int64]string
	notes   map[int64]models.ExternalNote
	media   map[string][]byte
	calls   []string

	// FailOn makes the named operation fail with the returned error when it
	// is non-nil. The id is the note or deck addressed, 0 when none.
	FailOn func(op string, id int64) error
	// NoRename makes RenameDeck report apperr.ErrUnsupported.
	NoRename bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store with the given active profile.
func NewMemory(profile string) *Memory {
	return &Memory{
		profile: profile,
		nextID:  1000,
		decks:   map[int64]string{},
		notes:   map[int64]models.ExternalNote{},
		media:   map[string][]byte{},
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) fail(op string, id int64) error {
	if m.FailOn == nil {
		return nil
	}
	if err := m.FailOn(op, id); err != nil {
		return apperr.StoreError(op, id, err)
	}
	return nil
}

// mutate records a state-changing call.
func (m *Memory) mutate(op string, id int64) {
	m.calls = append(m.calls, fmt.Sprintf("%s %d", op, id))
}

// Mutations returns the number of state-changing calls made so far.
func (m *Memory) Mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the state-changing calls made so far, as "op id" strings.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// ResetCalls clears the mutation log.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// SetProfile switches the active profile.
func (m *Memory) SetProfile(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = name
}

// Note returns a stored note, for assertions.
func (m *Memory) Note(id int64) (models.ExternalNote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	return n, ok
}

// Media returns stored media bytes, for assertions.
func (m *Memory) Media(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.media[name]
	return b, ok
}

// AddUnmanagedNote stores a note of a foreign model. It is never listed.
func (m *Memory) AddUnmanagedNote(deckID int64, model string, fields map[string]string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.notes[id] = models.ExternalNote{ID: id, DeckID: deckID, Model: model, Fields: fields}
	return id
}

func (m *Memory) ActiveProfile(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("getActiveProfile", 0); err != nil {
		return "", err
	}
	return m.profile, nil
}

func (m *Memory) ListDecks(ctx context.Context) ([]models.Deck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("deckNamesAndIds", 0); err != nil {
		return nil, err
	}
	out := make([]models.Deck, 0, len(m.decks))
	for id, name := range m.decks {
		out = append(out, models.Deck{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListManagedNotes(ctx context.Context, deckID int64) ([]models.ExternalNote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("notesInfo", deckID); err != nil {
		return nil, err
	}
	var out []models.ExternalNote
	for _, n := range m.notes {
		t, ok := models.NoteTypeForModel(n.Model)
		if !ok || (deckID != 0 && n.DeckID != deckID) {
			continue
		}
		n.Type = t
		n.Fields = copyFields(n.Fields)
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateDeck(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("createDeck", 0); err != nil {
		return 0, err
	}
	for id, n := range m.decks {
		if n == name {
			return id, nil
		}
	}
	id := m.id()
	m.decks[id] = name
	m.mutate("createDeck", id)
	return id, nil
}

func (m *Memory) RenameDeck(ctx context.Context, id int64, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.NoRename {
		return apperr.StoreError("renameDeck", id, apperr.ErrUnsupported)
	}
	if err := m.fail("renameDeck", id); err != nil {
		return err
	}
	if _, ok := m.decks[id]; !ok {
		return apperr.StoreError("renameDeck", id, apperr.ErrNotFound)
	}
	m.decks[id] = name
	m.mutate("renameDeck", id)
	return nil
}

// DeleteDeck removes a deck and every note in it, as a user would in the
// application itself. It is not part of Store.
func (m *Memory) DeleteDeck(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.decks, id)
	for nid, n := range m.notes {
		if n.DeckID == id {
			delete(m.notes, nid)
		}
	}
}

func (m *Memory) CreateNote(ctx context.Context, deckID int64, t models.NoteType, fields map[string]string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("addNote", deckID); err != nil {
		return 0, err
	}
	if _, ok := m.decks[deckID]; !ok {
		return 0, apperr.StoreError("addNote", deckID, fmt.Errorf("deck: %w", apperr.ErrNotFound))
	}
	id := m.id()
	m.notes[id] = models.ExternalNote{ID: id, DeckID: deckID, Type: t, Model: t.Model(), Fields: copyFields(fields)}
	m.mutate("addNote", id)
	return id, nil
}

func (m *Memory) UpdateNote(ctx context.Context, id int64, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("updateNoteFields", id); err != nil {
		return err
	}
	n, ok := m.notes[id]
	if !ok {
		return apperr.StoreError("updateNoteFields", id, apperr.ErrNotFound)
	}
	n.Fields = copyFields(fields)
	m.notes[id] = n
	m.mutate("updateNoteFields", id)
	return nil
}

func (m *Memory) DeleteNote(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("deleteNotes", id); err != nil {
		return err
	}
	if _, ok := m.notes[id]; !ok {
		return apperr.StoreError("deleteNotes", id, apperr.ErrNotFound)
	}
	delete(m.notes, id)
	m.mutate("deleteNotes", id)
	return nil
}

func (m *Memory) MoveNote(ctx context.Context, id, deckID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("changeDeck", id); err != nil {
		return err
	}
	n, ok := m.notes[id]
	if !ok {
		return apperr.StoreError("changeDeck", id, apperr.ErrNotFound)
	}
	if _, ok := m.decks[deckID]; !ok {
		return apperr.StoreError("changeDeck", deckID, fmt.Errorf("deck: %w", apperr.ErrNotFound))
	}
	n.DeckID = deckID
	m.notes[id] = n
	m.mutate("changeDeck", id)
	return nil
}

func (m *Memory) StoreMedia(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("storeMediaFile", 0); err != nil {
		return err
	}
	m.media[name] = append([]byte(nil), data...)
	m.mutate("storeMediaFile", 0)
	return nil
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
