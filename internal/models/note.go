// Package models defines the domain types shared by the codecs and reconcilers.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/starford/deckmark/internal/apperr"
)

// Note is one authored block of a deck file.
type Note struct {
	ID     int64             // 0 when the block has no identity yet
	Type   NoteType          // inferred from the field prefixes
	Fields map[string]string // prefix -> raw Markdown body

	// Source positions, 0-based line indices into the file. IDLine is -1 when
	// the block carries no identity comment.
	StartLine int
	IDLine    int
}

// Field returns the body stored under prefix.
func (n *Note) Field(prefix string) string {
	return n.Fields[prefix]
}

// Prefixes returns the prefixes present on n in template order.
func (n *Note) Prefixes() []string {
	var out []string
	for _, f := range TemplateFor(n.Type).Fields {
		if _, ok := n.Fields[f.Prefix]; ok {
			out = append(out, f.Prefix)
		}
	}
	return out
}

// Validate enforces the per-type rules beyond prefix presence.
func (n *Note) Validate() error {
	tmpl := TemplateFor(n.Type)
	for _, f := range tmpl.Fields {
		if f.Required && strings.TrimSpace(n.Fields[f.Prefix]) == "" {
			return fmt.Errorf("%w: %s note is missing %s", apperr.ErrInvalidNote, n.Type, f.Prefix)
		}
	}
	switch n.Type {
	case NoteTypeQA, NoteTypeReversed, NoteTypeInput:
		return nil
	case NoteTypeCloze:
		if !clozeRe.MatchString(n.Fields["T:"]) {
			return fmt.Errorf("%w: cloze text has no {{cN::...}} deletion", apperr.ErrInvalidNote)
		}
		return nil
	case NoteTypeChoice:
		_, err := n.Choice()
		return err
	default:
		return fmt.Errorf("%w: unknown note type", apperr.ErrInvalidNote)
	}
}

// Choice returns the structured candidates and answer of a Choice note.
func (n *Note) Choice() (Choice, error) {
	if n.Type != NoteTypeChoice {
		return Choice{}, fmt.Errorf("%w: %s note has no choices", apperr.ErrInvalidNote, n.Type)
	}
	highest := 0
	candidates := make([]string, 0, MaxChoices)
	for i := 1; i <= MaxChoices; i++ {
		body, ok := n.Fields[fmt.Sprintf("C%d:", i)]
		candidates = append(candidates, body)
		if ok && strings.TrimSpace(body) != "" {
			highest = i
		}
	}
	correct, err := ParseChoiceAnswer(n.Fields["A:"], highest)
	if err != nil {
		return Choice{}, err
	}
	return Choice{Candidates: candidates[:highest], Correct: correct}, nil
}

// DeckFile is one managed Markdown file and the deck it mirrors.
type DeckFile struct {
	Path   string // relative to the collection root
	Name   string // deck name derived from Path
	DeckID int64  // 0 until the deck exists in the store
	Notes  []*Note
	Raw    []byte
}

// NoteIDs returns the identities carried by the file's blocks.
func (f *DeckFile) NoteIDs() []int64 {
	var out []int64
	for _, n := range f.Notes {
		if n.ID != 0 {
			out = append(out, n.ID)
		}
	}
	return out
}

// Untracked returns the blocks that have no identity.
func (f *DeckFile) Untracked() []*Note {
	var out []*Note
	for _, n := range f.Notes {
		if n.ID == 0 {
			out = append(out, n)
		}
	}
	return out
}

// Deck is a deck as the external store reports it.
type Deck struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ExternalNote is a managed note as the external store reports it.
// Fields are keyed by store field name and hold HTML.
type ExternalNote struct {
	ID     int64             `json:"id"`
	DeckID int64             `json:"deck_id"`
	Type   NoteType          `json:"-"`
	Model  string            `json:"model"`
	Fields map[string]string `json:"fields"`
}

// FileInfo is a lightweight representation returned by list operations.
type FileInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
