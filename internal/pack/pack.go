// Package pack converts a collection to and from a portable package: a JSON
// document, optionally zipped together with the media it references.
package pack

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/content"
	"github.com/starford/deckmark/internal/models"
)

// Names inside a zipped package.
const (
	JSONName    = "collection.json"
	MediaPrefix = "media/"
)

// Package is the portable form of a collection. Field maps are keyed by
// store field name and hold authored Markdown.
type Package struct {
	Collection Meta   `json:"collection"`
	Decks      []Deck `json:"decks" validate:"dive"`
}

type Meta struct {
	SerializedAt time.Time `json:"serialized_at" validate:"required"`
}

type Deck struct {
	Name   string `json:"name" validate:"required"`
	DeckID string `json:"deck_id,omitempty" validate:"omitempty,numeric"`
	Notes  []Note `json:"notes" validate:"dive"`
}

type Note struct {
	NoteID string            `json:"note_id,omitempty" validate:"omitempty,numeric"`
	Fields map[string]string `json:"fields" validate:"required,min=1"`
}

var validate = validator.New()

// Build converts parsed deck files into a package. Decks without notes are
// left out.
func Build(decks []*models.DeckFile, includeIDs bool) *Package {
	p := &Package{Collection: Meta{SerializedAt: time.Now().UTC()}, Decks: []Deck{}}
	for _, f := range decks {
		if len(f.Notes) == 0 {
			continue
		}
		d := Deck{Name: f.Name}
		if includeIDs && f.DeckID != 0 {
			d.DeckID = strconv.FormatInt(f.DeckID, 10)
		}
		for _, n := range f.Notes {
			note := Note{Fields: map[string]string{}}
			if includeIDs && n.ID != 0 {
				note.NoteID = strconv.FormatInt(n.ID, 10)
			}
			for _, prefix := range n.Prefixes() {
				field, _ := n.Type.FieldByPrefix(prefix)
				note.Fields[field.Name] = n.Fields[prefix]
			}
			d.Notes = append(d.Notes, note)
		}
		p.Decks = append(p.Decks, d)
	}
	return p
}

// MediaRefs lists every local media name the package's notes refer to.
func (p *Package) MediaRefs() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range p.Decks {
		for _, n := range d.Notes {
			for _, body := range n.Fields {
				for _, ref := range content.MediaReferences(body) {
					if !seen[ref] {
						seen[ref] = true
						out = append(out, ref)
					}
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// Encode writes p as indented JSON.
func Encode(w io.Writer, p *Package) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("pack: encode: %w", err)
	}
	return nil
}

// Decode reads and validates a JSON package.
func Decode(r io.Reader) (*Package, error) {
	var p Package
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("pack: decode: %w: %v", apperr.ErrParse, err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("pack: invalid package: %w: %v", apperr.ErrParse, err)
	}
	return &p, nil
}

// note turns a package note back into a block. Field names are shared across
// note types, so the prefixes alone decide the type.
func (n Note) note() (*models.Note, error) {
	out := &models.Note{Fields: map[string]string{}, StartLine: -1, IDLine: -1}
	var prefixes []string
	for name, body := range n.Fields {
		prefix, ok := prefixByName[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", apperr.ErrInvalidNote, name)
		}
		if body == "" {
			continue
		}
		out.Fields[prefix] = body
		prefixes = append(prefixes, prefix)
	}
	t, err := models.InferNoteType(prefixes)
	if err != nil {
		return nil, err
	}
	out.Type = t
	if n.NoteID != "" {
		id, err := strconv.ParseInt(n.NoteID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: note_id %q", apperr.ErrInvalidNote, n.NoteID)
		}
		out.ID = id
	}
	return out, nil
}

var prefixByName = func() map[string]string {
	out := map[string]string{}
	for _, t := range models.NoteTypes() {
		for _, f := range models.TemplateFor(t).Fields {
			out[f.Name] = f.Prefix
		}
	}
	return out
}()
