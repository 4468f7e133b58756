// Package registry maps every identity in a collection to the file and block
// that claims it. A registry is built once per run and never reused.
package registry

import (
	"sort"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/models"
)

// Location is the owner of one note identity.
type Location struct {
	File  *models.DeckFile
	Index int // block index within File.Notes
}

// Registry is the global identity map of one run.
type Registry struct {
	notes map[int64][]Location
	decks map[int64][]*models.DeckFile
	files []*models.DeckFile
}

// Build scans files and fails with an IntegrityError listing every identity
// claimed more than once.
func Build(files []*models.DeckFile) (*Registry, error) {
	r := &Registry{
		notes: map[int64][]Location{},
		decks: map[int64][]*models.DeckFile{},
		files: files,
	}
	for _, f := range files {
		if f.DeckID != 0 {
			r.decks[f.DeckID] = append(r.decks[f.DeckID], f)
		}
		for i, n := range f.Notes {
			if n.ID != 0 {
				r.notes[n.ID] = append(r.notes[n.ID], Location{File: f, Index: i})
			}
		}
	}
	if dups := r.duplicates(); len(dups) > 0 {
		return nil, &apperr.IntegrityError{Duplicates: dups}
	}
	return r, nil
}

func (r *Registry) duplicates() []apperr.Duplicate {
	var out []apperr.Duplicate
	for id, locs := range r.notes {
		if len(locs) > 1 {
			paths := make([]string, len(locs))
			for i, l := range locs {
				paths[i] = l.File.Path
			}
			out = append(out, apperr.Duplicate{Kind: "note", ID: id, Paths: paths})
		}
	}
	for id, files := range r.decks {
		if len(files) > 1 {
			paths := make([]string, len(files))
			for i, f := range files {
				paths[i] = f.Path
			}
			out = append(out, apperr.Duplicate{Kind: "deck", ID: id, Paths: paths})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Locate returns the owner of a note identity.
func (r *Registry) Locate(id int64) (Location, bool) {
	locs := r.notes[id]
	if len(locs) == 0 {
		return Location{}, false
	}
	return locs[0], true
}

// Owners returns every location claiming id. A built registry never holds
// more than one.
func (r *Registry) Owners(id int64) []Location {
	return r.notes[id]
}

// Claimed reports whether any managed file references id.
func (r *Registry) Claimed(id int64) bool {
	return len(r.notes[id]) > 0
}

// ClaimedElsewhere reports whether a file other than path references id.
func (r *Registry) ClaimedElsewhere(id int64, path string) bool {
	for _, l := range r.notes[id] {
		if l.File.Path != path {
			return true
		}
	}
	return false
}

// DeckOwner returns the file carrying deckID.
func (r *Registry) DeckOwner(deckID int64) (*models.DeckFile, bool) {
	files := r.decks[deckID]
	if len(files) == 0 {
		return nil, false
	}
	return files[0], true
}

// Files returns the scanned files in load order.
func (r *Registry) Files() []*models.DeckFile {
	return r.files
}

// FileByName returns the file whose derived deck name is name.
func (r *Registry) FileByName(name string) (*models.DeckFile, bool) {
	for _, f := range r.files {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}
