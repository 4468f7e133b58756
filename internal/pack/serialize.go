package pack

import (
	"archive/zip"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/deckmark/internal/models"
	"github.com/starford/deckmark/internal/storage"
)

// SerializeOptions tunes Serialize.
type SerializeOptions struct {
	IncludeIDs   bool
	IncludeMedia bool
}

// SerializeResult reports what Serialize wrote.
type SerializeResult struct {
	Path    string // may differ from the requested path by a .zip extension
	Decks   int
	Notes   int
	Media   int
	Missing []string // referenced media not found in the collection
}

// Serialize writes the package of decks to out. When media is requested and
// referenced, the output is a zip holding the JSON and the media files.
func Serialize(files storage.Provider, mediaDir string, decks []*models.DeckFile, out string, opts SerializeOptions) (*SerializeResult, error) {
	p := Build(decks, opts.IncludeIDs)
	res := &SerializeResult{Path: out, Decks: len(p.Decks)}
	for _, d := range p.Decks {
		res.Notes += len(d.Notes)
	}

	var refs []string
	if opts.IncludeMedia {
		refs = p.MediaRefs()
	}
	zipped := len(refs) > 0
	if zipped && filepath.Ext(out) != ".zip" {
		res.Path = strings.TrimSuffix(out, filepath.Ext(out)) + ".zip"
	}

	f, err := os.Create(res.Path)
	if err != nil {
		return nil, fmt.Errorf("pack: create %s: %w", res.Path, err)
	}
	defer f.Close()

	if !zipped {
		if err := Encode(f, p); err != nil {
			return nil, err
		}
		return res, f.Close()
	}

	zw := zip.NewWriter(f)
	w, err := zw.Create(JSONName)
	if err != nil {
		return nil, fmt.Errorf("pack: zip: %w", err)
	}
	if err := Encode(w, p); err != nil {
		return nil, err
	}
	for _, ref := range refs {
		data, err := files.Read(path.Join(mediaDir, ref))
		if err != nil {
			res.Missing = append(res.Missing, ref)
			continue
		}
		w, err := zw.Create(MediaPrefix + ref)
		if err != nil {
			return nil, fmt.Errorf("pack: zip %s: %w", ref, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("pack: zip %s: %w", ref, err)
		}
		res.Media++
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("pack: zip: %w", err)
	}
	return res, f.Close()
}
