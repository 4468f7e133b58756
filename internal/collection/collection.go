// Package collection owns the directory of deck files: its marker, its run
// lock, deck naming and loading.
package collection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/models"
	"github.com/starford/deckmark/internal/parser"
	"github.com/starford/deckmark/internal/storage"
	"github.com/starford/deckmark/internal/store"
)

const gitignore = LockFile + "\n" + JournalFile + "*\n"

// Collection is an initialised deck directory.
type Collection struct {
	files  *storage.FS
	marker *Marker
	lock   *flock.Flock
}

// Init creates the marker in root. It fails when root is already a
// collection.
func Init(root string, m Marker) (*Collection, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("collection: create %s: %w", root, err)
	}
	files, err := storage.NewFS(root)
	if err != nil {
		return nil, err
	}
	exists, err := files.Exists(MarkerFile)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s is already a collection", apperr.ErrAlreadyExists, files.Root())
	}
	if m.MediaDir == "" {
		m.MediaDir = DefaultMediaDir
	}
	if err := writeMarker(files, &m); err != nil {
		return nil, err
	}
	if ok, _ := files.Exists(".gitignore"); !ok {
		if err := files.Write(".gitignore", []byte(gitignore)); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Join(files.Root(), m.MediaDir), 0o755); err != nil {
		return nil, fmt.Errorf("collection: create media dir: %w", err)
	}
	return newCollection(files, &m), nil
}

// Open loads the collection rooted at root.
func Open(root string) (*Collection, error) {
	files, err := storage.NewFS(root)
	if err != nil {
		return nil, err
	}
	m, err := readMarker(files)
	if err != nil {
		return nil, err
	}
	return newCollection(files, m), nil
}

func newCollection(files *storage.FS, m *Marker) *Collection {
	return &Collection{
		files:  files,
		marker: m,
		lock:   flock.New(filepath.Join(files.Root(), LockFile)),
	}
}

func (c *Collection) Root() string {
	return c.files.Root()
}

func (c *Collection) Files() storage.Provider {
	return c.files
}

func (c *Collection) Marker() Marker {
	return *c.marker
}

// MediaDir is the collection-relative media directory.
func (c *Collection) MediaDir() string {
	return c.marker.MediaDir
}

// Lock takes the exclusive run lock. A held lock fails fast with ErrLocked.
func (c *Collection) Lock() error {
	locked, err := c.lock.TryLock()
	if err != nil {
		return fmt.Errorf("collection: acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", apperr.ErrLocked, c.lock.Path())
	}
	return nil
}

func (c *Collection) Unlock() error {
	return c.lock.Unlock()
}

// CheckProfile fails unless the store's active profile is the one recorded
// at init.
func (c *Collection) CheckProfile(ctx context.Context, s store.Store) error {
	got, err := s.ActiveProfile(ctx)
	if err != nil {
		return err
	}
	if got != c.marker.Profile {
		return &apperr.ProfileMismatchError{Want: c.marker.Profile, Got: got}
	}
	return nil
}

// Load parses every deck file. Any parse error fails the load, since an
// unparsable file's identities are unknown.
func (c *Collection) Load() ([]*models.DeckFile, error) {
	return LoadDeckFiles(c.files)
}

// LoadDeckFiles parses every deck file at the root of p.
func LoadDeckFiles(p storage.Provider) ([]*models.DeckFile, error) {
	infos, err := p.List("")
	if err != nil {
		return nil, err
	}
	out := make([]*models.DeckFile, 0, len(infos))
	for _, info := range infos {
		f, err := LoadDeckFile(p, info.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// LoadDeckFile parses one deck file.
func LoadDeckFile(p storage.Provider, path string) (*models.DeckFile, error) {
	data, err := p.Read(path)
	if err != nil {
		return nil, err
	}
	doc, err := parser.ParseFile(path, data)
	if err != nil {
		return nil, err
	}
	return &models.DeckFile{
		Path:   path,
		Name:   DeckName(path),
		DeckID: doc.DeckID,
		Notes:  doc.Notes,
		Raw:    data,
	}, nil
}
