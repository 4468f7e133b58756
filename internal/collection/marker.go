package collection

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/storage"
)

const (
	MarkerFile  = ".deckmark.toml"
	LockFile    = ".deckmark.lock"
	JournalFile = ".deckmark.db"

	// Schema is the marker layout this build reads and writes.
	Schema = "1"

	DefaultMediaDir = "media"
)

// Marker is the collection's own settings, written once by init.
type Marker struct {
	Schema     string `toml:"schema"`
	Profile    string `toml:"profile"`
	MediaDir   string `toml:"media_dir"`
	AutoCommit bool   `toml:"auto_commit"`
}

func readMarker(p storage.Provider) (*Marker, error) {
	data, err := p.Read(MarkerFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no %s in %s (run init)", apperr.ErrNotInitialized, MarkerFile, p.Root())
		}
		return nil, fmt.Errorf("collection: %w", err)
	}
	var m Marker
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("collection: invalid %s: %w", MarkerFile, err)
	}
	if m.Schema != Schema {
		return nil, fmt.Errorf("collection: %s has schema %q, this build reads %q", MarkerFile, m.Schema, Schema)
	}
	if m.MediaDir == "" {
		m.MediaDir = DefaultMediaDir
	}
	return &m, nil
}

func writeMarker(p storage.Provider, m *Marker) error {
	m.Schema = Schema
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("collection: encode marker: %w", err)
	}
	return p.Write(MarkerFile, buf.Bytes())
}
