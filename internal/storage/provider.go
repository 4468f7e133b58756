// Package storage defines the collection file-system abstraction.
package storage

import "github.com/starford/deckmark/internal/models"

// Provider is the interface for collection file operations. All paths are
// relative to the collection root.
type Provider interface {
	// Root returns the absolute collection directory.
	Root() string
	// List returns metadata for the deck files directly inside dir.
	List(dir string) ([]models.FileInfo, error)
	// Files returns metadata for every regular file directly inside dir.
	Files(dir string) ([]models.FileInfo, error)
	// Exists reports whether path names an existing file.
	Exists(path string) (bool, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}
