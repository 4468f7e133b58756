// Package testutil provides shared test helpers for setting up collections and journals.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/deckmark/internal/collection"
	"github.com/starford/deckmark/internal/journal"
	"github.com/starford/deckmark/internal/storage"
)

// TestJournal creates a temporary journal database that is automatically cleaned up.
func TestJournal(t *testing.T) *journal.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "deckmark-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := journal.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDir creates a temporary deck directory with a storage.Provider.
func TestDir(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// TestCollection initialises a collection bound to profile in a temporary directory.
func TestCollection(t *testing.T, profile string) *collection.Collection {
	t.Helper()
	col, err := collection.Init(t.TempDir(), collection.Marker{Profile: profile})
	if err != nil {
		t.Fatal(err)
	}
	return col
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
