package collection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/store"
)

func TestInitAndOpen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cards")
	c, err := Init(root, Marker{Profile: "User 1", AutoCommit: true})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if c.MediaDir() != DefaultMediaDir {
		t.Errorf("media dir = %q", c.MediaDir())
	}
	if _, err := os.Stat(filepath.Join(root, DefaultMediaDir)); err != nil {
		t.Errorf("media dir not created: %v", err)
	}
	if _, err := Init(root, Marker{Profile: "User 1"}); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("second Init err = %v, want ErrAlreadyExists", err)
	}

	opened, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m := opened.Marker()
	if m.Profile != "User 1" || !m.AutoCommit || m.Schema != Schema {
		t.Errorf("marker = %+v", m)
	}
}

func TestOpen_NotInitialized(t *testing.T) {
	if _, err := Open(t.TempDir()); !errors.Is(err, apperr.ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
}

func TestLock(t *testing.T) {
	root := t.TempDir()
	a, err := Init(root, Marker{Profile: "p"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	b, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := a.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := b.Lock(); !errors.Is(err, apperr.ErrLocked) {
		t.Errorf("second Lock err = %v, want ErrLocked", err)
	}
	if err := a.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := b.Lock(); err != nil {
		t.Errorf("Lock after release: %v", err)
	}
	_ = b.Unlock()
}

func TestCheckProfile(t *testing.T) {
	c, err := Init(t.TempDir(), Marker{Profile: "User 1"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	s := store.NewMemory("User 1")
	if err := c.CheckProfile(context.Background(), s); err != nil {
		t.Errorf("CheckProfile: %v", err)
	}
	s.SetProfile("Other")
	err = c.CheckProfile(context.Background(), s)
	if !errors.Is(err, apperr.ErrProfileMismatch) || !apperr.IsExternalStore(err) {
		t.Errorf("err = %v, want profile mismatch", err)
	}
}

func TestLoad(t *testing.T) {
	c, err := Init(t.TempDir(), Marker{Profile: "p"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	deck := "<!-- deck_id: 5 -->\n<!-- note_id: 7 -->\nQ: q\nA: a\n"
	if err := c.Files().Write("Lang__Go.md", []byte(deck)); err != nil {
		t.Fatal(err)
	}
	files, err := c.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %d, want 1", len(files))
	}
	f := files[0]
	if f.Name != "Lang::Go" || f.DeckID != 5 || len(f.Notes) != 1 || f.Notes[0].ID != 7 {
		t.Errorf("file = %+v", f)
	}

	_ = c.Files().Write("Bad.md", []byte("Q: q\nA: a\n\n---\nQ: x\nA: y\n"))
	var pe *apperr.ParseError
	if _, err := c.Load(); !errors.As(err, &pe) || pe.Path != "Bad.md" {
		t.Errorf("err = %v, want ParseError for Bad.md", err)
	}
}

func TestNames(t *testing.T) {
	tests := []struct {
		deck string
		file string
	}{
		{"Default", "Default.md"},
		{"Lang::Go::Generics", "Lang__Go__Generics.md"},
		{"Ünïcode", "Ünïcode.md"},
	}
	for _, tt := range tests {
		got, err := FileName(tt.deck)
		if err != nil {
			t.Fatalf("FileName(%q): %v", tt.deck, err)
		}
		if got != tt.file {
			t.Errorf("FileName(%q) = %q, want %q", tt.deck, got, tt.file)
		}
		if back := DeckName(got); back != tt.deck {
			t.Errorf("DeckName(%q) = %q, want %q", got, back, tt.deck)
		}
	}
}

func TestValidateDeckName(t *testing.T) {
	for _, name := range []string{"", "a/b", "what?", "CON", "lpt1.notes", "a::", "x__y", "dots.", ".hidden", `q"`} {
		if err := ValidateDeckName(name); !errors.Is(err, apperr.ErrInvalidDeckName) {
			t.Errorf("ValidateDeckName(%q) = %v, want ErrInvalidDeckName", name, err)
		}
	}
	for _, name := range []string{"Default", "Lang::Go", "C++ basics", "Console"} {
		if err := ValidateDeckName(name); err != nil {
			t.Errorf("ValidateDeckName(%q) = %v", name, err)
		}
	}
}
