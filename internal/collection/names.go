package collection

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/storage"
)

const (
	// HierarchySep separates parent and child decks in the store.
	HierarchySep = "::"
	// FileSep stands for HierarchySep in file names.
	FileSep = "__"
)

const invalidChars = `/\?*|"<>:`

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// DeckName derives the deck name from a deck file path.
func DeckName(p string) string {
	base := strings.TrimSuffix(path.Base(p), storage.DeckExt)
	return norm.NFC.String(strings.ReplaceAll(base, FileSep, HierarchySep))
}

// FileName maps a deck name to its file path, rejecting names that cannot
// round-trip through the file system.
func FileName(deck string) (string, error) {
	deck = norm.NFC.String(deck)
	if err := ValidateDeckName(deck); err != nil {
		return "", err
	}
	return strings.ReplaceAll(deck, HierarchySep, FileSep) + storage.DeckExt, nil
}

// ValidateDeckName reports why name cannot be used as a deck file name.
func ValidateDeckName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", apperr.ErrInvalidDeckName)
	}
	for _, part := range strings.Split(name, HierarchySep) {
		if part == "" {
			return fmt.Errorf("%w: %q has an empty level", apperr.ErrInvalidDeckName, name)
		}
		if strings.Contains(part, FileSep) {
			return fmt.Errorf("%w: %q contains %q", apperr.ErrInvalidDeckName, name, FileSep)
		}
		if i := strings.IndexAny(part, invalidChars); i >= 0 {
			return fmt.Errorf("%w: %q contains %q", apperr.ErrInvalidDeckName, name, part[i])
		}
		for _, r := range part {
			if r < 0x20 {
				return fmt.Errorf("%w: %q contains a control character", apperr.ErrInvalidDeckName, name)
			}
		}
		stem := strings.ToUpper(strings.SplitN(part, ".", 2)[0])
		if reservedNames[stem] {
			return fmt.Errorf("%w: %q uses reserved name %s", apperr.ErrInvalidDeckName, name, stem)
		}
		if strings.HasSuffix(part, ".") || strings.HasSuffix(part, " ") || strings.HasPrefix(part, ".") {
			return fmt.Errorf("%w: %q has a level starting with a dot or ending in a dot or space", apperr.ErrInvalidDeckName, name)
		}
	}
	return nil
}
