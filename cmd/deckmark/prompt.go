package main

import (
	"os"

	"github.com/charmbracelet/huh"

	"github.com/starford/deckmark/internal"
)

// huhPrompter asks for confirmation on the terminal.
type huhPrompter struct{}

func (huhPrompter) Confirm(title, description string) (bool, error) {
	result := false

	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Delete").
		Negative("Keep").
		Value(&result).
		Run()

	return result, err
}

// newPrompter returns the terminal prompter when stdin is interactive.
// Scripts get a prompter that declines, so destructive steps need a flag.
func newPrompter() internal.Prompter {
	fi, err := os.Stdin.Stat()
	if err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return internal.NoopPrompter{}
	}
	return huhPrompter{}
}
