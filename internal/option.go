package internal

import (
	"log/slog"

	"github.com/starford/deckmark/internal/store"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config   *Config
	store    store.Store
	logger   *slog.Logger
	prompter Prompter
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithStore replaces the AnkiConnect client built from the configuration.
func WithStore(s store.Store) Option {
	return func(a *application) {
		a.store = s
	}
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithPrompter sets how destructive steps are confirmed.
func WithPrompter(p Prompter) Option {
	return func(a *application) {
		a.prompter = p
	}
}

// Prompter asks the user to confirm a destructive step.
type Prompter interface {
	Confirm(title, description string) (bool, error)
}

// NoopPrompter declines every confirmation.
type NoopPrompter struct{}

func (NoopPrompter) Confirm(string, string) (bool, error) { return false, nil }
