// Package media uploads the collection's referenced media files to the store.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/starford/deckmark/internal/checksum"
	"github.com/starford/deckmark/internal/content"
	"github.com/starford/deckmark/internal/journal"
	"github.com/starford/deckmark/internal/models"
	"github.com/starford/deckmark/internal/storage"
	"github.com/starford/deckmark/internal/store"
)

// Pusher pushes media whose content changed since the last push.
type Pusher struct {
	files    storage.Provider
	mediaDir string
	store    store.Store
	ledger   journal.Journal
	log      *slog.Logger
}

func NewPusher(files storage.Provider, mediaDir string, s store.Store, ledger journal.Journal, log *slog.Logger) *Pusher {
	return &Pusher{files: files, mediaDir: mediaDir, store: s, ledger: ledger, log: log}
}

// Result reports one push.
type Result struct {
	Pushed    []string
	Unchanged int
	Missing   []string // referenced but absent from the media directory
}

// References lists every local media name the decks refer to.
func References(decks []*models.DeckFile) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range decks {
		for _, n := range f.Notes {
			for _, body := range n.Fields {
				for _, ref := range content.MediaReferences(body) {
					if !seen[ref] {
						seen[ref] = true
						out = append(out, ref)
					}
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// Push uploads the media referenced by decks. A store failure stops the push;
// files pushed before it stay recorded.
func (p *Pusher) Push(ctx context.Context, decks []*models.DeckFile) (*Result, error) {
	pushed, err := p.ledger.MediaChecksums()
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for _, name := range References(decks) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		data, err := p.files.Read(path.Join(p.mediaDir, name))
		if err != nil {
			res.Missing = append(res.Missing, name)
			p.log.Warn("referenced media missing", slog.String("name", name))
			continue
		}
		if checksum.Matches(data, pushed[name]) {
			res.Unchanged++
			continue
		}
		if err := p.store.StoreMedia(ctx, name, data); err != nil {
			return res, fmt.Errorf("media: push %s: %w", name, err)
		}
		if err := p.ledger.RecordMedia(name, checksum.Sum(data)); err != nil {
			return res, err
		}
		res.Pushed = append(res.Pushed, name)
		p.log.Debug("media pushed", slog.String("name", name), slog.Int("bytes", len(data)))
	}
	p.log.Info("media push finished",
		slog.Int("pushed", len(res.Pushed)),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("missing", len(res.Missing)),
	)
	return res, nil
}
