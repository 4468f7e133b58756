package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/collection"
	"github.com/starford/deckmark/internal/content"
	"github.com/starford/deckmark/internal/models"
	"github.com/starford/deckmark/internal/parser"
	"github.com/starford/deckmark/internal/registry"
	"github.com/starford/deckmark/internal/storage"
	"github.com/starford/deckmark/internal/store"
)

// ExportOptions tunes an export run.
type ExportOptions struct {
	// Deck restricts the run to one deck, by store name. Other files are
	// never touched.
	Deck string
	// KeepOrphans leaves files of deleted decks and blocks of deleted notes
	// untouched, reporting them instead.
	KeepOrphans bool
	// DropUntracked confirms that identity-less blocks in rewritten files
	// may be discarded.
	DropUntracked bool
}

// Exporter makes the deck files match the store.
type Exporter struct {
	files storage.Provider
	store store.Store
	conv  *content.Converter
	log   *slog.Logger
}

func NewExporter(files storage.Provider, s store.Store, log *slog.Logger) *Exporter {
	return &Exporter{files: files, store: s, conv: content.New(), log: log}
}

// filePlan is the planned end state of one deck file.
type filePlan struct {
	deck   models.Deck
	file   *models.DeckFile // nil for a deck without a file yet
	target string
	notes  []*models.Note
	result FileResult

	// outgoing are blocks whose note now lives in another deck. They stay
	// in notes until that deck's plan is known to take them.
	outgoing []outgoing
}

type outgoing struct {
	note *models.Note
	deck int64
}

// Run exports the store into decks. Duplicate identities, an unreadable
// store and unconfirmed untracked blocks fail the run before any file is
// touched.
func (ex *Exporter) Run(ctx context.Context, decks []*models.DeckFile, opts ExportOptions) (*Summary, error) {
	reg, err := registry.Build(decks)
	if err != nil {
		return nil, err
	}
	snap, err := store.Load(ctx, ex.store)
	if err != nil {
		return nil, err
	}

	plans, orphans, err := ex.plan(snap, decks, reg, opts)
	if err != nil {
		return nil, err
	}
	if err := untrackedBlocks(plans, orphans, opts); err != nil {
		return nil, err
	}

	sum := &Summary{}
	// Orphans go first so a new deck may take over a freed file name, then
	// renames, then content.
	for _, f := range orphans {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Files = append(sum.Files, ex.removeOrphanFile(f, opts))
	}
	for _, p := range plans {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		ex.apply(p)
		sum.Files = append(sum.Files, p.result)
	}
	return sum, nil
}

// plan decides, without touching anything, what every relevant file becomes.
func (ex *Exporter) plan(snap *store.Snapshot, decks []*models.DeckFile, reg *registry.Registry, opts ExportOptions) ([]*filePlan, []*models.DeckFile, error) {
	fileOf := map[int64]*models.DeckFile{}
	var orphans []*models.DeckFile
	for _, f := range decks {
		if f.DeckID == 0 {
			continue
		}
		if _, ok := snap.Deck(f.DeckID); ok {
			fileOf[f.DeckID] = f
		} else if opts.Deck == "" {
			orphans = append(orphans, f)
		}
	}
	for _, f := range decks {
		if f.DeckID != 0 {
			continue
		}
		if d, ok := snap.DeckByName(f.Name); ok && fileOf[d.ID] == nil {
			fileOf[d.ID] = f
		}
	}

	var targets []models.Deck
	if opts.Deck != "" {
		d, ok := snap.DeckByName(opts.Deck)
		if !ok {
			return nil, nil, fmt.Errorf("export: deck %q: %w", opts.Deck, apperr.ErrNotFound)
		}
		targets = []models.Deck{d}
	} else {
		for _, d := range snap.Decks {
			if fileOf[d.ID] != nil || len(snap.NotesIn(d.ID)) > 0 {
				targets = append(targets, d)
			}
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })

	plans := make([]*filePlan, 0, len(targets))
	for _, d := range targets {
		p := &filePlan{deck: d, file: fileOf[d.ID]}
		p.result = FileResult{Deck: d.Name, DeckID: d.ID}
		target, err := collection.FileName(d.Name)
		if err != nil {
			p.result.Path, p.result.Phase, p.result.Err = d.Name, PhaseResolve, err
			if p.file != nil {
				p.result.Path = p.file.Path
			}
			plans = append(plans, p)
			continue
		}
		p.target = target
		p.result.Path = target
		ex.rebuild(p, snap, reg, opts)
		plans = append(plans, p)
	}
	if err := ex.checkConflicts(plans, orphans, opts); err != nil {
		return nil, nil, err
	}
	settleMoves(plans)
	return plans, orphans, nil
}

// rebuild fills p.notes from store state, keeping the file's block order.
func (ex *Exporter) rebuild(p *filePlan, snap *store.Snapshot, reg *registry.Registry, opts ExportOptions) {
	single := opts.Deck != ""
	seen := map[int64]bool{}
	if p.file != nil {
		for _, n := range p.file.Notes {
			if n.ID == 0 {
				p.notes = append(p.notes, n)
				continue
			}
			ext, ok := snap.Notes[n.ID]
			switch {
			case !ok && opts.KeepOrphans:
				p.notes = append(p.notes, n)
				p.result.add(BlockResult{NoteID: n.ID, Outcome: OutcomeKept})
				p.result.warn("note %d no longer exists in the store; kept", n.ID)
				continue
			case !ok:
				p.result.add(BlockResult{NoteID: n.ID, Outcome: OutcomeDeleted})
				continue
			case ext.DeckID != p.deck.ID && !single:
				p.notes = append(p.notes, n)
				p.outgoing = append(p.outgoing, outgoing{note: n, deck: ext.DeckID})
				continue
			}
			seen[n.ID] = true
			block, err := ex.conv.NoteFromExternal(ext)
			if err != nil {
				p.notes = append(p.notes, n)
				p.result.add(BlockResult{NoteID: n.ID, Outcome: OutcomeFailed, Err: err})
				continue
			}
			outcome := OutcomeUnchanged
			if !sameNote(n, block) {
				outcome = OutcomeUpdated
			}
			if ext.DeckID != p.deck.ID {
				outcome = OutcomeSkipped
				p.result.warn("note %d now lives in another deck; single-deck export leaves it here", n.ID)
			}
			p.notes = append(p.notes, block)
			p.result.add(BlockResult{NoteID: n.ID, Outcome: outcome})
		}
	}

	for _, ext := range sortedNotes(snap.NotesIn(p.deck.ID)) {
		if seen[ext.ID] {
			continue
		}
		block, err := ex.conv.NoteFromExternal(ext)
		if err != nil {
			p.result.add(BlockResult{NoteID: ext.ID, Outcome: OutcomeFailed, Err: err})
			continue
		}
		outcome := OutcomeCreated
		if loc, ok := reg.Locate(ext.ID); ok && loc.File != p.file {
			if single {
				p.result.warn("note %d moved here from %s; export all decks to move its block", ext.ID, loc.File.Path)
				continue
			}
			outcome = OutcomeMoved
		}
		p.notes = append(p.notes, block)
		p.result.add(BlockResult{NoteID: ext.ID, Outcome: outcome})
	}
}

// checkConflicts fails the plan of a new deck whose file name is taken by a
// file that stays in place.
func (ex *Exporter) checkConflicts(plans []*filePlan, orphans []*models.DeckFile, opts ExportOptions) error {
	freed := map[string]bool{}
	if !opts.KeepOrphans {
		for _, f := range orphans {
			freed[f.Path] = true
		}
	}
	for _, p := range plans {
		if p.file != nil && p.result.Err == nil && p.file.Path != p.target {
			freed[p.file.Path] = true
		}
	}
	for _, p := range plans {
		if p.file != nil || p.result.Err != nil || freed[p.target] {
			continue
		}
		exists, err := ex.files.Exists(p.target)
		if err != nil {
			return err
		}
		if exists {
			p.result.Phase = PhaseResolve
			p.result.Err = fmt.Errorf("%w: %s belongs to another deck", apperr.ErrConflict, p.target)
		}
	}
	return nil
}

// settleMoves drops an outgoing block from its old file only when the plan
// of the note's new deck will write it. Otherwise the block stays where it
// is and keeps claiming the note.
func settleMoves(plans []*filePlan) {
	byDeck := make(map[int64]*filePlan, len(plans))
	for _, p := range plans {
		byDeck[p.deck.ID] = p
	}
	for _, p := range plans {
		if len(p.outgoing) == 0 {
			continue
		}
		gone := map[*models.Note]bool{}
		for _, o := range p.outgoing {
			dest := byDeck[o.deck]
			if dest != nil && dest.result.Err == nil && dest.holds(o.note.ID) {
				gone[o.note] = true
				continue
			}
			p.result.add(BlockResult{NoteID: o.note.ID, Outcome: OutcomeSkipped})
			p.result.warn("note %d moved to a deck whose file cannot take it; kept here", o.note.ID)
		}
		kept := p.notes[:0]
		for _, n := range p.notes {
			if !gone[n] {
				kept = append(kept, n)
			}
		}
		p.notes = kept
	}
}

func (p *filePlan) holds(id int64) bool {
	for _, n := range p.notes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// untrackedBlocks refuses to rewrite or delete files holding identity-less
// blocks unless dropping them was confirmed.
func untrackedBlocks(plans []*filePlan, orphans []*models.DeckFile, opts ExportOptions) error {
	var items []string
	if !opts.KeepOrphans && !opts.DropUntracked {
		for _, f := range orphans {
			if n := len(f.Untracked()); n > 0 {
				items = append(items, fmt.Sprintf("%s (%d notes)", f.Path, n))
			}
		}
	}
	for _, p := range plans {
		if p.file == nil || p.result.Err != nil || !p.changed() {
			continue
		}
		if n := len(p.file.Untracked()); n > 0 {
			if opts.DropUntracked {
				p.dropUntracked()
				continue
			}
			items = append(items, fmt.Sprintf("%s (%d notes)", p.file.Path, n))
		}
	}
	if len(items) > 0 {
		return &apperr.OrphanConfirmationRequired{Kind: "notes without note_id", Items: items}
	}
	return nil
}

func (p *filePlan) dropUntracked() {
	kept := p.notes[:0]
	for _, n := range p.notes {
		if n.ID != 0 {
			kept = append(kept, n)
		}
	}
	p.notes = kept
}

// changed reports whether the plan differs from the file on disk.
func (p *filePlan) changed() bool {
	if p.file == nil {
		return true
	}
	if p.file.Path != p.target || p.file.DeckID != p.deck.ID || len(p.file.Notes) != len(p.notes) {
		return true
	}
	for i, n := range p.file.Notes {
		if !sameNote(n, p.notes[i]) {
			return true
		}
	}
	return false
}

func (ex *Exporter) apply(p *filePlan) {
	if p.result.Err != nil {
		ex.log.Error("export skipped deck", slog.String("deck", p.deck.Name), slog.String("error", p.result.Err.Error()))
		return
	}
	log := ex.log.With(slog.String("file", p.target))
	if !p.changed() {
		log.Debug("file unchanged")
		return
	}

	if p.file != nil && p.file.Path != p.target {
		if err := ex.files.Move(p.file.Path, p.target); err != nil {
			p.result.Phase, p.result.Err = PhaseResolve, err
			p.result.Path = p.file.Path
			log.Error("rename failed", slog.String("from", p.file.Path), slog.String("error", err.Error()))
			return
		}
		p.result.Renamed = p.file.Path
		log.Info("deck renamed", slog.String("from", p.file.Path))
	} else if p.file == nil {
		if exists, err := ex.files.Exists(p.target); err != nil || exists {
			if err == nil {
				err = fmt.Errorf("%w: %s belongs to another deck", apperr.ErrConflict, p.target)
			}
			p.result.Phase, p.result.Err = PhaseWriteback, err
			log.Error("export skipped deck", slog.String("error", err.Error()))
			return
		}
	}

	data := parser.Serialize(&parser.Document{DeckID: p.deck.ID, Notes: p.notes})
	if err := ex.files.Write(p.target, data); err != nil {
		p.result.Phase, p.result.Err = PhaseWriteback, err
		log.Error("write failed", slog.String("error", err.Error()))
		return
	}
	p.result.Written = true
	log.Info("exported",
		slog.String("deck", p.deck.Name),
		slog.Int("updated", p.result.Count(OutcomeUpdated)),
		slog.Int("created", p.result.Count(OutcomeCreated)),
		slog.Int("moved", p.result.Count(OutcomeMoved)),
		slog.Int("removed", p.result.Count(OutcomeDeleted)),
	)
}

func (ex *Exporter) removeOrphanFile(f *models.DeckFile, opts ExportOptions) FileResult {
	res := FileResult{Path: f.Path, Deck: f.Name, DeckID: f.DeckID, Phase: PhaseDelete}
	if opts.KeepOrphans {
		res.warn("deck %d no longer exists in the store; %s kept", f.DeckID, f.Path)
		ex.log.Warn("orphan file kept", slog.String("file", f.Path), slog.Int64("deck_id", f.DeckID))
		return res
	}
	if err := ex.files.Delete(f.Path); err != nil {
		res.Err = err
		ex.log.Error("orphan file not deleted", slog.String("file", f.Path), slog.String("error", err.Error()))
		return res
	}
	res.Deleted = true
	ex.log.Info("orphan file deleted", slog.String("file", f.Path), slog.Int64("deck_id", f.DeckID))
	return res
}

// sameNote compares identity, type and field content. An empty field equals
// an absent one.
func sameNote(a, b *models.Note) bool {
	if a.ID != b.ID || a.Type != b.Type {
		return false
	}
	for k, v := range a.Fields {
		if b.Fields[k] != v {
			return false
		}
	}
	for k, v := range b.Fields {
		if a.Fields[k] != v {
			return false
		}
	}
	return true
}
