package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/content"
	"github.com/starford/deckmark/internal/models"
	"github.com/starford/deckmark/internal/parser"
	"github.com/starford/deckmark/internal/registry"
	"github.com/starford/deckmark/internal/storage"
	"github.com/starford/deckmark/internal/store"
)

// ImportOptions tunes an import run.
type ImportOptions struct {
	// Only restricts the run to one deck file. Every file still feeds the
	// registry so that moves and deletions are judged collection-wide.
	Only string
	// AdditiveOnly creates identity-less blocks and nothing else: matched
	// notes are not updated, moved or recreated, decks are not renamed, and
	// nothing is deleted.
	AdditiveOnly bool
}

// Importer makes the store match the deck files.
type Importer struct {
	files storage.Provider
	store store.Store
	conv  *content.Converter
	log   *slog.Logger
}

func NewImporter(files storage.Provider, s store.Store, log *slog.Logger) *Importer {
	return &Importer{files: files, store: s, conv: content.New(), log: log}
}

// work is one block on its way through the phases.
type work struct {
	note   *models.Note
	fields map[string]string
	ext    models.ExternalNote
	stale  bool
	done   bool
	result BlockResult
}

func (w *work) failed() bool {
	return w.result.Outcome == OutcomeFailed
}

func (w *work) set(p Phase, o Outcome) {
	w.result.Phase, w.result.Outcome = p, o
	w.done = true
}

// Run imports decks. It fails before any mutation on duplicate identities or
// an unreadable store; afterwards errors are scoped to files and blocks and
// reported in the Summary. Cancellation stops the run between store calls.
func (im *Importer) Run(ctx context.Context, decks []*models.DeckFile, opts ImportOptions) (*Summary, error) {
	reg, err := registry.Build(decks)
	if err != nil {
		return nil, err
	}
	if opts.Only != "" {
		if _, ok := fileByPath(decks, opts.Only); !ok {
			return nil, fmt.Errorf("import: %s: %w", opts.Only, apperr.ErrNotFound)
		}
	}
	snap, err := store.Load(ctx, im.store)
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	owned := map[int64]bool{}
	for _, f := range decks {
		if f.DeckID != 0 {
			owned[f.DeckID] = true
		}
		if d, ok := snap.DeckByName(f.Name); ok {
			owned[d.ID] = true
		}
	}
	for _, f := range decks {
		if opts.Only != "" && f.Path != opts.Only {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res := im.importFile(ctx, f, reg, snap, opts)
		sum.Files = append(sum.Files, res)
		if res.DeckID != 0 {
			owned[res.DeckID] = true
		}
		if isCancel(res.Err) {
			return sum, res.Err
		}
	}
	if opts.Only == "" {
		sum.Untracked = untrackedDecks(snap, owned, reg)
	}
	return sum, nil
}

func (im *Importer) importFile(ctx context.Context, f *models.DeckFile, reg *registry.Registry, snap *store.Snapshot, opts ImportOptions) FileResult {
	res := FileResult{Path: f.Path, Deck: f.Name, DeckID: f.DeckID}
	log := im.log.With(slog.String("file", f.Path))

	var blocks []*work
	abort := func(p Phase, err error) FileResult {
		for _, w := range blocks {
			if w.done {
				res.add(w.result)
			}
		}
		res.Phase, res.Err = p, err
		log.Error("import aborted", slog.String("phase", p.String()), slog.String("error", err.Error()))
		return res
	}

	deckID, err := im.resolveDeck(ctx, f, reg, snap, opts, &res)
	if err != nil {
		return abort(PhaseResolve, err)
	}
	res.DeckID = deckID

	for _, n := range f.Notes {
		w := &work{note: n, result: BlockResult{NoteID: n.ID}}
		fields, err := im.convert(n, f.Path)
		if err != nil {
			w.result.Err = err
			w.set(PhaseConvert, OutcomeFailed)
			log.Warn("block skipped", slog.String("note", blockRef(n)), slog.String("error", err.Error()))
		}
		w.fields = fields
		blocks = append(blocks, w)
	}

	// Match.
	for _, w := range blocks {
		if w.failed() || w.note.ID == 0 {
			continue
		}
		ext, ok := snap.Notes[w.note.ID]
		if !ok {
			w.stale = true
			continue
		}
		w.ext = ext
		if ext.Type != w.note.Type {
			w.result.Err = fmt.Errorf("%w: note %d is %s in the store but %s in %s",
				apperr.ErrNoteTypeMismatch, ext.ID, ext.Type, w.note.Type, f.Path)
			w.set(PhaseMatch, OutcomeFailed)
			continue
		}
		if content.FieldsEqual(ext.Fields, w.fields) {
			w.set(PhaseMatch, OutcomeUnchanged)
			continue
		}
		if opts.AdditiveOnly {
			w.set(PhaseMatch, OutcomeSkipped)
			continue
		}
		if err := im.call(ctx, func() error { return im.store.UpdateNote(ctx, ext.ID, w.fields) }); err != nil {
			return abort(PhaseMatch, err)
		}
		w.ext.Fields = w.fields
		snap.Notes[ext.ID] = w.ext
		w.set(PhaseMatch, OutcomeUpdated)
		log.Debug("note updated", slog.Int64("note_id", ext.ID))
	}

	// Move.
	for _, w := range blocks {
		if w.failed() || w.note.ID == 0 || w.stale || w.ext.DeckID == deckID {
			continue
		}
		if opts.AdditiveOnly {
			res.warn("note %d lives in another deck; left there in additive mode", w.ext.ID)
			w.set(PhaseMove, OutcomeSkipped)
			continue
		}
		if err := im.call(ctx, func() error { return im.store.MoveNote(ctx, w.ext.ID, deckID) }); err != nil {
			return abort(PhaseMove, err)
		}
		w.ext.DeckID = deckID
		snap.Notes[w.ext.ID] = w.ext
		w.set(PhaseMove, OutcomeMoved)
		log.Debug("note moved", slog.Int64("note_id", w.ext.ID), slog.Int64("deck_id", deckID))
	}

	// Recreate stale blocks and create new ones.
	ids := map[*models.Note]int64{}
	var created []int64
	for _, w := range blocks {
		if w.failed() {
			continue
		}
		outcome := OutcomeCreated
		switch {
		case w.note.ID == 0:
		case w.stale && opts.AdditiveOnly:
			res.warn("note %d no longer exists in the store; not recreated in additive mode", w.note.ID)
			w.set(PhaseRecreate, OutcomeSkipped)
			continue
		case w.stale:
			outcome = OutcomeRecreated
		default:
			continue
		}
		var id int64
		err := im.call(ctx, func() (err error) {
			id, err = im.store.CreateNote(ctx, deckID, w.note.Type, w.fields)
			return err
		})
		if err != nil {
			if len(created) > 0 {
				res.warn("notes %v were created but are not recorded in the file; the next import deletes them", created)
			}
			return abort(PhaseRecreate, err)
		}
		created = append(created, id)
		ids[w.note] = id
		snap.Notes[id] = models.ExternalNote{ID: id, DeckID: deckID, Type: w.note.Type, Model: w.note.Type.Model(), Fields: w.fields}
		w.result.OldID = w.note.ID
		w.result.NoteID = id
		w.set(PhaseRecreate, outcome)
		log.Debug("note created", slog.Int64("note_id", id), slog.Int64("old_id", w.note.ID))
	}

	// Delete store notes this deck no longer holds.
	var deleted []BlockResult
	if !opts.AdditiveOnly {
		referenced := map[int64]bool{}
		for _, n := range f.Notes {
			referenced[n.ID] = true
		}
		for _, id := range created {
			referenced[id] = true
		}
		for _, ext := range sortedNotes(snap.NotesIn(deckID)) {
			if referenced[ext.ID] || reg.Claimed(ext.ID) {
				continue
			}
			if err := im.call(ctx, func() error { return im.store.DeleteNote(ctx, ext.ID) }); err != nil {
				return abort(PhaseDelete, err)
			}
			delete(snap.Notes, ext.ID)
			deleted = append(deleted, BlockResult{NoteID: ext.ID, Outcome: OutcomeDeleted, Phase: PhaseDelete})
			log.Debug("note deleted", slog.Int64("note_id", ext.ID))
		}
	}

	// Writeback.
	writeDeck := int64(0)
	if deckID != f.DeckID {
		writeDeck = deckID
	}
	if len(ids) > 0 || writeDeck != 0 {
		if err := ctx.Err(); err != nil {
			return abort(PhaseWriteback, err)
		}
		data := parser.Rewrite(f.Raw, writeDeck, ids)
		if err := im.files.Write(f.Path, data); err != nil {
			return abort(PhaseWriteback, err)
		}
		res.Written = true
	}

	for _, w := range blocks {
		res.add(w.result)
	}
	res.Blocks = append(res.Blocks, deleted...)
	log.Info("imported",
		slog.String("deck", f.Name),
		slog.Int("updated", res.Count(OutcomeUpdated)),
		slog.Int("moved", res.Count(OutcomeMoved)),
		slog.Int("created", res.Count(OutcomeCreated)+res.Count(OutcomeRecreated)),
		slog.Int("deleted", res.Count(OutcomeDeleted)),
		slog.Int("failed", res.Count(OutcomeFailed)),
	)
	for _, w := range res.Warnings {
		log.Warn(w)
	}
	return res
}

// resolveDeck finds or creates the deck f mirrors.
func (im *Importer) resolveDeck(ctx context.Context, f *models.DeckFile, reg *registry.Registry, snap *store.Snapshot, opts ImportOptions, res *FileResult) (int64, error) {
	if f.DeckID != 0 {
		d, ok := snap.Deck(f.DeckID)
		switch {
		case ok && d.Name == f.Name:
			return d.ID, nil
		case ok && opts.AdditiveOnly:
			res.warn("deck %q is named %q in the store; not renamed in additive mode", f.Name, d.Name)
			return d.ID, nil
		case ok:
			err := im.call(ctx, func() error { return im.store.RenameDeck(ctx, d.ID, f.Name) })
			switch {
			case errors.Is(err, apperr.ErrUnsupported):
				res.warn("deck %q is named %q in the store and the store cannot rename it; rename it by hand", f.Name, d.Name)
			case err != nil:
				return 0, err
			default:
				snap.PutDeck(models.Deck{ID: d.ID, Name: f.Name})
			}
			return d.ID, nil
		}
		im.log.Info("deck missing from store, recreating", slog.String("file", f.Path), slog.Int64("deck_id", f.DeckID))
	}

	if d, ok := snap.DeckByName(f.Name); ok {
		if owner, claimed := reg.DeckOwner(d.ID); claimed && owner != f {
			return 0, fmt.Errorf("%w: deck %q (%d) is claimed by %s", apperr.ErrConflict, d.Name, d.ID, owner.Path)
		}
		return d.ID, nil
	}
	var id int64
	err := im.call(ctx, func() (err error) {
		id, err = im.store.CreateDeck(ctx, f.Name)
		return err
	})
	if err != nil {
		return 0, err
	}
	snap.PutDeck(models.Deck{ID: id, Name: f.Name})
	return id, nil
}

func (im *Importer) convert(n *models.Note, path string) (map[string]string, error) {
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", path, blockRef(n), err)
	}
	fields, err := im.conv.NoteFields(n)
	if err != nil {
		var ce *apperr.ContentConversionError
		if errors.As(err, &ce) {
			ce.Path = path
			return nil, err
		}
		return nil, fmt.Errorf("%s: %s: %w", path, blockRef(n), err)
	}
	return fields, nil
}

// call runs one store call unless the run was cancelled.
func (im *Importer) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// DeleteUntracked deletes the notes of untracked decks once the user has
// confirmed it. It returns the number of notes deleted.
func (im *Importer) DeleteUntracked(ctx context.Context, decks []UntrackedDeck) (int, error) {
	n := 0
	for _, d := range decks {
		for _, id := range d.NoteIDs {
			if err := im.call(ctx, func() error { return im.store.DeleteNote(ctx, id) }); err != nil {
				return n, fmt.Errorf("delete untracked deck %q: %w", d.Name, err)
			}
			n++
		}
		im.log.Info("untracked deck emptied", slog.String("deck", d.Name), slog.Int("notes", len(d.NoteIDs)))
	}
	return n, nil
}

func untrackedDecks(snap *store.Snapshot, owned map[int64]bool, reg *registry.Registry) []UntrackedDeck {
	var out []UntrackedDeck
	for _, d := range snap.Decks {
		if owned[d.ID] {
			continue
		}
		var ids []int64
		for _, n := range sortedNotes(snap.NotesIn(d.ID)) {
			if !reg.Claimed(n.ID) {
				ids = append(ids, n.ID)
			}
		}
		if len(ids) > 0 {
			out = append(out, UntrackedDeck{ID: d.ID, Name: d.Name, NoteIDs: ids})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedNotes(notes []models.ExternalNote) []models.ExternalNote {
	sort.Slice(notes, func(i, j int) bool { return notes[i].ID < notes[j].ID })
	return notes
}

func fileByPath(files []*models.DeckFile, path string) (*models.DeckFile, bool) {
	for _, f := range files {
		if f.Path == path {
			return f, true
		}
	}
	return nil, false
}

// blockRef names a block for error messages.
func blockRef(n *models.Note) string {
	if n.ID != 0 {
		return fmt.Sprintf("note_id %d", n.ID)
	}
	return fmt.Sprintf("block at line %d", n.StartLine+1)
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
