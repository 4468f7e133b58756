// Package internal wires configuration, the store and the collection into the
// deckmark commands.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starford/deckmark/internal/ankiconnect"
	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/collection"
	"github.com/starford/deckmark/internal/git"
	"github.com/starford/deckmark/internal/journal"
	"github.com/starford/deckmark/internal/media"
	"github.com/starford/deckmark/internal/models"
	"github.com/starford/deckmark/internal/pack"
	"github.com/starford/deckmark/internal/reconcile"
	"github.com/starford/deckmark/internal/registry"
	"github.com/starford/deckmark/internal/storage"
	"github.com/starford/deckmark/internal/store"
)

// App runs deckmark commands against one collection.
type App struct {
	cfg      *Config
	log      *slog.Logger
	store    store.Store
	anki     *ankiconnect.Client // nil when the store was injected
	prompter Prompter
}

// New builds the application from the given options.
func New(opts ...Option) (*App, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = newLogger(cfg.App, os.Stderr)
		slog.SetDefault(logger)
	}

	a := &App{cfg: cfg, log: logger, store: app.store, prompter: app.prompter}
	if a.prompter == nil {
		a.prompter = NoopPrompter{}
	}
	if a.store == nil {
		a.anki = ankiconnect.New(cfg.Anki.URL,
			ankiconnect.WithTimeout(cfg.Anki.Timeout),
			ankiconnect.WithVersion(cfg.Anki.APIVersion),
			ankiconnect.WithLogger(logger),
		)
		a.store = a.anki
	}

	logger.Debug("Configuration loaded",
		slog.String("anki_url", cfg.Anki.URL),
		slog.String("collection_path", cfg.Collection.Path),
		slog.Bool("journal", cfg.Journal.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	return a, nil
}

func newLogger(cfg ApplicationConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// interruptible runs fn with a context that SIGINT and SIGTERM cancel. The
// reconcilers stop between store calls and skip the pending writeback.
func (a *App) interruptible(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return fn(gCtx)
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			a.log.Warn("Received shutdown signal, stopping after the current store call", slog.String("signal", sig.String()))
			cancel()
		case <-done:
		}
		return nil
	})

	return g.Wait()
}

// session is one locked sync run.
type session struct {
	col     *collection.Collection
	decks   []*models.DeckFile
	journal journal.Journal
	sum     *reconcile.Summary
}

// sync locks the collection, checks the profile, snapshots the tree, loads
// every deck file and records the outcome of fn in the journal.
func (a *App) sync(ctx context.Context, command string, noCommit bool, fn func(context.Context, *session) error) error {
	return a.interruptible(ctx, func(ctx context.Context) error {
		col, err := collection.Open(a.cfg.Collection.Path)
		if err != nil {
			return err
		}
		if err := col.Lock(); err != nil {
			return err
		}
		defer func() { _ = col.Unlock() }()

		if err := col.CheckProfile(ctx, a.store); err != nil {
			return err
		}
		if col.Marker().AutoCommit && !noCommit {
			if _, err := git.NewClient(col.Root(), a.log).Snapshot(ctx, command); err != nil {
				a.log.Warn("snapshot failed, continuing", slog.String("error", err.Error()))
			}
		}
		decks, err := col.Load()
		if err != nil {
			return err
		}

		jr := a.openJournal(col.Root())
		defer jr.Close()

		run := journal.NewRun(command)
		s := &session{col: col, decks: decks, journal: jr}
		err = fn(ctx, s)
		a.record(jr, run, s.sum, err)
		return err
	})
}

func (a *App) openJournal(root string) journal.Journal {
	if !a.cfg.Journal.Enabled {
		return journal.Discard{}
	}
	db, err := journal.Open(a.cfg.Journal.Resolve(root))
	if err != nil {
		a.log.Warn("journal unavailable, run not recorded", slog.String("error", err.Error()))
		return journal.Discard{}
	}
	return db
}

func (a *App) record(jr journal.Journal, run *journal.Run, sum *reconcile.Summary, err error) {
	switch {
	case err == nil:
		run.Status = journal.StatusOK
	case errors.Is(err, context.Canceled):
		run.Status = journal.StatusCancelled
	case sum != nil && len(sum.Files) > 0:
		run.Status = journal.StatusPartial
	default:
		run.Status = journal.StatusFailed
	}
	if err != nil {
		run.Error = err.Error()
	}
	if sum != nil {
		run.Summary = sum.String()
		for _, f := range sum.Files {
			row := journal.FileRow{Path: f.Path, Deck: f.Deck, Counts: map[string]int{}, Written: f.Written, Deleted: f.Deleted}
			for _, b := range f.Blocks {
				row.Counts[b.Outcome.String()]++
			}
			if f.Err != nil {
				row.Error = f.Err.Error()
			}
			run.Files = append(run.Files, row)
		}
	}
	if err := jr.Record(run); err != nil {
		a.log.Warn("run not recorded", slog.String("error", err.Error()))
	}
}

func (a *App) ensureNoteTypes(ctx context.Context) error {
	if a.anki == nil {
		return nil
	}
	created, err := a.anki.EnsureNoteTypes(ctx)
	if err != nil {
		return fmt.Errorf("ensure note types: %w", err)
	}
	for _, name := range created {
		a.log.Info("note type created", slog.String("model", name))
	}
	return nil
}

// InitRequest configures Init.
type InitRequest struct {
	AutoCommit bool
}

// Init turns the configured directory into a collection bound to the active
// profile.
func (a *App) Init(ctx context.Context, req InitRequest) (*collection.Collection, error) {
	profile, err := a.store.ActiveProfile(ctx)
	if err != nil {
		return nil, err
	}
	col, err := collection.Init(a.cfg.Collection.Path, collection.Marker{Profile: profile, AutoCommit: req.AutoCommit})
	if err != nil {
		return nil, err
	}
	if err := a.ensureNoteTypes(ctx); err != nil {
		return nil, err
	}
	a.log.Info("collection initialised",
		slog.String("path", col.Root()),
		slog.String("profile", profile),
		slog.Bool("auto_commit", req.AutoCommit))
	return col, nil
}

// ImportRequest configures Import.
type ImportRequest struct {
	File         string // one deck file, relative to the collection
	AdditiveOnly bool
	Yes          bool // delete untracked decks without asking
	PushMedia    bool
	NoCommit     bool
}

// Import pushes the deck files into the store.
func (a *App) Import(ctx context.Context, req ImportRequest) (*reconcile.Summary, error) {
	var sum *reconcile.Summary
	err := a.sync(ctx, "import", req.NoCommit, func(ctx context.Context, s *session) error {
		// Integrity is checked before note types may be created.
		if _, err := registry.Build(s.decks); err != nil {
			return err
		}
		if err := a.ensureNoteTypes(ctx); err != nil {
			return err
		}
		only, err := relativeTo(s.col.Root(), req.File)
		if err != nil {
			return err
		}

		im := reconcile.NewImporter(s.col.Files(), a.store, a.log)
		sum, err = im.Run(ctx, s.decks, reconcile.ImportOptions{Only: only, AdditiveOnly: req.AdditiveOnly})
		s.sum = sum
		if err != nil {
			return err
		}
		if len(sum.Untracked) > 0 {
			if err := a.deleteUntracked(ctx, im, sum, req.Yes); err != nil {
				return err
			}
		}
		if req.PushMedia {
			pusher := media.NewPusher(s.col.Files(), s.col.MediaDir(), a.store, s.journal, a.log)
			res, err := pusher.Push(ctx, s.decks)
			if err != nil {
				return err
			}
			for _, name := range res.Missing {
				a.log.Warn("media file missing", slog.String("name", name))
			}
		}
		return sum.Err()
	})
	return sum, err
}

func (a *App) deleteUntracked(ctx context.Context, im *reconcile.Importer, sum *reconcile.Summary, yes bool) error {
	confirm := sum.UntrackedConfirmation()
	ok := yes
	if !ok {
		var err error
		ok, err = a.prompter.Confirm("Delete the notes of decks with no deck file?", confirm.Error())
		if err != nil {
			a.log.Warn("confirmation unavailable", slog.String("error", err.Error()))
		}
	}
	if !ok {
		a.log.Warn("untracked decks left in the store; rerun with --yes to delete them", slog.String("decks", untrackedNames(sum)))
		return nil
	}
	n, err := im.DeleteUntracked(ctx, sum.Untracked)
	if err != nil {
		return err
	}
	a.log.Info("untracked notes deleted", slog.Int("notes", n))
	return nil
}

func untrackedNames(sum *reconcile.Summary) string {
	names := make([]string, len(sum.Untracked))
	for i, d := range sum.Untracked {
		names[i] = d.Name
	}
	return strings.Join(names, ", ")
}

// relativeTo maps a user-supplied deck path onto the collection's slash
// separated relative form.
func relativeTo(root, file string) (string, error) {
	if file == "" {
		return "", nil
	}
	if filepath.IsAbs(file) {
		rel, err := filepath.Rel(root, file)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("import: %s is outside the collection: %w", file, apperr.ErrNotFound)
		}
		file = rel
	}
	return filepath.ToSlash(filepath.Clean(file)), nil
}

// ExportRequest configures Export.
type ExportRequest struct {
	Deck          string
	KeepOrphans   bool
	DropUntracked bool
	NoCommit      bool
}

// Export rewrites the deck files from the store. When rewriting would drop
// blocks without identity, the user is asked first.
func (a *App) Export(ctx context.Context, req ExportRequest) (*reconcile.Summary, error) {
	var sum *reconcile.Summary
	err := a.sync(ctx, "export", req.NoCommit, func(ctx context.Context, s *session) error {
		ex := reconcile.NewExporter(s.col.Files(), a.store, a.log)
		opts := reconcile.ExportOptions{Deck: req.Deck, KeepOrphans: req.KeepOrphans, DropUntracked: req.DropUntracked}

		var err error
		sum, err = ex.Run(ctx, s.decks, opts)
		if apperr.IsOrphanConfirmation(err) {
			ok, perr := a.prompter.Confirm("Drop notes without note_id?", err.Error())
			if perr != nil {
				a.log.Warn("confirmation unavailable", slog.String("error", perr.Error()))
			}
			if ok {
				opts.DropUntracked = true
				sum, err = ex.Run(ctx, s.decks, opts)
			}
		}
		s.sum = sum
		if err != nil {
			return err
		}
		return sum.Err()
	})
	return sum, err
}

// SerializeRequest configures Serialize.
type SerializeRequest struct {
	Out          string
	NoIDs        bool
	IncludeMedia bool
}

// Serialize writes the collection as a portable package.
func (a *App) Serialize(req SerializeRequest) (*pack.SerializeResult, error) {
	col, err := collection.Open(a.cfg.Collection.Path)
	if err != nil {
		return nil, err
	}
	decks, err := col.Load()
	if err != nil {
		return nil, err
	}
	out := req.Out
	if out == "" {
		out = "collection.json"
	}
	res, err := pack.Serialize(col.Files(), col.MediaDir(), decks, out, pack.SerializeOptions{
		IncludeIDs:   !req.NoIDs,
		IncludeMedia: req.IncludeMedia,
	})
	if err != nil {
		return nil, err
	}
	for _, name := range res.Missing {
		a.log.Warn("media file missing", slog.String("name", name))
	}
	a.log.Info("collection serialized",
		slog.String("path", res.Path),
		slog.Int("decks", res.Decks),
		slog.Int("notes", res.Notes),
		slog.Int("media", res.Media))
	return res, nil
}

// DeserializeRequest configures Deserialize.
type DeserializeRequest struct {
	File      string
	Overwrite bool
}

// Deserialize unpacks a package into the configured directory. The directory
// need not be a collection yet.
func (a *App) Deserialize(req DeserializeRequest) (*pack.UnpackResult, error) {
	root := a.cfg.Collection.Path
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("deserialize: create %s: %w", root, err)
	}

	mediaDir := collection.DefaultMediaDir
	col, err := collection.Open(root)
	switch {
	case err == nil:
		mediaDir = col.MediaDir()
		if err := col.Lock(); err != nil {
			return nil, err
		}
		defer func() { _ = col.Unlock() }()
	case !errors.Is(err, apperr.ErrNotInitialized):
		return nil, err
	}

	p, mediaFiles, err := pack.Open(req.File)
	if err != nil {
		return nil, err
	}
	files, err := storage.NewFS(root)
	if err != nil {
		return nil, err
	}
	res, err := pack.Unpack(files, mediaDir, p, mediaFiles, req.Overwrite)
	if err != nil {
		return res, err
	}

	for _, w := range res.Warnings {
		a.log.Warn(w)
	}
	for from, to := range res.Renamed {
		a.log.Info("media renamed on conflict", slog.String("from", from), slog.String("to", to))
	}
	for _, f := range res.Skipped {
		a.log.Warn("deck file exists, use --overwrite to replace it", slog.String("file", f))
	}
	a.log.Info("collection deserialized",
		slog.Int("decks", len(res.Written)),
		slog.Int("notes", res.Notes),
		slog.Int("media", res.Media))
	if col == nil {
		a.log.Info("run 'deckmark init' to bind this collection to an Anki profile")
	}
	return res, nil
}

// History returns the most recent recorded runs.
func (a *App) History(limit int) ([]journal.Run, error) {
	if !a.cfg.Journal.Enabled {
		return nil, fmt.Errorf("history: %w: the journal is disabled", apperr.ErrUnsupported)
	}
	col, err := collection.Open(a.cfg.Collection.Path)
	if err != nil {
		return nil, err
	}
	db, err := journal.Open(a.cfg.Journal.Resolve(col.Root()))
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.ListRuns(limit)
}
