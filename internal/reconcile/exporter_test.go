package reconcile

import (
	"errors"
	"strings"
	"testing"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/parser"
)

func TestExport_CreatesDeckFiles(t *testing.T) {
	e := newEnv(t)
	goID, err := e.mem.CreateDeck(e.ctx, "Lang::Go")
	if err != nil {
		t.Fatalf("CreateDeck: %v", err)
	}
	first := e.storeNote(goID, qa("What is Go?", "A *language*"))
	second := e.storeNote(goID, "T: {{c1::Go}} has channels")
	if _, err := e.mem.CreateDeck(e.ctx, "Empty"); err != nil {
		t.Fatal(err)
	}

	sum := e.exportRun(ExportOptions{})
	summaryErr(t, sum)

	doc := e.doc("Lang__Go.md")
	if doc.DeckID != goID {
		t.Errorf("deck_id = %d, want %d", doc.DeckID, goID)
	}
	if len(doc.Notes) != 2 || doc.Notes[0].ID != first || doc.Notes[1].ID != second {
		t.Fatalf("notes = %v, want [%d %d]", e.noteIDs("Lang__Go.md"), first, second)
	}
	if got := doc.Notes[0].Field("A:"); got != "A *language*" {
		t.Errorf("answer = %q", got)
	}
	if e.exists("Empty.md") {
		t.Errorf("file written for a deck without notes")
	}
	if got := sum.Counts()[OutcomeCreated]; got != 2 {
		t.Errorf("created = %d, want 2", got)
	}
}

func TestExport_AfterImportIsNoop(t *testing.T) {
	e := newEnv(t)
	e.write("A.md", deck(qa("one", "**1**"), "F: front\nB: back", "T: {{c1::x}} and {{c2::y}}\nE: extra"))
	e.importRun(ImportOptions{})
	before := e.read("A.md")

	sum := e.exportRun(ExportOptions{})
	summaryErr(t, sum)
	for _, f := range sum.Files {
		if f.Written || f.Deleted {
			t.Errorf("%s touched: %+v", f.Path, f)
		}
	}
	if after := e.read("A.md"); after != before {
		t.Errorf("A.md changed:\n%s", after)
	}
}

func TestExport_StoreWins(t *testing.T) {
	e := newEnv(t)
	e.write("A.md", deck(qa("q", "original"), qa("other", "same")))
	e.importRun(ImportOptions{})
	id := e.noteIDs("A.md")[0]
	e.storeEdit(id, "A:", "edited in the store")
	e.write("A.md", strings.Replace(e.read("A.md"), "A: original", "A: edited locally", 1))

	sum := e.exportRun(ExportOptions{})
	summaryErr(t, sum)
	doc := e.doc("A.md")
	if got := doc.Notes[0].Field("A:"); got != "edited in the store" {
		t.Errorf("answer = %q, want the store's", got)
	}
	if got := doc.Notes[1].Field("A:"); got != "same" {
		t.Errorf("untouched note = %q", got)
	}
	if n := e.mem.Mutations(); n != 0 {
		t.Errorf("export mutated the store: %v", e.mem.Calls())
	}
}

func TestExport_MovesBlocks(t *testing.T) {
	e := newEnv(t)
	e.write("A.md", deck(qa("stays", "1"), qa("moves", "2")))
	e.write("B.md", deck(qa("other", "3")))
	e.importRun(ImportOptions{})
	moved := e.noteIDs("A.md")[1]
	if err := e.mem.MoveNote(e.ctx, moved, e.deckID("B")); err != nil {
		t.Fatalf("MoveNote: %v", err)
	}

	sum := e.exportRun(ExportOptions{})
	summaryErr(t, sum)
	if ids := e.noteIDs("A.md"); len(ids) != 1 {
		t.Errorf("A ids = %v, want one", ids)
	}
	b := e.noteIDs("B.md")
	if len(b) != 2 || b[1] != moved {
		t.Errorf("B ids = %v, want %d appended", b, moved)
	}
	if got := sum.Counts()[OutcomeMoved]; got != 1 {
		t.Errorf("moved = %d, want 1", got)
	}
}

// exportAll runs an export that may report per-file errors.
func (e *env) exportAll() *Summary {
	e.t.Helper()
	sum, err := e.exporter().Run(e.ctx, e.load(), ExportOptions{})
	if err != nil {
		e.t.Fatalf("export: %v", err)
	}
	return sum
}

func TestExport_MoveToUnsafeDeckKeepsBlock(t *testing.T) {
	e := newEnv(t)
	e.write("A.md", deck(qa("stays", "1"), qa("moves", "2")))
	e.importRun(ImportOptions{})
	moved := e.noteIDs("A.md")[1]
	bad, err := e.mem.CreateDeck(e.ctx, "Bad?Deck")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.mem.MoveNote(e.ctx, moved, bad); err != nil {
		t.Fatalf("MoveNote: %v", err)
	}

	sum := e.exportAll()
	if ids := e.noteIDs("A.md"); len(ids) != 2 || ids[1] != moved {
		t.Fatalf("A ids = %v, want %d kept", ids, moved)
	}
	var warned bool
	for _, f := range sum.Files {
		if f.Path == "A.md" && len(f.Warnings) > 0 && f.Count(OutcomeSkipped) == 1 {
			warned = true
		}
	}
	if !warned {
		t.Errorf("A.md result has no skipped block: %+v", sum.Files)
	}

	// The block still claims the note, so the next import moves it back.
	e.importRun(ImportOptions{})
	n, ok := e.mem.Note(moved)
	if !ok || n.DeckID != e.deckID("A") {
		t.Errorf("note after import = %+v, %v", n, ok)
	}
}

func TestExport_MoveWithUnconvertibleNoteKeepsBlock(t *testing.T) {
	e := newEnv(t)
	e.write("A.md", deck(qa("stays", "1"), qa("moves", "2")))
	e.write("B.md", deck(qa("other", "3")))
	e.importRun(ImportOptions{})
	moved := e.noteIDs("A.md")[1]

	n, _ := e.mem.Note(moved)
	f, _ := n.Type.FieldByPrefix("A:")
	fields := map[string]string{}
	for k, v := range n.Fields {
		fields[k] = v
	}
	fields[f.Name] = "before<hr>after"
	if err := e.mem.UpdateNote(e.ctx, moved, fields); err != nil {
		t.Fatal(err)
	}
	if err := e.mem.MoveNote(e.ctx, moved, e.deckID("B")); err != nil {
		t.Fatalf("MoveNote: %v", err)
	}

	sum := e.exportAll()
	if ids := e.noteIDs("A.md"); len(ids) != 2 || ids[1] != moved {
		t.Errorf("A ids = %v, want %d kept", ids, moved)
	}
	if ids := e.noteIDs("B.md"); len(ids) != 1 {
		t.Errorf("B ids = %v, want only its own note", ids)
	}
	if got := sum.Counts()[OutcomeFailed]; got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
}

func TestExport_NewDeckFileNameTaken(t *testing.T) {
	e := newEnv(t)
	kept := "<!-- deck_id: 999 -->\n\n" + deck(qa("old", "1"))
	e.write("B.md", kept)
	b, _ := e.mem.CreateDeck(e.ctx, "B")
	e.storeNote(b, qa("new", "2"))

	sum, err := e.exporter().Run(e.ctx, e.load(), ExportOptions{KeepOrphans: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := e.read("B.md"); got != kept {
		t.Errorf("B.md overwritten:\n%s", got)
	}
	var conflict bool
	for _, f := range sum.Files {
		if f.Deck == "B" && errors.Is(f.Err, apperr.ErrConflict) {
			conflict = true
		}
	}
	if !conflict {
		t.Errorf("files = %+v, want a conflict for deck B", sum.Files)
	}
}

func TestExport_RenamesFile(t *testing.T) {
	e := newEnv(t)
	e.write("Go.md", deck(qa("a", "1")))
	e.importRun(ImportOptions{})
	id := e.deckID("Go")
	if err := e.mem.RenameDeck(e.ctx, id, "Lang::Go"); err != nil {
		t.Fatalf("RenameDeck: %v", err)
	}

	sum := e.exportRun(ExportOptions{})
	summaryErr(t, sum)
	if e.exists("Go.md") {
		t.Errorf("Go.md still present")
	}
	if doc := e.doc("Lang__Go.md"); doc.DeckID != id {
		t.Errorf("deck_id = %d, want %d", doc.DeckID, id)
	}
	if sum.Files[0].Renamed != "Go.md" {
		t.Errorf("renamed = %q", sum.Files[0].Renamed)
	}
}

func TestExport_OrphanFile(t *testing.T) {
	e := newEnv(t)
	e.write("A.md", deck(qa("a", "1")))
	e.write("B.md", deck(qa("b", "2")))
	e.importRun(ImportOptions{})
	e.mem.DeleteDeck(e.deckID("A"))
	before := e.read("A.md")

	sum := e.exportRun(ExportOptions{KeepOrphans: true})
	summaryErr(t, sum)
	if got := e.read("A.md"); got != before {
		t.Errorf("kept orphan changed:\n%s", got)
	}
	if len(sum.Files) == 0 || len(sum.Files[0].Warnings) == 0 {
		t.Errorf("no warning for kept orphan: %+v", sum.Files)
	}

	sum = e.exportRun(ExportOptions{})
	summaryErr(t, sum)
	if e.exists("A.md") {
		t.Errorf("orphan file not deleted")
	}
	if !e.exists("B.md") {
		t.Errorf("B.md deleted")
	}
}

func TestExport_DeletedNote(t *testing.T) {
	e := newEnv(t)
	e.write("A.md", deck(qa("a", "1"), qa("b", "2")))
	e.importRun(ImportOptions{})
	gone := e.noteIDs("A.md")[0]
	if err := e.mem.DeleteNote(e.ctx, gone); err != nil {
		t.Fatal(err)
	}
	before := e.read("A.md")

	sum := e.exportRun(ExportOptions{KeepOrphans: true})
	summaryErr(t, sum)
	if got := e.read("A.md"); got != before {
		t.Errorf("kept block rewritten:\n%s", got)
	}
	if sum.Counts()[OutcomeKept] != 1 {
		t.Errorf("kept = %d, want 1", sum.Counts()[OutcomeKept])
	}

	summaryErr(t, e.exportRun(ExportOptions{}))
	if ids := e.noteIDs("A.md"); len(ids) != 1 || ids[0] == gone {
		t.Errorf("ids = %v, want %d removed", ids, gone)
	}
}

func TestExport_UntrackedBlocksNeedConfirmation(t *testing.T) {
	e := newEnv(t)
	e.write("A.md", deck(qa("a", "1")))
	e.importRun(ImportOptions{})
	e.write("A.md", e.read("A.md")+parser.Separator[1:]+qa("draft", "not imported yet")+"\n")
	withDraft := e.read("A.md")

	// Nothing to rewrite: the draft stays.
	summaryErr(t, e.exportRun(ExportOptions{}))
	if got := e.read("A.md"); got != withDraft {
		t.Fatalf("A.md rewritten without store changes:\n%s", got)
	}

	id := e.noteIDs("A.md")[0]
	e.storeEdit(id, "A:", "changed")
	_, err := e.exporter().Run(e.ctx, e.load(), ExportOptions{})
	var oc *apperr.OrphanConfirmationRequired
	if !errors.As(err, &oc) || len(oc.Items) != 1 {
		t.Fatalf("err = %v, want OrphanConfirmationRequired", err)
	}
	if got := e.read("A.md"); got != withDraft {
		t.Errorf("A.md written before confirmation")
	}

	summaryErr(t, e.exportRun(ExportOptions{DropUntracked: true}))
	doc := e.doc("A.md")
	if len(doc.Notes) != 1 || doc.Notes[0].Field("A:") != "changed" {
		t.Errorf("notes = %+v", doc.Notes)
	}
}

func TestExport_SingleDeck(t *testing.T) {
	e := newEnv(t)
	e.write("A.md", deck(qa("a", "1")))
	e.write("B.md", deck(qa("b", "2")))
	e.importRun(ImportOptions{})
	e.storeEdit(e.noteIDs("A.md")[0], "A:", "new a")
	e.storeEdit(e.noteIDs("B.md")[0], "A:", "new b")
	beforeB := e.read("B.md")

	sum := e.exportRun(ExportOptions{Deck: "A"})
	summaryErr(t, sum)
	if len(sum.Files) != 1 {
		t.Errorf("files = %d, want 1", len(sum.Files))
	}
	if got := e.doc("A.md").Notes[0].Field("A:"); got != "new a" {
		t.Errorf("A answer = %q", got)
	}
	if got := e.read("B.md"); got != beforeB {
		t.Errorf("B.md touched in single-deck export")
	}

	_, err := e.exporter().Run(e.ctx, e.load(), ExportOptions{Deck: "Missing"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestExport_UnsafeDeckName(t *testing.T) {
	e := newEnv(t)
	bad, err := e.mem.CreateDeck(e.ctx, "What?")
	if err != nil {
		t.Fatal(err)
	}
	e.storeNote(bad, qa("a", "1"))
	good, _ := e.mem.CreateDeck(e.ctx, "Fine")
	e.storeNote(good, qa("b", "2"))

	sum := e.exportRun(ExportOptions{})
	var failed *FileResult
	for i := range sum.Files {
		if sum.Files[i].Deck == "What?" {
			failed = &sum.Files[i]
		}
	}
	if failed == nil || !errors.Is(failed.Err, apperr.ErrInvalidDeckName) {
		t.Fatalf("bad deck result = %+v, want ErrInvalidDeckName", failed)
	}
	if failed.Path != "What?" {
		t.Errorf("path = %q, want the deck name", failed.Path)
	}
	if !e.exists("Fine.md") {
		t.Errorf("Fine.md not written")
	}
}
