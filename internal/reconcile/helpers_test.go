package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/starford/deckmark/internal/collection"
	"github.com/starford/deckmark/internal/content"
	"github.com/starford/deckmark/internal/models"
	"github.com/starford/deckmark/internal/parser"
	"github.com/starford/deckmark/internal/storage"
	"github.com/starford/deckmark/internal/store"
)

// env is a collection directory wired to an in-memory store.
type env struct {
	t   *testing.T
	ctx context.Context
	fs  *storage.FS
	mem *store.Memory
	log *slog.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return &env{
		t:   t,
		ctx: context.Background(),
		fs:  fs,
		mem: store.NewMemory("User 1"),
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (e *env) write(path, text string) {
	e.t.Helper()
	if err := e.fs.Write(path, []byte(text)); err != nil {
		e.t.Fatalf("write %s: %v", path, err)
	}
}

func (e *env) read(path string) string {
	e.t.Helper()
	data, err := e.fs.Read(path)
	if err != nil {
		e.t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func (e *env) exists(path string) bool {
	e.t.Helper()
	ok, err := e.fs.Exists(path)
	if err != nil {
		e.t.Fatalf("exists %s: %v", path, err)
	}
	return ok
}

func (e *env) load() []*models.DeckFile {
	e.t.Helper()
	files, err := collection.LoadDeckFiles(e.fs)
	if err != nil {
		e.t.Fatalf("load: %v", err)
	}
	return files
}

func (e *env) doc(path string) *parser.Document {
	e.t.Helper()
	doc, err := parser.Parse([]byte(e.read(path)))
	if err != nil {
		e.t.Fatalf("parse %s: %v", path, err)
	}
	return doc
}

func (e *env) importer() *Importer {
	return NewImporter(e.fs, e.mem, e.log)
}

func (e *env) exporter() *Exporter {
	return NewExporter(e.fs, e.mem, e.log)
}

func (e *env) importRun(opts ImportOptions) *Summary {
	e.t.Helper()
	sum, err := e.importer().Run(e.ctx, e.load(), opts)
	if err != nil {
		e.t.Fatalf("import: %v", err)
	}
	return sum
}

func (e *env) exportRun(opts ExportOptions) *Summary {
	e.t.Helper()
	sum, err := e.exporter().Run(e.ctx, e.load(), opts)
	if err != nil {
		e.t.Fatalf("export: %v", err)
	}
	return sum
}

// deckID returns the store id of a deck created during the test.
func (e *env) deckID(name string) int64 {
	e.t.Helper()
	decks, err := e.mem.ListDecks(e.ctx)
	if err != nil {
		e.t.Fatalf("ListDecks: %v", err)
	}
	for _, d := range decks {
		if d.Name == name {
			return d.ID
		}
	}
	e.t.Fatalf("deck %q not in store", name)
	return 0
}

// noteIDs returns the note ids written into path, in block order.
func (e *env) noteIDs(path string) []int64 {
	e.t.Helper()
	var out []int64
	for _, n := range e.doc(path).Notes {
		out = append(out, n.ID)
	}
	return out
}

// storeEdit rewrites one field of a store note, as a user editing in the
// application would, and clears the mutation log.
func (e *env) storeEdit(id int64, prefix, markdown string) {
	e.t.Helper()
	n, ok := e.mem.Note(id)
	if !ok {
		e.t.Fatalf("note %d not in store", id)
	}
	f, ok := n.Type.FieldByPrefix(prefix)
	if !ok {
		e.t.Fatalf("%s has no field %s", n.Type, prefix)
	}
	html, err := content.New().ToExternal(markdown, n.Type, prefix)
	if err != nil {
		e.t.Fatalf("ToExternal: %v", err)
	}
	fields := map[string]string{}
	for k, v := range n.Fields {
		fields[k] = v
	}
	fields[f.Name] = html
	if err := e.mem.UpdateNote(e.ctx, id, fields); err != nil {
		e.t.Fatalf("UpdateNote: %v", err)
	}
	e.mem.ResetCalls()
}

// storeNote creates a note from one authored block directly in the store.
func (e *env) storeNote(deckID int64, block string) int64 {
	e.t.Helper()
	doc, err := parser.Parse([]byte(block))
	if err != nil || len(doc.Notes) != 1 {
		e.t.Fatalf("parse block: %v", err)
	}
	n := doc.Notes[0]
	fields, err := content.New().NoteFields(n)
	if err != nil {
		e.t.Fatalf("NoteFields: %v", err)
	}
	id, err := e.mem.CreateNote(e.ctx, deckID, n.Type, fields)
	if err != nil {
		e.t.Fatalf("CreateNote: %v", err)
	}
	return id
}

// storeField returns one field of a store note as Markdown.
func (e *env) storeField(id int64, prefix string) string {
	e.t.Helper()
	n, ok := e.mem.Note(id)
	if !ok {
		e.t.Fatalf("note %d not in store", id)
	}
	f, _ := n.Type.FieldByPrefix(prefix)
	md, err := content.New().ToMarkup(n.Fields[f.Name], n.Type, prefix)
	if err != nil {
		e.t.Fatalf("ToMarkup: %v", err)
	}
	return md
}

func qa(q, a string) string {
	return fmt.Sprintf("Q: %s\nA: %s", q, a)
}

func deck(blocks ...string) string {
	return strings.Join(blocks, parser.Separator) + "\n"
}

func hasCall(calls []string, op string, id int64) bool {
	want := fmt.Sprintf("%s %d", op, id)
	for _, c := range calls {
		if c == want {
			return true
		}
	}
	return false
}

func countOp(calls []string, op string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

func summaryErr(t *testing.T, sum *Summary) {
	t.Helper()
	if err := sum.Err(); err != nil {
		t.Fatalf("summary: %v", err)
	}
}
