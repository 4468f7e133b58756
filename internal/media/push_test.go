package media

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/collection"
	"github.com/starford/deckmark/internal/storage"
	"github.com/starford/deckmark/internal/store"
	"github.com/starford/deckmark/internal/testutil"
)

func setup(t *testing.T) (*storage.FS, *store.Memory, *Pusher) {
	t.Helper()
	_, fs := testutil.TestDir(t)
	mem := store.NewMemory("User 1")
	return fs, mem, NewPusher(fs, "media", mem, testutil.TestJournal(t), testutil.DiscardLogger())
}

func TestPush(t *testing.T) {
	fs, mem, p := setup(t)
	ctx := context.Background()
	deck := "Q: Which animal?\nA: ![](media/cat.png) and [sound:meow.mp3]\n\n---\n\nQ: Where?\nA: ![](https://example.com/remote.png) ![](media/lost.png)\n"
	_ = fs.Write("Pets.md", []byte(deck))
	_ = fs.Write("media/cat.png", []byte("cat v1"))
	_ = fs.Write("media/meow.mp3", []byte("meow"))
	_ = fs.Write("media/unused.png", []byte("unused"))

	decks, err := collection.LoadDeckFiles(fs)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Push(ctx, decks)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(res.Pushed) != 2 || len(res.Missing) != 1 || res.Missing[0] != "lost.png" {
		t.Fatalf("result = %+v", res)
	}
	if data, ok := mem.Media("cat.png"); !ok || string(data) != "cat v1" {
		t.Errorf("cat.png = %q, %v", data, ok)
	}
	if _, ok := mem.Media("unused.png"); ok {
		t.Errorf("unreferenced media pushed")
	}

	// Only changed content goes out again.
	_ = fs.Write("media/cat.png", []byte("cat v2"))
	mem.ResetCalls()
	res, err = p.Push(ctx, decks)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(res.Pushed) != 1 || res.Pushed[0] != "cat.png" || res.Unchanged != 1 {
		t.Errorf("second push = %+v", res)
	}
	if n := mem.Mutations(); n != 1 {
		t.Errorf("mutations = %d, want 1", n)
	}
}

func TestPush_StoreFailure(t *testing.T) {
	fs, mem, p := setup(t)
	_ = fs.Write("A.md", []byte("Q: q\nA: ![](media/a.png)\n"))
	_ = fs.Write("media/a.png", []byte("a"))
	mem.FailOn = func(op string, _ int64) error {
		if op == "storeMediaFile" {
			return errors.New("disk full")
		}
		return nil
	}
	decks, err := collection.LoadDeckFiles(fs)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Push(context.Background(), decks); !apperr.IsExternalStore(err) {
		t.Errorf("err = %v, want store error", err)
	}
}
