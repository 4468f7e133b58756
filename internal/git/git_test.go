package git

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func testRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_AUTHOR_NAME", "test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)

	dir := t.TempDir()
	cmd := exec.Command("git", "init", "-q")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}
	return dir
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshot(t *testing.T) {
	dir := testRepo(t)
	c := NewClient(dir, discard())
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "Go.md"), []byte("Q: q\nA: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	made, err := c.Snapshot(ctx, "import")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !made {
		t.Fatalf("no commit for a dirty tree")
	}

	made, err = c.Snapshot(ctx, "import")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if made {
		t.Errorf("commit made for a clean tree")
	}

	cmd := exec.Command("git", "log", "--format=%s")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("git log: %v", err)
	}
	if got := string(out); !strings.HasPrefix(got, "deckmark: pre-import snapshot") {
		t.Errorf("commit message = %q", got)
	}
}

func TestSnapshot_NotARepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	c := NewClient(t.TempDir(), discard())
	made, err := c.Snapshot(context.Background(), "export")
	if err != nil || made {
		t.Errorf("Snapshot = %v, %v; want false, nil", made, err)
	}
}
