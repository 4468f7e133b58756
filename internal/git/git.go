// Package git takes snapshots of the collection before a sync rewrites it.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Client runs git inside one directory.
type Client struct {
	dir string
	log *slog.Logger
}

// NewClient creates a git client working in dir.
func NewClient(dir string, log *slog.Logger) *Client {
	return &Client{dir: dir, log: log}
}

func (c *Client) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.dir
	return cmd
}

// IsRepo reports whether the directory is inside a git work tree.
func (c *Client) IsRepo(ctx context.Context) bool {
	return c.command(ctx, "rev-parse", "--git-dir").Run() == nil
}

// Snapshot commits every pending change in the directory. It reports whether
// a commit was made; a missing git binary, a directory outside a repository
// and a clean tree are not errors.
func (c *Client) Snapshot(ctx context.Context, label string) (bool, error) {
	if _, err := exec.LookPath("git"); err != nil {
		c.log.Debug("git not found, skipping snapshot")
		return false, nil
	}
	if !c.IsRepo(ctx) {
		c.log.Debug("not a git repository, skipping snapshot", slog.String("dir", c.dir))
		return false, nil
	}
	if out, err := c.command(ctx, "add", "-A", ".").CombinedOutput(); err != nil {
		return false, fmt.Errorf("git: add: %w: %s", err, strings.TrimSpace(string(out)))
	}

	err := c.command(ctx, "diff", "--cached", "--quiet").Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		c.log.Debug("working tree clean, skipping snapshot")
		return false, nil
	case !errors.As(err, &exitErr):
		return false, fmt.Errorf("git: diff: %w", err)
	}

	msg := fmt.Sprintf("deckmark: pre-%s snapshot (%s)", label, time.Now().Format("2006-01-02 15:04"))
	if out, err := c.command(ctx, "commit", "-m", msg).CombinedOutput(); err != nil {
		return false, fmt.Errorf("git: commit: %w: %s", err, strings.TrimSpace(string(out)))
	}
	c.log.Info("snapshot committed", slog.String("label", label))
	return true, nil
}
