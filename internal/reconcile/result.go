// Package reconcile drives directional synchronisation between deck files
// and the external store.
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/deckmark/internal/apperr"
)

// Phase is a step of the per-file state machine.
type Phase int

const (
	PhaseResolve Phase = iota // deck lookup, rename or creation
	PhaseConvert
	PhaseMatch
	PhaseMove
	PhaseRecreate
	PhaseDelete
	PhaseWriteback
)

func (p Phase) String() string {
	switch p {
	case PhaseResolve:
		return "resolve"
	case PhaseConvert:
		return "convert"
	case PhaseMatch:
		return "match"
	case PhaseMove:
		return "move"
	case PhaseRecreate:
		return "recreate"
	case PhaseDelete:
		return "delete"
	case PhaseWriteback:
		return "writeback"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Outcome is what happened to one block or note.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeUpdated
	OutcomeMoved
	OutcomeCreated
	OutcomeRecreated
	OutcomeDeleted
	OutcomeKept    // orphan left in place
	OutcomeSkipped // suppressed by a mode flag
	OutcomeFailed
)

var outcomeNames = [...]string{"unchanged", "updated", "moved", "created", "recreated", "deleted", "kept", "skipped", "failed"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// BlockResult reports one note.
type BlockResult struct {
	NoteID  int64 // identity after the run
	OldID   int64 // identity before the run, when it changed
	Outcome Outcome
	Phase   Phase
	Err     error
}

// FileResult reports one deck file.
type FileResult struct {
	Path     string
	Deck     string
	DeckID   int64
	Blocks   []BlockResult
	Renamed  string // previous path when the file was renamed
	Written  bool
	Deleted  bool
	Warnings []string

	// Err aborted the file in Phase. No local text was written.
	Err   error
	Phase Phase
}

func (r *FileResult) add(b BlockResult) {
	r.Blocks = append(r.Blocks, b)
}

func (r *FileResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Count returns the number of blocks with outcome o.
func (r *FileResult) Count(o Outcome) int {
	n := 0
	for _, b := range r.Blocks {
		if b.Outcome == o {
			n++
		}
	}
	return n
}

// Failed reports whether the file or any of its blocks failed.
func (r *FileResult) Failed() bool {
	return r.Err != nil || r.Count(OutcomeFailed) > 0
}

// UntrackedDeck is a store deck holding managed notes that no file mirrors.
type UntrackedDeck struct {
	ID      int64
	Name    string
	NoteIDs []int64
}

// Summary reports a whole run.
type Summary struct {
	Files     []FileResult
	Untracked []UntrackedDeck
}

// Counts totals block outcomes across files.
func (s *Summary) Counts() map[Outcome]int {
	out := map[Outcome]int{}
	for _, f := range s.Files {
		for _, b := range f.Blocks {
			out[b.Outcome]++
		}
	}
	return out
}

// String renders the non-zero counts, e.g. "2 created, 1 moved".
func (s *Summary) String() string {
	counts := s.Counts()
	keys := make([]int, 0, len(counts))
	for o := range counts {
		keys = append(keys, int(o))
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%d %s", counts[Outcome(k)], Outcome(k)))
	}
	if len(parts) == 0 {
		return "nothing to do"
	}
	return strings.Join(parts, ", ")
}

// Err joins every file-scoped and block-scoped error.
func (s *Summary) Err() error {
	var errs []error
	for _, f := range s.Files {
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %s: %w", f.Path, f.Phase, f.Err))
		}
		for _, b := range f.Blocks {
			if b.Err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", f.Path, b.Err))
			}
		}
	}
	return errors.Join(errs...)
}

// UntrackedConfirmation returns the confirmation error for untracked decks,
// or nil when there are none.
func (s *Summary) UntrackedConfirmation() error {
	if len(s.Untracked) == 0 {
		return nil
	}
	items := make([]string, len(s.Untracked))
	for i, d := range s.Untracked {
		items[i] = fmt.Sprintf("%s (%d notes)", d.Name, len(d.NoteIDs))
	}
	return &apperr.OrphanConfirmationRequired{Kind: "untracked decks", Items: items}
}
