package journal

import (
	"time"

	"github.com/google/uuid"
)

// Journal is the run history and media ledger. Consumers depend on this
// interface so a disabled journal can be swapped in.
type Journal interface {
	Record(run *Run) error
	ListRuns(limit int) ([]Run, error)
	MediaChecksums() (map[string]string, error)
	RecordMedia(name, checksum string) error
	Close() error
}

var _ Journal = (*DB)(nil)

// Run statuses.
const (
	StatusOK        = "ok"
	StatusPartial   = "partial"   // some files or blocks failed
	StatusFailed    = "failed"    // the run aborted before or during mutation
	StatusCancelled = "cancelled"
)

// Run is one recorded import or export.
type Run struct {
	ID         string
	Command    string
	Status     string
	Summary    string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Files      []FileRow
}

// FileRow is the outcome of one deck file within a run.
type FileRow struct {
	Path    string
	Deck    string
	Counts  map[string]int // outcome name -> blocks
	Written bool
	Deleted bool
	Error   string
}

// NewRun starts a run record for command.
func NewRun(command string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Command:   command,
		Status:    StatusOK,
		StartedAt: time.Now().UTC(),
	}
}

// Discard is a Journal that records nothing.
type Discard struct{}

var _ Journal = Discard{}

func (Discard) Record(*Run) error                          { return nil }
func (Discard) ListRuns(int) ([]Run, error)                { return nil, nil }
func (Discard) MediaChecksums() (map[string]string, error) { return map[string]string{}, nil }
func (Discard) RecordMedia(string, string) error           { return nil }
func (Discard) Close() error                               { return nil }
