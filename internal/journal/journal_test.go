package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"runs", "file_results", "media"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestRecordAndListRuns(t *testing.T) {
	db := testDB(t)
	first := NewRun("import")
	first.StartedAt = time.Now().UTC().Add(-time.Minute)
	first.Summary = "2 created"
	first.Files = []FileRow{
		{Path: "B.md", Deck: "B", Counts: map[string]int{"created": 2}, Written: true},
		{Path: "A.md", Deck: "A", Error: "boom"},
	}
	if err := db.Record(first); err != nil {
		t.Fatalf("Record: %v", err)
	}
	second := NewRun("export")
	second.Status = StatusPartial
	if err := db.Record(second); err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := db.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].ID != second.ID || runs[0].Status != StatusPartial {
		t.Errorf("newest = %+v, want the export run", runs[0])
	}
	got := runs[1]
	if got.Summary != "2 created" || len(got.Files) != 2 {
		t.Fatalf("import run = %+v", got)
	}
	if got.Files[0].Path != "A.md" || got.Files[0].Error != "boom" {
		t.Errorf("files[0] = %+v", got.Files[0])
	}
	if b := got.Files[1]; !b.Written || b.Counts["created"] != 2 {
		t.Errorf("files[1] = %+v", b)
	}
	if got.FinishedAt.IsZero() {
		t.Errorf("finished_at not set")
	}

	limited, err := db.ListRuns(1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d runs", len(limited))
	}
}

func TestMediaLedger(t *testing.T) {
	db := testDB(t)
	if err := db.RecordMedia("cat.png", "aaa"); err != nil {
		t.Fatalf("RecordMedia: %v", err)
	}
	if err := db.RecordMedia("cat.png", "bbb"); err != nil {
		t.Fatalf("RecordMedia: %v", err)
	}
	sums, err := db.MediaChecksums()
	if err != nil {
		t.Fatalf("MediaChecksums: %v", err)
	}
	if len(sums) != 1 || sums["cat.png"] != "bbb" {
		t.Errorf("checksums = %v", sums)
	}
}
