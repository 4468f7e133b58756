package journal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record stores a finished run and its file rows within a transaction.
func (db *DB) Record(run *Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO runs (id, command, status, summary, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Command, run.Status, run.Summary, run.Error, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("journal: insert run: %w", err)
	}

	if len(run.Files) > 0 {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO file_results (run_id, path, deck, counts, written, deleted, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("journal: prepare file insert: %w", err)
		}
		defer stmt.Close()
		for _, f := range run.Files {
			counts, _ := json.Marshal(f.Counts)
			if _, err := stmt.Exec(run.ID, f.Path, f.Deck, string(counts), f.Written, f.Deleted, f.Error); err != nil {
				return fmt.Errorf("journal: insert file result: %w", err)
			}
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first, with their files.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, command, status, summary, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Command, &r.Status, &r.Summary, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		files, err := db.files(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Files = files
	}
	return out, nil
}

func (db *DB) files(runID string) ([]FileRow, error) {
	rows, err := db.conn.Query(`
		SELECT path, deck, counts, written, deleted, error
		FROM file_results WHERE run_id = ? ORDER BY path
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: file results: %w", err)
	}
	defer rows.Close()

	var out []FileRow
	for rows.Next() {
		var (
			f      FileRow
			counts string
		)
		if err := rows.Scan(&f.Path, &f.Deck, &counts, &f.Written, &f.Deleted, &f.Error); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(counts), &f.Counts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// MediaChecksums returns the checksum last pushed for every media file.
func (db *DB) MediaChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT name, checksum FROM media`)
	if err != nil {
		return nil, fmt.Errorf("journal: media checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, cs string
		if err := rows.Scan(&name, &cs); err != nil {
			return nil, err
		}
		out[name] = cs
	}
	return out, rows.Err()
}

// RecordMedia remembers that name was pushed with the given checksum.
func (db *DB) RecordMedia(name, checksum string) error {
	_, err := db.conn.Exec(`
		INSERT INTO media (name, checksum, pushed_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			checksum  = excluded.checksum,
			pushed_at = excluded.pushed_at
	`, name, checksum, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("journal: record media: %w", err)
	}
	return nil
}
