package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// SQLiteStore implements Store on modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// timeLayout is fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id          TEXT PRIMARY KEY,
	target_url  TEXT NOT NULL,
	record_json TEXT NOT NULL,
	vulnerable  INTEGER DEFAULT 0,
	updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_scans_target_url ON scans(target_url);

CREATE TABLE IF NOT EXISTS findings (
	id           TEXT PRIMARY KEY,
	scan_id      TEXT NOT NULL,
	type         TEXT NOT NULL,
	url          TEXT NOT NULL,
	parameter    TEXT NOT NULL,
	payload      TEXT NOT NULL,
	payload_type TEXT NOT NULL,
	description  TEXT NOT NULL,
	reported_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_url ON findings(url);
`

// NewSQLiteStore opens (creating if needed) the database at dbPath.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("session: open database: %w", err)
	}
	// Every pooled connection to ":memory:" would see its own database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save upserts rec. An empty ID is replaced by a new UUID.
func (s *SQLiteStore) Save(ctx context.Context, rec *ScanRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.UpdatedAt = time.Now().UTC()

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: marshal record: %w", err)
	}

	const query = `
		INSERT INTO scans (id, target_url, record_json, vulnerable, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target_url  = excluded.target_url,
			record_json = excluded.record_json,
			vulnerable  = excluded.vulnerable,
			updated_at  = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.TargetURL,
		string(recJSON),
		rec.Vulnerable,
		rec.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("session: save record: %w", err)
	}
	return nil
}

// Load returns the most recently updated record for targetURL, or
// (nil, nil) when there is none.
func (s *SQLiteStore) Load(ctx context.Context, targetURL string) (*ScanRecord, error) {
	return s.loadOne(ctx, `
		SELECT record_json FROM scans
		WHERE target_url = ?
		ORDER BY updated_at DESC
		LIMIT 1`, targetURL)
}

// LoadByID returns the record with id, or (nil, nil) when there is none.
func (s *SQLiteStore) LoadByID(ctx context.Context, id string) (*ScanRecord, error) {
	return s.loadOne(ctx, `SELECT record_json FROM scans WHERE id = ?`, id)
}

func (s *SQLiteStore) loadOne(ctx context.Context, query string, args ...any) (*ScanRecord, error) {
	var recJSON string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&recJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: scan row: %w", err)
	}

	var rec ScanRecord
	if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
		return nil, fmt.Errorf("session: unmarshal record: %w", err)
	}
	return &rec, nil
}

// List returns summaries of all records, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*ScanSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_url, vulnerable, updated_at FROM scans ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("session: list records: %w", err)
	}
	defer rows.Close()

	var summaries []*ScanSummary
	for rows.Next() {
		var (
			sum       ScanSummary
			updatedAt string
		)
		if err := rows.Scan(&sum.ID, &sum.TargetURL, &sum.Vulnerable, &updatedAt); err != nil {
			return nil, fmt.Errorf("session: scan summary row: %w", err)
		}
		if sum.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: iterate rows: %w", err)
	}
	return summaries, nil
}

// Delete removes a record and its findings.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE scan_id = ?`, id); err != nil {
		return fmt.Errorf("session: delete findings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id); err != nil {
		return fmt.Errorf("session: delete record: %w", err)
	}
	return tx.Commit()
}

// AddFinding stores one vulnerability report under scanID.
func (s *SQLiteStore) AddFinding(ctx context.Context, scanID string, r engine.VulnReport) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	const query = `
		INSERT INTO findings (id, scan_id, type, url, parameter, payload, payload_type, description, reported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(), scanID,
		r.Type, r.URL, r.Parameter, r.Payload, r.PayloadType, r.Description,
		ts.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("session: add finding: %w", err)
	}
	return nil
}

// Findings returns the findings reported for targetURL, oldest first. An
// empty targetURL returns every finding.
func (s *SQLiteStore) Findings(ctx context.Context, targetURL string) ([]*Finding, error) {
	query := `
		SELECT id, scan_id, type, url, parameter, payload, payload_type, description, reported_at
		FROM findings`
	var args []any
	if targetURL != "" {
		query += ` WHERE url = ?`
		args = append(args, targetURL)
	}
	query += ` ORDER BY reported_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("session: list findings: %w", err)
	}
	defer rows.Close()

	var out []*Finding
	for rows.Next() {
		var (
			f  Finding
			at string
		)
		err := rows.Scan(&f.ID, &f.ScanID, &f.Type, &f.URL, &f.Parameter,
			&f.Payload, &f.PayloadType, &f.Description, &at)
		if err != nil {
			return nil, fmt.Errorf("session: scan finding row: %w", err)
		}
		if f.Timestamp, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: iterate rows: %w", err)
	}
	return out, nil
}

// Cleanup removes records (and their findings) last updated before
// now minus maxAge, returning how many records were deleted.
func (s *SQLiteStore) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(timeLayout)

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM findings WHERE scan_id IN (SELECT id FROM scans WHERE updated_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("session: cleanup findings: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session: cleanup records: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session: rows affected: %w", err)
	}
	return deleted, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func parseTime(v string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("session: parse time %q", v)
}
