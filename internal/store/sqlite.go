package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
)

//go:embed schema.sql
var schemaSQL string

const sqliteSchemaVersion = 1

// SQLite is a record store in a single embedded database file, suited to
// devices that run without a database server.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies the schema
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if err := applySQLiteSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func applySQLiteSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version >= sqliteSchemaVersion {
		return nil
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

func encodeSQLiteTime(t time.Time) any {
	return t.UTC().Format(time.RFC3339Nano)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*record.Record, error) {
	var (
		rec                  record.Record
		kind, payload        string
		remoteKey            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.LocalKey, &kind, &rec.Owner, &remoteKey, &payload,
		&rec.Version, &rec.Synced, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = record.Kind(kind)
	rec.RemoteKey = remoteKey.String
	rec.Payload = json.RawMessage(payload)
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("bad updated_at %q: %w", updatedAt, err)
	}
	return &rec, nil
}

// ListPending returns the owner's unsynced records of one kind, oldest local key first
func (s *SQLite) ListPending(ctx context.Context, owner string, kind record.Kind) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records
		WHERE owner = ? AND kind = ? AND synced = 0
		ORDER BY local_key`, owner, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer rows.Close()

	var records []record.Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending records: %w", err)
	}
	return records, nil
}

// Get returns the record with the given local key
func (s *SQLite) Get(ctx context.Context, localKey int64) (*record.Record, error) {
	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE local_key = ?`, localKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("local key %d: %w", localKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %d: %w", localKey, err)
	}
	return rec, nil
}

// Upsert applies a partial update to an existing record
func (s *SQLite) Upsert(ctx context.Context, localKey int64, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	sets, args := patch.assignments(1, func(int) string { return "?" }, encodeSQLiteTime)
	res, err := s.db.ExecContext(ctx, `UPDATE records SET `+sets+` WHERE local_key = ?`,
		append(args, localKey)...)
	if err != nil {
		return fmt.Errorf("failed to update record %d: %w", localKey, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("local key %d: %w", localKey, ErrNotFound)
	}
	return nil
}

// CountPending counts the owner's unsynced records of one kind using the
// (owner, kind, synced) index
func (s *SQLite) CountPending(ctx context.Context, owner string, kind record.Kind) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM records WHERE owner = ? AND kind = ? AND synced = 0`,
		owner, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending records: %w", err)
	}
	return count, nil
}

// Create stores a new record and returns its local key
func (s *SQLite) Create(ctx context.Context, rec *record.Record) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO records (kind, owner, payload, version, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		string(rec.Kind), rec.Owner, string(rec.Payload), rec.Version,
		encodeSQLiteTime(rec.CreatedAt), encodeSQLiteTime(rec.UpdatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s record: %w", rec.Kind, err)
	}
	localKey, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read local key: %w", err)
	}
	rec.LocalKey = localKey
	return localKey, nil
}

// Edit applies a user edit, marks the record pending and bumps its version
func (s *SQLite) Edit(ctx context.Context, localKey int64, edit record.Edit, now time.Time) (*record.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanSQLiteRecord(tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE local_key = ?`, localKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("local key %d: %w", localKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %d: %w", localKey, err)
	}
	if err := applyEdit(rec, edit, now); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE records SET payload = ?, version = ?, synced = 0, updated_at = ? WHERE local_key = ?`,
		string(rec.Payload), rec.Version, encodeSQLiteTime(rec.UpdatedAt), localKey)
	if err != nil {
		return nil, fmt.Errorf("failed to update record %d: %w", localKey, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit edit: %w", err)
	}
	return rec, nil
}

// Delete removes a record locally. Deletions are not propagated to the remote store.
func (s *SQLite) Delete(ctx context.Context, localKey int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE local_key = ?`, localKey)
	if err != nil {
		return fmt.Errorf("failed to delete record %d: %w", localKey, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("local key %d: %w", localKey, ErrNotFound)
	}
	return nil
}
