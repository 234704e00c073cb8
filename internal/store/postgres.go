package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/fitlog_sync/internal/migrations"
	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
	"github.com/cybertec-postgresql/fitlog_sync/internal/retry"
)

// PgxIface is common interface for every pgx class
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// PgxPoolIface is interface representing pgx pool
type PgxPoolIface interface {
	PgxIface
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Close()
	Ping(ctx context.Context) error
}

type ConnConfigCallback = func(*pgxpool.Config) error

// New create a new pool
func New(ctx context.Context, connStr string, callbacks ...ConnConfigCallback) (PgxPoolIface, error) {
	connConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, connConfig, callbacks...)
}

// NewWithConfig creates a new pool with a given config
func NewWithConfig(ctx context.Context, connConfig *pgxpool.Config, callbacks ...ConnConfigCallback) (PgxPoolIface, error) {
	logger := logrus.StandardLogger()
	if connConfig.ConnConfig.ConnectTimeout == 0 {
		connConfig.ConnConfig.ConnectTimeout = time.Second * 5
	}
	connConfig.MaxConnIdleTime = 15 * time.Second
	connConfig.ConnConfig.RuntimeParams["application_name"] = "fitlog_sync"
	connConfig.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		logger.WithField("severity", n.Severity).WithField("notice", n.Message).Info("Notice received")
	}
	for _, f := range callbacks {
		if err := f(connConfig); err != nil {
			return nil, err
		}
	}
	return pgxpool.NewWithConfig(ctx, connConfig)
}

// ApplyMigrations checks and applies database migrations if needed
func ApplyMigrations(ctx context.Context, conn *pgx.Conn) error {
	needsMigration, err := migrations.NeedsUpgrade(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if !needsMigration {
		logrus.Info("Database schema is up to date")
		return nil
	}
	logrus.Info("Applying database migrations...")
	if err := migrations.Apply(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	logrus.Info("Database migrations completed successfully")
	return nil
}

// Postgres is a record store backed by a PostgreSQL records table
type Postgres struct {
	db PgxIface
}

// NewPostgres wraps an existing pool or connection
func NewPostgres(db PgxIface) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects with retry, migrates the schema and returns the store
// together with the pool so the caller can close it.
func OpenPostgres(ctx context.Context, connStr string) (*Postgres, PgxPoolIface, error) {
	return openPostgres(ctx, connStr, retry.PostgreSQLDefaults())
}

func openPostgres(ctx context.Context, connStr string, policy *retry.Config) (*Postgres, PgxPoolIface, error) {
	// a malformed DSN will not heal by waiting
	if _, err := pgxpool.ParseConfig(connStr); err != nil {
		return nil, nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}
	var pool PgxPoolIface
	err := retry.WithOperation(ctx, policy, func() error {
		p, err := New(ctx, connStr)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}, "Postgres connect")
	if err != nil {
		logrus.WithError(err).Error("Failed to establish PostgreSQL connection after all retries")
		return nil, nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	err = ApplyMigrations(ctx, conn.Conn())
	conn.Release()
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return NewPostgres(pool), pool, nil
}

func scanRecord(row pgx.Row) (*record.Record, error) {
	var (
		rec       record.Record
		kind      string
		remoteKey pgtype.Text
		payload   []byte
	)
	err := row.Scan(&rec.LocalKey, &kind, &rec.Owner, &remoteKey, &payload,
		&rec.Version, &rec.Synced, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = record.Kind(kind)
	if remoteKey.Valid {
		rec.RemoteKey = remoteKey.String
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

// ListPending returns the owner's unsynced records of one kind, oldest local key first
func (s *Postgres) ListPending(ctx context.Context, owner string, kind record.Kind) ([]record.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE owner = $1 AND kind = $2 AND synced = false
		ORDER BY local_key`

	rows, err := s.db.Query(ctx, query, owner, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer rows.Close()

	var records []record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
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
func (s *Postgres) Get(ctx context.Context, localKey int64) (*record.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE local_key = $1`
	rec, err := scanRecord(s.db.QueryRow(ctx, query, localKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("local key %d: %w", localKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %d: %w", localKey, err)
	}
	return rec, nil
}

// Upsert applies a partial update to an existing record
func (s *Postgres) Upsert(ctx context.Context, localKey int64, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	sets, args := patch.assignments(2, func(i int) string { return fmt.Sprintf("$%d", i) },
		func(t time.Time) any { return t })
	query := `UPDATE records SET ` + sets + ` WHERE local_key = $1`

	tag, err := s.db.Exec(ctx, query, append([]any{localKey}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update record %d: %w", localKey, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("local key %d: %w", localKey, ErrNotFound)
	}
	return nil
}

// CountPending counts the owner's unsynced records of one kind using the
// (owner, kind, synced) index
func (s *Postgres) CountPending(ctx context.Context, owner string, kind record.Kind) (int, error) {
	var count int
	query := `SELECT count(*) FROM records WHERE owner = $1 AND kind = $2 AND synced = false`
	if err := s.db.QueryRow(ctx, query, owner, string(kind)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending records: %w", err)
	}
	return count, nil
}

// Create stores a new record and returns its local key
func (s *Postgres) Create(ctx context.Context, rec *record.Record) (int64, error) {
	query := `INSERT INTO records (kind, owner, payload, version, synced, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING local_key`

	var localKey int64
	err := s.db.QueryRow(ctx, query, string(rec.Kind), rec.Owner, string(rec.Payload),
		rec.Version, false, rec.CreatedAt, rec.UpdatedAt).Scan(&localKey)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s record: %w", rec.Kind, err)
	}
	rec.LocalKey = localKey
	return localKey, nil
}

// Edit applies a user edit, marks the record pending and bumps its version
func (s *Postgres) Edit(ctx context.Context, localKey int64, edit record.Edit, now time.Time) (*record.Record, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + recordColumns + ` FROM records WHERE local_key = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, query, localKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("local key %d: %w", localKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock record %d: %w", localKey, err)
	}
	if err := applyEdit(rec, edit, now); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `UPDATE records SET payload = $2, version = $3, synced = false, updated_at = $4 WHERE local_key = $1`,
		localKey, string(rec.Payload), rec.Version, rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update record %d: %w", localKey, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit edit: %w", err)
	}
	return rec, nil
}

// Delete removes a record locally. Deletions are not propagated to the remote store.
func (s *Postgres) Delete(ctx context.Context, localKey int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM records WHERE local_key = $1`, localKey)
	if err != nil {
		return fmt.Errorf("failed to delete record %d: %w", localKey, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("local key %d: %w", localKey, ErrNotFound)
	}
	return nil
}

func applyEdit(rec *record.Record, edit record.Edit, now time.Time) error {
	if edit.Kind() != rec.Kind {
		return fmt.Errorf("cannot apply %s edit to %s record %d", edit.Kind(), rec.Kind, rec.LocalKey)
	}
	payload, err := edit.ApplyTo(rec.Payload)
	if err != nil {
		return err
	}
	rec.Payload = payload
	rec.Version++
	rec.Synced = false
	rec.UpdatedAt = now
	return nil
}
