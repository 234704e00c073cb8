package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
	"github.com/cybertec-postgresql/fitlog_sync/internal/retry"
)

var recordRowColumns = []string{"local_key", "kind", "owner", "remote_key", "payload", "version", "synced", "created_at", "updated_at"}

const lifestylePayload = `{"date":"2025-03-01","sleepHours":7,"sleepQuality":4,"stressLevel":2,"ateWell":true,"alcohol":false,"smoking":false,"heatAvoidance":false}`

func TestPostgresListPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := mock.NewRows(recordRowColumns).
		AddRow(int64(1), "lifestyle", "owner-a", nil, []byte(lifestylePayload), int64(0), false, ts, ts).
		AddRow(int64(4), "lifestyle", "owner-a", "rk4", []byte(lifestylePayload), int64(2), false, ts, ts.Add(time.Hour))
	mock.ExpectQuery("SELECT local_key, kind, owner, remote_key, payload, version, synced, created_at, updated_at FROM records").
		WithArgs("owner-a", "lifestyle").
		WillReturnRows(rows)

	records, err := NewPostgres(mock).ListPending(ctx, "owner-a", record.KindLifestyle)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, int64(1), records[0].LocalKey)
	assert.False(t, records[0].HasRemote())
	assert.JSONEq(t, lifestylePayload, string(records[0].Payload))

	assert.Equal(t, "rk4", records[1].RemoteKey)
	assert.Equal(t, int64(2), records[1].Version)
	assert.Equal(t, ts.Add(time.Hour), records[1].UpdatedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM records WHERE local_key").
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, err = NewPostgres(mock).Get(context.Background(), 99)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertWritesOnlySetFields(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE records SET version = $2, synced = $3 WHERE local_key = $1")).
		WithArgs(int64(7), int64(3), true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = NewPostgres(mock).Upsert(context.Background(), 7, MarkSynced(3))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertRemoteWinsOverwrite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	updated := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	version := int64(5)
	synced := true
	patch := Patch{
		Payload:   json.RawMessage(lifestylePayload),
		Version:   &version,
		Synced:    &synced,
		UpdatedAt: &updated,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE records SET payload = $2, version = $3, synced = $4, updated_at = $5 WHERE local_key = $1")).
		WithArgs(int64(7), lifestylePayload, int64(5), true, updated).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewPostgres(mock).Upsert(context.Background(), 7, patch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertMissingRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	remoteKey := "rk1"
	mock.ExpectExec("UPDATE records SET remote_key").
		WithArgs(int64(8), "rk1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewPostgres(mock).Upsert(context.Background(), 8, Patch{RemoteKey: &remoteKey})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertEmptyPatchIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	require.NoError(t, NewPostgres(mock).Upsert(context.Background(), 1, Patch{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountPendingIsOwnerScoped(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM records WHERE owner = $1 AND kind = $2 AND synced = false")).
		WithArgs("owner-a", "workout").
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(3))

	count, err := NewPostgres(mock).CountPending(context.Background(), "owner-a", record.KindWorkout)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &record.Record{
		Kind:      record.KindLifestyle,
		Owner:     "owner-a",
		Payload:   json.RawMessage(lifestylePayload),
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectQuery("INSERT INTO records").
		WithArgs("lifestyle", "owner-a", lifestylePayload, int64(0), false, now, now).
		WillReturnRows(mock.NewRows([]string{"local_key"}).AddRow(int64(12)))

	key, err := NewPostgres(mock).Create(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(12), key)
	assert.Equal(t, int64(12), rec.LocalKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEditBumpsVersionAndMarksPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	now := created.Add(2 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(3)).
		WillReturnRows(mock.NewRows(recordRowColumns).
			AddRow(int64(3), "lifestyle", "owner-a", "rk3", []byte(lifestylePayload), int64(4), true, created, created))
	mock.ExpectExec("UPDATE records SET payload").
		WithArgs(int64(3), pgxmock.AnyArg(), int64(5), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	stress := 5
	rec, err := NewPostgres(mock).Edit(context.Background(), 3, record.LifestyleEdit{StressLevel: &stress}, now)
	require.NoError(t, err)

	assert.Equal(t, int64(5), rec.Version)
	assert.False(t, rec.Synced)
	assert.Equal(t, "rk3", rec.RemoteKey)
	assert.Equal(t, now, rec.UpdatedAt)

	var l record.Lifestyle
	require.NoError(t, json.Unmarshal(rec.Payload, &l))
	assert.Equal(t, 5, l.StressLevel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEditRejectsWrongKind(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ts := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(3)).
		WillReturnRows(mock.NewRows(recordRowColumns).
			AddRow(int64(3), "lifestyle", "owner-a", nil, []byte(lifestylePayload), int64(0), false, ts, ts))
	mock.ExpectRollback()

	phase := "peak"
	_, err = NewPostgres(mock).Edit(context.Background(), 3, record.WorkoutEdit{Phase: &phase}, ts)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDelete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM records").
		WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM records").
		WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	s := NewPostgres(mock)
	require.NoError(t, s.Delete(context.Background(), 2))
	assert.ErrorIs(t, s.Delete(context.Background(), 2), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenPostgresRejectsMalformedDSN(t *testing.T) {
	// an hour between attempts would hang the test if the DSN were retried
	policy := &retry.Config{MaxRetries: 3, BaseDelay: time.Hour}
	_, pool, err := openPostgres(context.Background(), "host=localhost port=notaport", policy)
	assert.ErrorContains(t, err, "invalid postgres DSN")
	assert.Nil(t, pool)
}

func TestOpenPostgresGivesUpWhenServerIsDown(t *testing.T) {
	policy := &retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond}
	_, pool, err := openPostgres(context.Background(),
		"host=127.0.0.1 port=1 user=fitlog dbname=fitlog sslmode=disable connect_timeout=1", policy)
	assert.Error(t, err)
	assert.Nil(t, pool)
}
