package history

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/parkgate/remote"
	"github.com/timzifer/parkgate/telemetry"
)

type dropCounter struct {
	telemetry.Collector
	dropped int
}

func (d *dropCounter) IncHistoryDropped() { d.dropped++ }

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func boolPtr(v bool) *bool        { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func TestNewRecorderCreatesTable(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "status_readings"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	r, err := NewRecorder(context.Background(), db, "status_readings", 4, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecorderRejectsUnsafeTableName(t *testing.T) {
	db, _ := setupMockDB(t)
	defer db.Close()
	_, err := NewRecorder(context.Background(), db, "readings; DROP TABLE x", 4, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestSchemaFailureIsReported(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	mock.ExpectExec(`CREATE TABLE`).WillReturnError(errors.New("permission denied"))

	_, err := NewRecorder(context.Background(), db, "status_readings", 4, nil, zerolog.Nop())
	require.ErrorContains(t, err, "permission denied")
}

func TestInsertWritesNullForAbsentFields(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	r, err := newRecorder(db, "status_readings", 1, nil, zerolog.Nop())
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	snap := &remote.StatusSnapshot{
		Distance:      floatPtr(12.5),
		Slot1Occupied: boolPtr(true),
		Slot2Occupied: boolPtr(false),
		EntryTime1:    strPtr("10:00:00"),
	}
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "status_readings"`)).
		WithArgs(at, nil, 12.5, nil, nil, true, false, "10:00:00", nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, r.Insert(context.Background(), at, snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordInsertsAsynchronouslyAndFlushesOnClose(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec(`CREATE TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`INSERT INTO`).WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
	}
	mock.ExpectClose()

	r, err := NewRecorder(context.Background(), db, "status_readings", 8, nil, zerolog.Nop())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		r.Record(time.Now(), &remote.StatusSnapshot{Slot1Occupied: boolPtr(i%2 == 0)})
	}
	require.NoError(t, r.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	// Recording after close is ignored.
	r.Record(time.Now(), &remote.StatusSnapshot{})
	require.NoError(t, r.Close())
}

func TestRecordDropsWhenQueueIsFull(t *testing.T) {
	db, _ := setupMockDB(t)
	defer db.Close()
	counter := &dropCounter{Collector: telemetry.Noop()}
	r, err := newRecorder(db, "status_readings", 1, counter, zerolog.Nop())
	require.NoError(t, err)

	r.Record(time.Now(), &remote.StatusSnapshot{})
	r.Record(time.Now(), &remote.StatusSnapshot{})
	r.Record(time.Now(), nil)
	require.Equal(t, 1, counter.dropped)
	require.Len(t, r.queue, 1)
}

func TestInsertFailureIsWrapped(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	r, err := newRecorder(db, "status_readings", 1, nil, zerolog.Nop())
	require.NoError(t, err)
	mock.ExpectExec(`INSERT INTO`).WillReturnError(errors.New("connection reset"))

	err = r.Insert(context.Background(), time.Now(), &remote.StatusSnapshot{})
	require.ErrorContains(t, err, "insert reading")
}
