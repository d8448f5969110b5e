// Package history stores every successfully polled status snapshot in
// PostgreSQL.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/timzifer/parkgate/config"
	"github.com/timzifer/parkgate/remote"
	"github.com/timzifer/parkgate/telemetry"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type reading struct {
	at   time.Time
	snap *remote.StatusSnapshot
}

// Recorder writes snapshots asynchronously. Record never blocks the caller;
// when the queue is full the snapshot is dropped and counted.
type Recorder struct {
	db        *sql.DB
	table     string
	insertSQL string
	queue     chan reading
	telemetry telemetry.Collector
	logger    zerolog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Open connects to PostgreSQL and prepares the readings table.
func Open(ctx context.Context, cfg config.HistoryConfig, collector telemetry.Collector, logger zerolog.Logger) (*Recorder, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	r, err := NewRecorder(ctx, db, cfg.TableName(), cfg.BufferSize(), collector, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// NewRecorder creates the table if needed and starts the writer.
func NewRecorder(ctx context.Context, db *sql.DB, table string, buffer int, collector telemetry.Collector, logger zerolog.Logger) (*Recorder, error) {
	r, err := newRecorder(db, table, buffer, collector, logger)
	if err != nil {
		return nil, err
	}
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	go r.run()
	return r, nil
}

func newRecorder(db *sql.DB, table string, buffer int, collector telemetry.Collector, logger zerolog.Logger) (*Recorder, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid history table name %q", table)
	}
	if buffer <= 0 {
		buffer = 1
	}
	if collector == nil {
		collector = telemetry.Noop()
	}
	quoted := pq.QuoteIdentifier(table)
	return &Recorder{
		db:    db,
		table: quoted,
		insertSQL: `INSERT INTO ` + quoted + ` (recorded_at, rfid_uid, distance_cm, entrance_open, exit_open, slot1_occupied, slot2_occupied, entry_time1, exit_time1, entry_time2, exit_time2)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		queue:     make(chan reading, buffer),
		telemetry: collector,
		logger:    logger.With().Str("component", "history").Logger(),
		done:      make(chan struct{}),
	}, nil
}

// EnsureSchema creates the readings table if it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + r.table + ` (
	id BIGSERIAL PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL,
	rfid_uid TEXT,
	distance_cm DOUBLE PRECISION,
	entrance_open BOOLEAN,
	exit_open BOOLEAN,
	slot1_occupied BOOLEAN,
	slot2_occupied BOOLEAN,
	entry_time1 TEXT,
	exit_time1 TEXT,
	entry_time2 TEXT,
	exit_time2 TEXT
)`
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	return nil
}

// Record queues snap for insertion.
func (r *Recorder) Record(at time.Time, snap *remote.StatusSnapshot) {
	if snap == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- reading{at: at, snap: snap}:
	default:
		r.telemetry.IncHistoryDropped()
		r.logger.Debug().Msg("history queue full, dropping snapshot")
	}
}

// Insert writes one snapshot. Fields the device did not report are NULL.
func (r *Recorder) Insert(ctx context.Context, at time.Time, snap *remote.StatusSnapshot) error {
	_, err := r.db.ExecContext(ctx, r.insertSQL,
		at.UTC(),
		nullable(snap.RFIDUID),
		nullable(snap.Distance),
		nullable(snap.BarrierEntranceOpen),
		nullable(snap.BarrierExitOpen),
		nullable(snap.Slot1Occupied),
		nullable(snap.Slot2Occupied),
		nullable(snap.EntryTime1),
		nullable(snap.ExitTime1),
		nullable(snap.EntryTime2),
		nullable(snap.ExitTime2),
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func nullable[T any](v *T) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func (r *Recorder) run() {
	defer close(r.done)
	for item := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.Insert(ctx, item.at, item.snap); err != nil {
			r.logger.Warn().Err(err).Msg("recording snapshot failed")
		}
		cancel()
	}
}

// Close flushes queued snapshots and closes the database.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
	return r.db.Close()
}
