// Package eventlog persists coordinator events to SQLite.
// Uses WAL mode for concurrent reads and crash-safe writes. The log is
// an observability record only: the coordinator behaves identically
// with a nop sink, and nothing here is read back into scheduler state.
package eventlog

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/fleetforge/forge/internal/domain"
)

const (
	bufferSize = 1024
	batchMax   = 64
	flushEvery = time.Second
)

// Log is a durable EventSink. Emit enqueues onto a buffered channel and
// never blocks: when the buffer is full the event is dropped and counted.
// A background writer batches inserts.
type Log struct {
	db      *sql.DB
	events  chan domain.Event
	dropped atomic.Int64
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// Open creates or opens the event log at dir/events.db and starts the
// background writer.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "events.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Log{
		db:     db,
		events: make(chan domain.Event, bufferSize),
		done:   make(chan struct{}),
	}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

func (l *Log) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			type      TEXT NOT NULL,
			worker_id TEXT,
			task_id   TEXT,
			detail    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
	}
	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Emit implements domain.EventSink. It never blocks: a full buffer
// drops the event.
func (l *Log) Emit(e domain.Event) {
	if l.closed.Load() {
		return
	}
	select {
	case l.events <- e:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the buffer
// was full.
func (l *Log) Dropped() int64 {
	return l.dropped.Load()
}

// Close stops the writer, flushes buffered events, and closes the
// database.
func (l *Log) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

// writeLoop drains the channel, batching inserts per transaction. On
// shutdown it flushes whatever remains in the buffer.
func (l *Log) writeLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]domain.Event, 0, batchMax)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.insertBatch(batch); err != nil {
			log.Printf("[eventlog] batch insert failed: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-l.events:
			batch = append(batch, e)
			if len(batch) >= batchMax {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			for {
				select {
				case e := <-l.events:
					batch = append(batch, e)
					if len(batch) >= batchMax {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *Log) insertBatch(batch []domain.Event) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO events (timestamp, type, worker_id, task_id, detail)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.Time.UnixNano(), string(e.Type), e.WorkerID, e.TaskID, e.Detail); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(
		`SELECT timestamp, type, worker_id, task_id, detail
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var ts int64
		var typ string
		if err := rows.Scan(&ts, &typ, &e.WorkerID, &e.TaskID, &e.Detail); err != nil {
			return nil, err
		}
		e.Time = time.Unix(0, ts)
		e.Type = domain.EventType(typ)
		events = append(events, e)
	}
	return events, rows.Err()
}
