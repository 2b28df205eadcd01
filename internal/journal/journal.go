// Package journal keeps a persistent record of finished edit jobs in sqlite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var ErrClosed = errors.New("journal closed")

// Entry is one finished job.
type Entry struct {
	JobID       string
	Actor       string
	Description string
	State       string
	Affected    int
	Placed      int
	Skipped     int
	Started     time.Time
	Finished    time.Time
	Error       string
}

type request struct {
	entry Entry
	// flush, when set, is closed once every earlier entry is written.
	flush chan struct{}
}

// Store writes entries from a single background goroutine so callers on the
// simulation loop never wait on disk.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// mu guards sends against Close closing ch.
	mu      sync.RWMutex
	ch      chan request
	wg      sync.WaitGroup
	once    sync.Once
	closed  bool
	dropped atomic.Int64
}

const queueSize = 1024

func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty journal path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: logger.Named("journal"),
		ch:     make(chan request, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initDB(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			actor TEXT NOT NULL,
			description TEXT NOT NULL,
			state TEXT NOT NULL,
			affected INTEGER NOT NULL,
			placed INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS jobs_actor_finished ON jobs(actor, finished_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
	}
	return nil
}

// Record queues e. It never blocks; when the writer falls behind the entry
// is dropped and counted.
func (s *Store) Record(e Entry) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.ch <- request{entry: e}:
	default:
		s.dropped.Add(1)
		s.logger.Warn("journal queue full; dropping entry", zap.String("job", e.JobID))
	}
	return nil
}

// Dropped reports how many entries were lost to a full queue.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Flush waits until everything recorded before the call is written.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.send(ctx, request{flush: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) send(ctx context.Context, req request) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) loop() {
	insert, err := s.db.Prepare(`INSERT OR REPLACE INTO jobs
		(job_id, actor, description, state, affected, placed, skipped, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		s.logger.Error("prepare journal insert", zap.Error(err))
	}
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	for req := range s.ch {
		if req.flush != nil {
			close(req.flush)
			continue
		}
		if insert == nil {
			continue
		}
		e := req.entry
		_, err := insert.Exec(e.JobID, e.Actor, e.Description, e.State,
			e.Affected, e.Placed, e.Skipped,
			e.Started.UnixNano(), e.Finished.UnixNano(), e.Error)
		if err != nil {
			s.logger.Error("write journal entry", zap.String("job", e.JobID), zap.Error(err))
		}
	}
}

// Recent returns up to limit entries for actor, newest first. An empty actor
// matches everyone.
func (s *Store) Recent(ctx context.Context, actor string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT job_id, actor, description, state, affected, placed, skipped, started_at, finished_at, error
		FROM jobs`
	args := []any{}
	if actor != "" {
		query += ` WHERE actor = ?`
		args = append(args, actor)
	}
	query += ` ORDER BY finished_at DESC, job_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			started, finished int64
		)
		if err := rows.Scan(&e.JobID, &e.Actor, &e.Description, &e.State,
			&e.Affected, &e.Placed, &e.Skipped, &started, &finished, &e.Error); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		e.Started = time.Unix(0, started)
		e.Finished = time.Unix(0, finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close drains queued entries and closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
