// Package usage keeps a SQLite log of routed commands and callbacks. It
// feeds the totals shown by /stats and is trimmed by a cron job.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/modbot/internal/dispatch"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const (
	// DBFileName is the database file inside the data directory.
	DBFileName = "usage.db"

	defaultBusyTimeout = 5000
	queueSize          = 256
	topCommands        = 5
)

// Store records invocations. Observe queues records for a single writer
// goroutine so the update path never waits on the database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	queue   chan dispatch.Invocation
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

// Compile-time interface check.
var _ dispatch.Observer = (*Store)(nil)

// Open opens (creating if needed) the usage database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("usage: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage: set busy_timeout: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "usage"),
		queue:  make(chan dispatch.Invocation, queueSize),
	}
	s.wg.Go(s.writer)
	return s, nil
}

func (s *Store) writer() {
	for inv := range s.queue {
		if err := s.Record(context.Background(), inv); err != nil {
			s.logger.Warn("usage record failed", "name", inv.Name, "error", err)
		}
	}
}

// Observe implements dispatch.Observer. When the queue is full the record
// is dropped and counted.
func (s *Store) Observe(inv dispatch.Invocation) {
	select {
	case s.queue <- inv:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many records Observe had to drop.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Record writes one invocation synchronously.
func (s *Store) Record(ctx context.Context, inv dispatch.Invocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocations (kind, name, module, user_id, chat_id, chat_type, outcome, started_at, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.Kind, inv.Name, inv.Module, inv.UserID, inv.ChatID, string(inv.ChatType),
		string(inv.Outcome), inv.Start.UnixMilli(), inv.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("usage: insert: %w", err)
	}
	return nil
}

// CommandCount is one row of the most used commands.
type CommandCount struct {
	Name  string
	Count int64
}

// Totals summarizes the log since a point in time.
type Totals struct {
	Invocations int64
	Errors      int64
	Denied      int64
	Users       int64
	Top         []CommandCount
}

// Totals aggregates the invocations started at or after since.
func (s *Store) Totals(ctx context.Context, since time.Time) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(outcome = ?), 0),
		       COALESCE(SUM(outcome IN (?, ?)), 0),
		       COUNT(DISTINCT user_id)
		FROM invocations
		WHERE started_at >= ?`,
		string(dispatch.OutcomeError),
		string(dispatch.OutcomeDenied), string(dispatch.OutcomeGroupDenied),
		since.UnixMilli(),
	).Scan(&t.Invocations, &t.Errors, &t.Denied, &t.Users)
	if err != nil {
		return Totals{}, fmt.Errorf("usage: totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, COUNT(*) AS n
		FROM invocations
		WHERE kind = ? AND started_at >= ?
		GROUP BY name
		ORDER BY n DESC, name ASC
		LIMIT ?`,
		dispatch.KindCommand, since.UnixMilli(), topCommands,
	)
	if err != nil {
		return Totals{}, fmt.Errorf("usage: top commands: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var c CommandCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return Totals{}, fmt.Errorf("usage: scan top command: %w", err)
		}
		t.Top = append(t.Top, c)
	}
	if err := rows.Err(); err != nil {
		return Totals{}, fmt.Errorf("usage: top command rows: %w", err)
	}
	return t, nil
}

// Prune deletes invocations started before the cutoff.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM invocations WHERE started_at < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("usage: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("usage: prune rows: %w", err)
	}
	return n, nil
}

// Close drains queued records and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.queue)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
