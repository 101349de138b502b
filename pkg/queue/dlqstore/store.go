// Package dlqstore persists dead-lettered jobs in SQLite so they survive
// a restart and stay inspectable for the retention window. The in-memory
// queue remains authoritative for live jobs; this is an append-on-dead-
// letter, delete-on-retry side store with scheduled pruning.
package dlqstore

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/TheProjectSEO/shield/pkg/queue"
)

// Store is a SQLite-backed mirror of the dead-letter queue.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	appendStmt *sql.Stmt
	deleteStmt *sql.Stmt
}

// Open creates or opens the store at dbPath, creating parent directories
// as needed.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("dlqstore: db path cannot be empty")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("dlqstore: failed to create %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("dlqstore: failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:     db,
		logger: slog.Default().With("component", "dlqstore"),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dlqstore: failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dlqstore: failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dead_letters (
		id TEXT PRIMARY KEY,
		payload_kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		priority INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		error TEXT,
		created_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dead_letters_completed_at
		ON dead_letters(completed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) prepareStatements() error {
	var err error
	s.appendStmt, err = s.db.Prepare(`
		INSERT OR REPLACE INTO dead_letters
		(id, payload_kind, payload, priority, attempts, max_attempts, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	s.deleteStmt, err = s.db.Prepare(`DELETE FROM dead_letters WHERE id = ?`)
	return err
}

// Append persists a dead-lettered job. It implements queue.DeadLetterStore.
func (s *Store) Append(job *queue.Job) error {
	payload, err := queue.EncodePayload(job.Payload)
	if err != nil {
		return fmt.Errorf("dlqstore: failed to encode payload for %s: %w", job.ID, err)
	}

	completedAt := int64(0)
	if job.CompletedAt != nil {
		completedAt = job.CompletedAt.UnixNano()
	}

	_, err = s.appendStmt.Exec(
		job.ID, job.PayloadKind, string(payload), int(job.Priority),
		job.Attempts, job.MaxAttempts, job.Error,
		job.CreatedAt.UnixNano(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("dlqstore: failed to append %s: %w", job.ID, err)
	}
	return nil
}

// Delete removes a persisted job, typically after a manual retry. Deleting
// an unknown ID is a no-op. It implements queue.DeadLetterStore.
func (s *Store) Delete(jobID string) error {
	if _, err := s.deleteStmt.Exec(jobID); err != nil {
		return fmt.Errorf("dlqstore: failed to delete %s: %w", jobID, err)
	}
	return nil
}

// Load returns every persisted dead-lettered job, oldest first. The
// engine feeds these back into the queue at startup.
func (s *Store) Load() ([]*queue.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, payload_kind, payload, priority, attempts, max_attempts, error, created_at, completed_at
		FROM dead_letters ORDER BY completed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("dlqstore: failed to list: %w", err)
	}
	defer rows.Close()

	var jobs []*queue.Job
	for rows.Next() {
		var (
			job                    queue.Job
			payloadKind, payload   string
			priority               int
			createdAt, completedAt int64
		)
		if err := rows.Scan(&job.ID, &payloadKind, &payload, &priority,
			&job.Attempts, &job.MaxAttempts, &job.Error, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("dlqstore: failed to scan row: %w", err)
		}

		job.Payload, err = queue.DecodePayload(payloadKind, []byte(payload))
		if err != nil {
			s.logger.Warn("skipping undecodable dead letter", "job_id", job.ID, "error", err)
			continue
		}
		job.PayloadKind = payloadKind
		job.Priority = queue.Priority(priority)
		job.Status = queue.StatusFailed
		job.CreatedAt = time.Unix(0, createdAt)
		if completedAt != 0 {
			t := time.Unix(0, completedAt)
			job.CompletedAt = &t
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// Prune deletes rows whose completion time is older than the retention
// window and returns how many were removed.
func (s *Store) Prune(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).UnixNano()
	res, err := s.db.Exec(`DELETE FROM dead_letters WHERE completed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dlqstore: failed to prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.appendStmt != nil {
		s.appendStmt.Close()
	}
	if s.deleteStmt != nil {
		s.deleteStmt.Close()
	}
	return s.db.Close()
}
