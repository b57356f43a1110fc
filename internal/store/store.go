package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store is the identity store: the durable source of truth for devices,
// organizations, rooms, surveys, launches and responses. SQLite allows only
// one writer at a time, so all writes funnel through a single goroutine;
// reads run concurrently against the pool.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	op     func(*sql.DB) error
	result chan error
}

// New opens (or creates) the store at path and applies pending schema
// migrations.
func New(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := migrateSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		logger:   logger,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	logger.Info("identity store ready", zap.String("path", path))
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			op.result <- op.op(s.db)
		case <-s.shutdown:
			return
		}
	}
}

// write queues op on the single-writer goroutine and waits for it.
func (s *Store) write(op func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{op: op, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("store write timeout")
	case <-s.shutdown:
		return ErrClosed
	}
}

// Ping verifies store connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

// Close drains the writer goroutine and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.logger.Info("identity store closed")
	return nil
}

// EnsureOrg creates the organization record if it does not exist. Driven by
// the org webhook and by first dashboard access.
func (s *Store) EnsureOrg(ctx context.Context, orgID string) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO organizations (id) VALUES (?) ON CONFLICT (id) DO NOTHING`, orgID)
		if err != nil {
			return fmt.Errorf("failed to ensure org: %w", err)
		}
		return nil
	})
}

// OrgExists is the sole authorization fact for device registration.
func (s *Store) OrgExists(ctx context.Context, orgID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM organizations WHERE id = ?`, orgID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query org: %w", err)
	}
	return true, nil
}

// PurgeOrg removes the organization and everything scoped to it. Called by
// the org-deleted webhook.
func (s *Store) PurgeOrg(ctx context.Context, orgID string) error {
	return s.write(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin purge: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		statements := []string{
			`DELETE FROM survey_responses WHERE org_id = ?`,
			`DELETE FROM survey_launches WHERE org_id = ?`,
			`DELETE FROM surveys WHERE org_id = ?`,
			`DELETE FROM computers WHERE org_id = ?`,
			`DELETE FROM rooms WHERE org_id = ?`,
			`DELETE FROM organizations WHERE id = ?`,
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, orgID); err != nil {
				return fmt.Errorf("failed to purge org: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit purge: %w", err)
		}
		s.logger.Info("purged organization", zap.String("org_id", orgID))
		return nil
	})
}
