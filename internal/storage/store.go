package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store owns the SQLite database shared by the alert and notification stores
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

// Open opens (or creates) the database at path and applies the schema
func Open(logger *zap.Logger, path string) (*Store, error) {
	// busy_timeout keeps concurrent writers from failing fast with
	// SQLITE_BUSY; conditional updates depend on the write applying.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{logger: logger, db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initialize creates the tables if they don't exist
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			patient_name TEXT NOT NULL,
			procedure TEXT NOT NULL,
			theatre TEXT NOT NULL,
			indication TEXT NOT NULL,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			triggered_at DATETIME NOT NULL,
			resolved_at DATETIME,
			manager_ack INTEGER NOT NULL DEFAULT 0,
			manager_ack_at DATETIME,
			anesthetist_ack INTEGER NOT NULL DEFAULT 0,
			anesthetist_ack_at DATETIME,
			nurse_ack INTEGER NOT NULL DEFAULT 0,
			nurse_ack_at DATETIME,
			ack_log TEXT NOT NULL DEFAULT '',
			escalated_at DATETIME,
			escalated_to_admins INTEGER NOT NULL DEFAULT 0,
			escalation_note TEXT NOT NULL DEFAULT '',
			blood_required INTEGER NOT NULL DEFAULT 0,
			blood_units INTEGER NOT NULL DEFAULT 0,
			blood_product TEXT NOT NULL DEFAULT '',
			blood_request_id TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_triggered_at ON alerts(triggered_at);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			recipient_id TEXT,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			priority TEXT NOT NULL,
			link TEXT NOT NULL DEFAULT '',
			is_read INTEGER NOT NULL DEFAULT 0,
			read_at DATETIME,
			scheduled_at DATETIME,
			deadline_at DATETIME,
			is_timeline_critical INTEGER NOT NULL DEFAULT 0,
			promoted_at DATETIME,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id);
		CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at);

		CREATE TABLE IF NOT EXISTS notification_reads (
			notification_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			read_at DATETIME NOT NULL,
			PRIMARY KEY (notification_id, user_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// DB exposes the underlying handle to the entity stores
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
