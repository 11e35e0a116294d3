package database

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
	logger *zap.Logger
}

// New opens the local job store and runs migrations. storagePath may be
// ":memory:" when the durable store cannot be opened and the agent is
// degrading to non-durable queueing.
func New(storagePath string, logger *zap.Logger) (*DB, error) {
	dsn := storagePath + "?_foreign_keys=1&_journal_mode=WAL"
	if storagePath == ":memory:" {
		dsn = "file::memory:?mode=memory&cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if storagePath == ":memory:" {
		// Every pooled connection must see the same in-memory store
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{
		DB:     db,
		logger: logger,
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Database connection established", zap.String("path", storagePath))
	return database, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		// Store-and-forward queue of telemetry upload jobs
		`CREATE TABLE IF NOT EXISTS upload_jobs (
			job_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			job_type TEXT NOT NULL,
			set_number INTEGER NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_attempt TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_upload_jobs_session ON upload_jobs(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_upload_jobs_status ON upload_jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_upload_jobs_created ON upload_jobs(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	db.logger.Info("Database migrations completed")
	return nil
}

func (db *DB) Close() error {
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.logger.Info("Database connection closed")
	return nil
}
