package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the jobs table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite serialises writers; a single connection avoids "database is locked" errors
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		format TEXT,
		status TEXT NOT NULL,
		file_name TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		purged_at TEXT,
		instance_id TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_status_purged ON jobs (status, purged_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("create jobs index: %w", err)
	}

	return db, nil
}
