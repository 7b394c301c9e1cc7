package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-units/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS units (
	faction     TEXT NOT NULL,
	unit        TEXT NOT NULL,
	record_json TEXT NOT NULL,
	PRIMARY KEY (faction, unit)
);
CREATE TABLE IF NOT EXISTS failed_tasks (
	position INTEGER NOT NULL PRIMARY KEY,
	faction  TEXT NOT NULL,
	unit     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS duplicate_tasks (
	position INTEGER NOT NULL PRIMARY KEY,
	faction  TEXT NOT NULL,
	unit     TEXT NOT NULL
);`

// SQLiteStore keeps state in a single SQLite database.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Load reads every stored unit record.
func (s *SQLiteStore) Load(ctx context.Context) (*models.ScrapeState, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT faction, unit, record_json FROM units`)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	state := models.NewScrapeState()
	for rows.Next() {
		var faction, unit, raw string
		if err := rows.Scan(&faction, &unit, &raw); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		rec := &models.UnitRecord{}
		if err := json.Unmarshal([]byte(raw), rec); err != nil {
			return nil, fmt.Errorf("decode unit %s/%s: %w", faction, unit, err)
		}
		state.Put(faction, unit, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return state, nil
}

// Persist writes the state in one transaction. Existing unit rows are never
// replaced; the task lists are rewritten.
func (s *SQLiteStore) Persist(ctx context.Context, state *models.ScrapeState) (err error) {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insertUnit, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO units (faction, unit, record_json) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare unit insert: %w", err)
	}
	defer insertUnit.Close()

	for faction, units := range state.Units {
		for unit, rec := range units {
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode unit %s/%s: %w", faction, unit, err)
			}
			if _, err := insertUnit.ExecContext(ctx, faction, unit, string(raw)); err != nil {
				return fmt.Errorf("insert unit %s/%s: %w", faction, unit, err)
			}
		}
	}

	if err := replaceTasks(ctx, tx, "failed_tasks", state.Failed); err != nil {
		return err
	}
	if err := replaceTasks(ctx, tx, "duplicate_tasks", state.Duplicates); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

func replaceTasks(ctx context.Context, tx *sql.Tx, table string, refs []models.TaskRef) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	for i, ref := range refs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+` (position, faction, unit) VALUES (?, ?, ?)`,
			i, ref.Faction, ref.Unit,
		); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

// FailedTasks returns the failed task list of the last persist.
func (s *SQLiteStore) FailedTasks(ctx context.Context) ([]models.TaskRef, error) {
	return s.tasks(ctx, "failed_tasks")
}

// DuplicateTasks returns the duplicate task list of the last persist.
func (s *SQLiteStore) DuplicateTasks(ctx context.Context) ([]models.TaskRef, error) {
	return s.tasks(ctx, "duplicate_tasks")
}

func (s *SQLiteStore) tasks(ctx context.Context, table string) ([]models.TaskRef, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT faction, unit FROM `+table+` ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []models.TaskRef
	for rows.Next() {
		var ref models.TaskRef
		if err := rows.Scan(&ref.Faction, &ref.Unit); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// Close releases the underlying SQLite connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
