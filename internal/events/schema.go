package events

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/rfanctl/internal/errors"
	"codeberg.org/mutker/rfanctl/internal/logger"
)

const (
	SchemaVersion = 1

	backupDir = "/var/lib/rfanctl/backups"

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS events (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp   INTEGER NOT NULL,
	       session_id  TEXT NOT NULL,
	       kind        TEXT NOT NULL,
	       fan         TEXT NOT NULL DEFAULT '',
	       sensor      TEXT NOT NULL DEFAULT '',
	       value       INTEGER NOT NULL DEFAULT 0,
	       detail      TEXT NOT NULL DEFAULT ''
	   );
	   CREATE INDEX IF NOT EXISTS events_timestamp ON events (timestamp);`

	insertEventSQL = `
    INSERT INTO events (timestamp, session_id, kind, fan, sensor, value, detail)
    VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().Int("version", SchemaVersion).Msg("Event schema initialized")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := tableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

// ValidateAndUpdateSchema checks the schema version and recreates the
// schema when it is out of date, backing up the existing database first.
func ValidateAndUpdateSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	switch {
	case version == SchemaVersion:
		return nil
	case version == 0:
		return InitSchema(db, log)
	default:
		backupPath, err := backupDatabase(db, version, log)
		if err != nil {
			return errFactory.Wrap(ErrSchemaMigrationFailed, err)
		}
		log.Warn().
			Int("from_version", version).
			Int("to_version", SchemaVersion).
			Str("backup", backupPath).
			Msg("Schema version mismatch; recreating")

		if _, err := db.Exec("DROP TABLE IF EXISTS events; DROP TABLE IF EXISTS schema_versions"); err != nil {
			return errFactory.Wrap(ErrSchemaMigrationFailed, err)
		}

		return InitSchema(db, log)
	}
}

func backupDatabase(db *sql.DB, version int, log logger.Logger) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(backupDir, defaultDirPerm); err != nil {
		return "", errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := filepath.Join(backupDir,
		fmt.Sprintf("events_v%d_%s.db", version, timestamp))

	// VACUUM INTO requires no active transaction
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
		return "", errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	log.Info().Str("path", backupPath).Int("version", version).Msg("Database backup created")

	return backupPath, nil
}

func tableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()

	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return exists, nil
}
