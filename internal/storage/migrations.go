package storage

import (
	"database/sql"
	"fmt"
)

// ErrSchemaVersion is returned by connect() when an existing database's
// meta.schema_version is newer than this binary knows how to read.
var ErrSchemaVersion = fmt.Errorf("database schema is newer than this version of sessiond supports")

// checkOrInitSchemaVersion reads meta.schema_version, writing it as
// schemaVersion on a fresh database. It returns ErrSchemaVersion if an
// existing database reports a version this binary doesn't understand;
// there is no migration path forward, only the explicit failure spec.md
// requires.
func checkOrInitSchemaVersion(db *sql.DB) error {
	var value string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if err == sql.ErrNoRows {
		_, err := db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`, fmt.Sprintf("%d", schemaVersion))
		return err
	}
	if err != nil {
		return fmt.Errorf("reading schema_version: %w", err)
	}

	var current int
	if _, err := fmt.Sscanf(value, "%d", &current); err != nil {
		return fmt.Errorf("parsing schema_version %q: %w", value, err)
	}
	if current > schemaVersion {
		return fmt.Errorf("%w: found %d, support up to %d", ErrSchemaVersion, current, schemaVersion)
	}
	return nil
}
