package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// Documents are stored as JSON; rounds additionally extract the two columns
// the carry-forward query filters and sorts on.
const schema = `
CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rounds (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    created_time INTEGER NOT NULL,
    is_active INTEGER NOT NULL,
    doc TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rounds_group_created ON rounds(group_id, created_time);
CREATE INDEX IF NOT EXISTS idx_rounds_group_active ON rounds(group_id, is_active);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
