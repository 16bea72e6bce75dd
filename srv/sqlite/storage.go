// Package sqlite persists documents and blocks (spec §6) to SQLite via
// modernc.org/sqlite, with schema migrations managed by golang-migrate.
package sqlite

import "database/sql"

// Storage wraps the single database that holds both documents and the
// block op log. The teacher's split core/kv databases (Storage.db and
// Storage.kvDb) existed for its flow/task/workspace key-value side
// channel; the document/block schema has no equivalent need for a second
// database, so Storage here wraps just one *sql.DB.
type Storage struct {
	db *sql.DB
}

func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}
