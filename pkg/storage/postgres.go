package storage

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// PostgresStore keeps one row per checkpoint key in <prefix>checkpoints.
// Several scanners can share the table under different keys.
type PostgresStore struct {
	db    *sql.DB
	table string // quoted identifier

	loadSQL string
	saveSQL string
}

// NewPostgresStore connects to connStr and creates the checkpoint table if
// needed. tablePrefix defaults to "scanner_".
func NewPostgresStore(connStr string, tablePrefix string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	store := newPostgresStore(db, tablePrefix)
	if err := store.initTable(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newPostgresStore(db *sql.DB, tablePrefix string) *PostgresStore {
	if tablePrefix == "" {
		tablePrefix = "scanner_"
	}
	table := pq.QuoteIdentifier(tablePrefix + "checkpoints")
	return &PostgresStore{
		db:      db,
		table:   table,
		loadSQL: fmt.Sprintf(`SELECT next_height FROM %s WHERE checkpoint_key = $1`, table),
		saveSQL: fmt.Sprintf(`INSERT INTO %s (checkpoint_key, next_height, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (checkpoint_key)
	DO UPDATE SET next_height = EXCLUDED.next_height, updated_at = NOW()`, table),
	}
}

func (p *PostgresStore) initTable() error {
	_, err := p.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		checkpoint_key VARCHAR(255) PRIMARY KEY,
		next_height BIGINT NOT NULL CHECK (next_height >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, p.table))
	return errors.Wrapf(err, "create table %s", p.table)
}

func (p *PostgresStore) LoadCursor(key string) (uint64, bool, error) {
	var height int64
	err := p.db.QueryRow(p.loadSQL, key).Scan(&height)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, errors.Wrapf(err, "load checkpoint %s", key)
	}
	return uint64(height), true, nil
}

func (p *PostgresStore) SaveCursor(key string, height uint64) error {
	_, err := p.db.Exec(p.saveSQL, key, int64(height))
	return errors.Wrapf(err, "save checkpoint %s", key)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
