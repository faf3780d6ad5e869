package sink

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/84hero/chain-scanner/pkg/record"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

var tableNamePattern = regexp.MustCompile("^[a-zA-Z0-9_]+$")

// PostgresOutput stores records as JSONB rows. Redelivered records are
// ignored through the (granularity, height, record_key) unique key.
type PostgresOutput struct {
	db    *sql.DB
	table string
}

func NewPostgresOutput(url, table string) (*PostgresOutput, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, errors.Errorf("invalid table name: %s", table)
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	p := &PostgresOutput{db: db, table: table}
	if err := p.initTable(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresOutput) initTable() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id SERIAL PRIMARY KEY,
			height BIGINT NOT NULL,
			granularity TEXT NOT NULL,
			record_key TEXT NOT NULL,
			data JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (granularity, height, record_key)
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_height ON %[1]s (height);
	`, p.table)
	if _, err := p.db.Exec(query); err != nil {
		return errors.Wrap(err, "failed to create table")
	}
	return nil
}

func (p *PostgresOutput) Name() string { return "postgres" }

func (p *PostgresOutput) Send(ctx context.Context, events []record.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	valueStrings := make([]string, 0, len(events))
	valueArgs := make([]interface{}, 0, len(events)*4)
	for i, e := range events {
		data, err := encode(e)
		if err != nil {
			return err
		}
		n := i * 4
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4))
		valueArgs = append(valueArgs, e.Height, e.Granularity, e.Key, data)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (height, granularity, record_key, data) VALUES %s ON CONFLICT (granularity, height, record_key) DO NOTHING",
		p.table, strings.Join(valueStrings, ","))
	if _, err := tx.ExecContext(ctx, stmt, valueArgs...); err != nil {
		return errors.Wrap(err, "insert records")
	}
	return tx.Commit()
}

func (p *PostgresOutput) Close() error { return p.db.Close() }

