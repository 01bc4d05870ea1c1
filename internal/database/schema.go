package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var schema = []struct {
	table string
	ddl   string
}{
	{
		table: "contract_outcomes",
		ddl: `CREATE TABLE IF NOT EXISTS contract_outcomes (
			trade_id    TEXT PRIMARY KEY,
			contract_id BIGINT NOT NULL,
			strategy    TEXT NOT NULL DEFAULT '',
			profit      NUMERIC(18, 2) NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		table: "ticks",
		ddl: `CREATE TABLE IF NOT EXISTS ticks (
			symbol TEXT NOT NULL,
			epoch  BIGINT NOT NULL,
			quote  DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (symbol, epoch)
		)`,
	},
}

// EnsureSchema creates the journal tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, s := range schema {
		if _, err := db.Exec(ctx, s.ddl); err != nil {
			return fmt.Errorf("create table %s: %w", s.table, err)
		}
	}
	return nil
}
