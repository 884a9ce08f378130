package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"nativebridge/internal/infrastructure/sqlstore"

	_ "modernc.org/sqlite"
)

var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS state (
			state_key TEXT PRIMARY KEY,
			state_value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			address TEXT PRIMARY KEY,
			shares TEXT NOT NULL,
			fee_checkpoint TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transfers (
			direction TEXT NOT NULL,
			chain INTEGER NOT NULL,
			transfer_id INTEGER NOT NULL,
			usd_amount TEXT NOT NULL,
			recorded_at_height INTEGER NOT NULL,
			PRIMARY KEY (direction, chain, transfer_id)
		)`,
		`CREATE TABLE IF NOT EXISTS reorgs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			origin INTEGER NOT NULL,
			usd_amount TEXT NOT NULL,
			original_height INTEGER NOT NULL,
			original_transfer_id INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS reorgs_origin_idx ON reorgs (origin)`,
		`CREATE TABLE IF NOT EXISTS pending (
			position INTEGER PRIMARY KEY,
			usd_amount TEXT NOT NULL,
			initiated_at_height INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS exemptions (
			origin INTEGER NOT NULL,
			height INTEGER NOT NULL,
			PRIMARY KEY (origin, height)
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			message_id TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS insurance_claims (
			claim_id TEXT PRIMARY KEY,
			paid INTEGER NOT NULL
		)`,
	},
	Upsert: func(table string, keys, cols []string) string {
		updates := make([]string, 0, len(cols))
		for _, col := range cols {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
		all := append(append([]string{}, keys...), cols...)
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
			table, strings.Join(all, ", "), placeholders(len(all)), strings.Join(keys, ", "), strings.Join(updates, ", "))
	},
	InsertIgnore: func(table string, cols []string) string {
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
			table, strings.Join(cols, ", "), placeholders(len(cols)))
	},
}

// Open opens (or creates) the database at path. ":memory:" is accepted.
func Open(path string) (*sqlstore.Store, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	store, err := sqlstore.New(db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
