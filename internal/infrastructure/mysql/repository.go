package mysql

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"nativebridge/internal/infrastructure/sqlstore"

	_ "github.com/go-sql-driver/mysql"
)

var Dialect = sqlstore.Dialect{
	Name: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS state (
			state_key VARCHAR(64) NOT NULL,
			state_value VARCHAR(80) NOT NULL,
			PRIMARY KEY (state_key)
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			address VARCHAR(42) NOT NULL,
			shares VARCHAR(80) NOT NULL,
			fee_checkpoint VARCHAR(80) NOT NULL,
			PRIMARY KEY (address)
		)`,
		`CREATE TABLE IF NOT EXISTS transfers (
			direction VARCHAR(16) NOT NULL,
			chain INT UNSIGNED NOT NULL,
			transfer_id BIGINT UNSIGNED NOT NULL,
			usd_amount VARCHAR(80) NOT NULL,
			recorded_at_height BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (direction, chain, transfer_id)
		)`,
		`CREATE TABLE IF NOT EXISTS reorgs (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			origin INT UNSIGNED NOT NULL,
			usd_amount VARCHAR(80) NOT NULL,
			original_height BIGINT UNSIGNED NOT NULL,
			original_transfer_id BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (id),
			KEY reorgs_origin_idx (origin)
		)`,
		`CREATE TABLE IF NOT EXISTS pending (
			position INT UNSIGNED NOT NULL,
			usd_amount VARCHAR(80) NOT NULL,
			initiated_at_height BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (position)
		)`,
		`CREATE TABLE IF NOT EXISTS exemptions (
			origin INT UNSIGNED NOT NULL,
			height BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (origin, height)
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			message_id VARCHAR(66) NOT NULL,
			PRIMARY KEY (message_id)
		)`,
		`CREATE TABLE IF NOT EXISTS insurance_claims (
			claim_id VARCHAR(66) NOT NULL,
			paid TINYINT(1) NOT NULL,
			PRIMARY KEY (claim_id)
		)`,
	},
	Upsert: func(table string, keys, cols []string) string {
		updates := make([]string, 0, len(cols))
		for _, col := range cols {
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", col, col))
		}
		all := append(append([]string{}, keys...), cols...)
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
			table, strings.Join(all, ", "), placeholders(len(all)), strings.Join(updates, ", "))
	},
	InsertIgnore: func(table string, cols []string) string {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)",
			table, strings.Join(cols, ", "), placeholders(len(cols)))
	},
}

func Open(dsn string) (*sqlstore.Store, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
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
