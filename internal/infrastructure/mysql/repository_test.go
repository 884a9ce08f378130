package mysql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDialectStatements(t *testing.T) {
	require.Equal(t,
		"INSERT INTO accounts (address, shares, fee_checkpoint) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE shares = VALUES(shares), fee_checkpoint = VALUES(fee_checkpoint)",
		Dialect.Upsert("accounts", []string{"address"}, []string{"shares", "fee_checkpoint"}),
	)
	require.Equal(t,
		"INSERT IGNORE INTO exemptions (origin, height) VALUES (?, ?)",
		Dialect.InsertIgnore("exemptions", []string{"origin", "height"}),
	)
}

func TestSchemaHasClaimTable(t *testing.T) {
	found := false
	for _, stmt := range Dialect.Schema {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS insurance_claims") {
			found = true
		}
	}
	require.True(t, found)
	require.Equal(t,
		"INSERT INTO insurance_claims (claim_id, paid) VALUES (?, ?) ON DUPLICATE KEY UPDATE paid = VALUES(paid)",
		Dialect.Upsert("insurance_claims", []string{"claim_id"}, []string{"paid"}),
	)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
