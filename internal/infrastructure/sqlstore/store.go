package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"nativebridge/internal/application"
	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dialect adapts statements to one SQL engine. Every dialect creates the same
// tables and columns.
type Dialect struct {
	Name   string
	Schema []string
	// Upsert returns an insert that overwrites cols when keys already exist.
	Upsert func(table string, keys, cols []string) string
	// InsertIgnore returns an insert that skips rows whose key already exists.
	InsertIgnore func(table string, cols []string) string
}

// Store persists bridge state. Amounts are stored as base-10 strings.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if dialect.Upsert == nil || dialect.InsertIgnore == nil {
		return nil, fmt.Errorf("dialect %q is incomplete", dialect.Name)
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db, dialect: dialect}, nil
}

const (
	keyTotalShares      = "total_shares"
	keyFeeIndex         = "fee_index"
	keyTotalFees        = "total_fees"
	keyBalance          = "balance"
	keyPendingAmount    = "pending_amount"
	keyNextTransferID   = "next_transfer_id"
	keyOtherInsurance   = "other_chain_insurance_usd"
	keyOtherLiquidity   = "other_chain_liquidity_usd"
	keyOwner            = "owner"
	keyTransport        = "transport"
	keyCounterpartChain = "counterpart_domain"
	keyCounterpartAddr  = "counterpart_address"
	keyInsuranceReserve = "insurance_reserve"
)

type stateEntry struct {
	key   string
	value string
}

func globalsToState(g domain.Globals) []stateEntry {
	return []stateEntry{
		{keyTotalShares, domain.FormatAmount(g.TotalShares)},
		{keyFeeIndex, domain.FormatAmount(g.FeeIndex)},
		{keyTotalFees, domain.FormatAmount(g.TotalFees)},
		{keyBalance, domain.FormatAmount(g.Balance)},
		{keyPendingAmount, domain.FormatAmount(g.PendingAmount)},
		{keyNextTransferID, strconv.FormatUint(g.NextTransferID, 10)},
		{keyOtherInsurance, domain.FormatAmount(g.OtherChainInsuranceUSD)},
		{keyOtherLiquidity, domain.FormatAmount(g.OtherChainLiquidityUSD)},
		{keyOwner, g.Owner.Hex()},
		{keyTransport, g.Transport.Hex()},
		{keyCounterpartChain, strconv.FormatUint(uint64(g.Counterpart.Domain), 10)},
		{keyCounterpartAddr, g.Counterpart.Address.Hex()},
	}
}

func stateToGlobals(state map[string]string) (domain.Globals, error) {
	var (
		g   domain.Globals
		err error
	)
	amounts := []struct {
		key   string
		field **uint256.Int
	}{
		{keyTotalShares, &g.TotalShares},
		{keyFeeIndex, &g.FeeIndex},
		{keyTotalFees, &g.TotalFees},
		{keyBalance, &g.Balance},
		{keyPendingAmount, &g.PendingAmount},
		{keyOtherInsurance, &g.OtherChainInsuranceUSD},
		{keyOtherLiquidity, &g.OtherChainLiquidityUSD},
	}
	for _, a := range amounts {
		if *a.field, err = parseAmountColumn(state[a.key]); err != nil {
			return g, fmt.Errorf("state %s: %w", a.key, err)
		}
	}
	if raw, ok := state[keyNextTransferID]; ok {
		if g.NextTransferID, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return g, fmt.Errorf("state %s: %w", keyNextTransferID, err)
		}
	}
	if raw, ok := state[keyCounterpartChain]; ok {
		chain, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return g, fmt.Errorf("state %s: %w", keyCounterpartChain, err)
		}
		g.Counterpart.Domain = uint32(chain)
	}
	g.Owner = common.HexToAddress(state[keyOwner])
	g.Transport = common.HexToAddress(state[keyTransport])
	g.Counterpart.Address = common.HexToHash(state[keyCounterpartAddr])
	return g, nil
}

func parseAmountColumn(raw string) (*uint256.Int, error) {
	if raw == "" {
		return domain.Zero(), nil
	}
	return domain.ParseAmount(raw)
}

func (s *Store) Load(ctx context.Context) (domain.Snapshot, error) {
	ctx, span := s.startSpan(ctx, "sqlstore.Load")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	snap, err := s.load(ctx)
	if err != nil {
		recordSpanError(span, err)
		return domain.Snapshot{}, err
	}
	span.SetAttributes(
		attribute.Int("bridge.accounts", len(snap.Accounts)),
		attribute.Int("bridge.transfers", len(snap.Transfers)),
	)
	return snap, nil
}

func (s *Store) load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot

	state, err := s.readState(ctx)
	if err != nil {
		return snap, err
	}
	if snap.Globals, err = stateToGlobals(state); err != nil {
		return snap, err
	}

	err = s.scan(ctx, `SELECT address, shares, fee_checkpoint FROM accounts`, func(rows *sql.Rows) error {
		var addr, shares, checkpoint string
		if err := rows.Scan(&addr, &shares, &checkpoint); err != nil {
			return err
		}
		acc := domain.Account{Address: common.HexToAddress(addr)}
		var err error
		if acc.Shares, err = parseAmountColumn(shares); err != nil {
			return fmt.Errorf("account %s shares: %w", addr, err)
		}
		if acc.FeeCheckpoint, err = parseAmountColumn(checkpoint); err != nil {
			return fmt.Errorf("account %s checkpoint: %w", addr, err)
		}
		snap.Accounts = append(snap.Accounts, acc)
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load accounts: %w", err)
	}

	err = s.scan(ctx, `SELECT direction, chain, transfer_id, usd_amount, recorded_at_height FROM transfers`, func(rows *sql.Rows) error {
		var (
			entry     domain.TransferEntry
			direction string
			usd       string
		)
		if err := rows.Scan(&direction, &entry.Key.Chain, &entry.Key.ID, &usd, &entry.Record.RecordedAtHeight); err != nil {
			return err
		}
		entry.Key.Direction = domain.Direction(direction)
		var err error
		if entry.Record.USDAmount, err = parseAmountColumn(usd); err != nil {
			return fmt.Errorf("transfer %s: %w", entry.Key, err)
		}
		snap.Transfers = append(snap.Transfers, entry)
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load transfers: %w", err)
	}

	err = s.scan(ctx, `SELECT origin, usd_amount, original_height, original_transfer_id FROM reorgs ORDER BY id`, func(rows *sql.Rows) error {
		var (
			reorg domain.ReorgedTransfer
			usd   string
		)
		if err := rows.Scan(&reorg.Origin, &usd, &reorg.OriginalHeight, &reorg.OriginalTransferID); err != nil {
			return err
		}
		var err error
		if reorg.USDAmount, err = parseAmountColumn(usd); err != nil {
			return err
		}
		snap.Reorgs = append(snap.Reorgs, reorg)
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load reorgs: %w", err)
	}

	err = s.scan(ctx, `SELECT usd_amount, initiated_at_height FROM pending ORDER BY position`, func(rows *sql.Rows) error {
		var (
			pending domain.PendingTransfer
			usd     string
		)
		if err := rows.Scan(&usd, &pending.InitiatedAtHeight); err != nil {
			return err
		}
		var err error
		if pending.USDAmount, err = parseAmountColumn(usd); err != nil {
			return err
		}
		snap.Pending = append(snap.Pending, pending)
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load pending: %w", err)
	}

	err = s.scan(ctx, `SELECT origin, height FROM exemptions`, func(rows *sql.Rows) error {
		var ex domain.ReorgExemption
		if err := rows.Scan(&ex.Origin, &ex.Height); err != nil {
			return err
		}
		snap.Exemptions = append(snap.Exemptions, ex)
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load exemptions: %w", err)
	}

	err = s.scan(ctx, `SELECT message_id FROM deliveries`, func(rows *sql.Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		snap.Deliveries = append(snap.Deliveries, common.HexToHash(id))
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load deliveries: %w", err)
	}
	return snap, nil
}

func (s *Store) readState(ctx context.Context) (map[string]string, error) {
	state := make(map[string]string)
	err := s.scan(ctx, `SELECT state_key, state_value FROM state`, func(rows *sql.Rows) error {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		state[key] = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return state, nil
}

func (s *Store) scan(ctx context.Context, query string, each func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := each(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Apply writes one committed changeset in a single transaction. deliver runs
// after the writes and before commit; its error rolls everything back. Store
// calls made with deliver's context join the transaction.
func (s *Store) Apply(ctx context.Context, changes application.Changes, deliver func(context.Context) error) error {
	ctx, span := s.startSpan(ctx, "sqlstore.Apply",
		attribute.Int("bridge.accounts", len(changes.Accounts)),
		attribute.Int("bridge.transfers", len(changes.Transfers)),
		attribute.Bool("bridge.pending_set", changes.PendingSet),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := s.apply(ctx, tx, changes); err != nil {
		_ = tx.Rollback()
		recordSpanError(span, err)
		return err
	}
	if deliver != nil {
		if err := deliver(context.WithValue(ctx, txKey{}, tx)); err != nil {
			_ = tx.Rollback()
			recordSpanError(span, err)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// inTx runs fn in the transaction carried by ctx, or in a new one.
func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, changes application.Changes) error {
	upsertState := s.dialect.Upsert("state", []string{"state_key"}, []string{"state_value"})
	for _, entry := range globalsToState(changes.Globals) {
		if _, err := tx.ExecContext(ctx, upsertState, entry.key, entry.value); err != nil {
			return fmt.Errorf("write state %s: %w", entry.key, err)
		}
	}

	upsertAccount := s.dialect.Upsert("accounts", []string{"address"}, []string{"shares", "fee_checkpoint"})
	for _, acc := range changes.Accounts {
		var err error
		if acc.IsEmpty() {
			_, err = tx.ExecContext(ctx, `DELETE FROM accounts WHERE address = ?`, acc.Address.Hex())
		} else {
			_, err = tx.ExecContext(ctx, upsertAccount, acc.Address.Hex(), domain.FormatAmount(acc.Shares), domain.FormatAmount(acc.FeeCheckpoint))
		}
		if err != nil {
			return fmt.Errorf("write account %s: %w", acc.Address.Hex(), err)
		}
	}

	upsertTransfer := s.dialect.Upsert("transfers", []string{"direction", "chain", "transfer_id"}, []string{"usd_amount", "recorded_at_height"})
	for _, entry := range changes.Transfers {
		_, err := tx.ExecContext(ctx, upsertTransfer,
			string(entry.Key.Direction), entry.Key.Chain, entry.Key.ID,
			domain.FormatAmount(entry.Record.USDAmount), entry.Record.RecordedAtHeight,
		)
		if err != nil {
			return fmt.Errorf("write transfer %s: %w", entry.Key, err)
		}
	}

	for _, reorg := range changes.Reorgs {
		_, err := tx.ExecContext(ctx, `INSERT INTO reorgs (origin, usd_amount, original_height, original_transfer_id) VALUES (?, ?, ?, ?)`,
			reorg.Origin, domain.FormatAmount(reorg.USDAmount), reorg.OriginalHeight, reorg.OriginalTransferID,
		)
		if err != nil {
			return fmt.Errorf("write reorg: %w", err)
		}
	}

	if changes.PendingSet {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending`); err != nil {
			return fmt.Errorf("clear pending: %w", err)
		}
		for i, pending := range changes.Pending {
			_, err := tx.ExecContext(ctx, `INSERT INTO pending (position, usd_amount, initiated_at_height) VALUES (?, ?, ?)`,
				i, domain.FormatAmount(pending.USDAmount), pending.InitiatedAtHeight,
			)
			if err != nil {
				return fmt.Errorf("write pending: %w", err)
			}
		}
	}

	insertExemption := s.dialect.InsertIgnore("exemptions", []string{"origin", "height"})
	for _, ex := range changes.Exemptions {
		if _, err := tx.ExecContext(ctx, insertExemption, ex.Origin, ex.Height); err != nil {
			return fmt.Errorf("write exemption: %w", err)
		}
	}

	insertDelivery := s.dialect.InsertIgnore("deliveries", []string{"message_id"})
	for _, id := range changes.Deliveries {
		if _, err := tx.ExecContext(ctx, insertDelivery, id.Hex()); err != nil {
			return fmt.Errorf("write delivery %s: %w", id.Hex(), err)
		}
	}
	return nil
}

// LoadReserve returns the persisted insurance reserve.
func (s *Store) LoadReserve(ctx context.Context) (*uint256.Int, bool, error) {
	ctx, span := s.startSpan(ctx, "sqlstore.LoadReserve")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var raw string
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT state_value FROM state WHERE state_key = ?`, keyInsuranceReserve).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		recordSpanError(span, err)
		return nil, false, err
	}
	reserve, err := parseAmountColumn(raw)
	if err != nil {
		recordSpanError(span, err)
		return nil, false, fmt.Errorf("insurance reserve: %w", err)
	}
	return reserve, true, nil
}

func (s *Store) SaveReserve(ctx context.Context, reserve *uint256.Int) error {
	ctx, span := s.startSpan(ctx, "sqlstore.SaveReserve", attribute.String("insurance.reserve", domain.FormatAmount(reserve)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	upsert := s.dialect.Upsert("state", []string{"state_key"}, []string{"state_value"})
	if _, err := s.conn(ctx).ExecContext(ctx, upsert, keyInsuranceReserve, domain.FormatAmount(reserve)); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

// ClaimOutcome reports whether reorg claim id was settled and if it was paid.
func (s *Store) ClaimOutcome(ctx context.Context, id common.Hash) (bool, bool, error) {
	ctx, span := s.startSpan(ctx, "sqlstore.ClaimOutcome", attribute.String("insurance.claim", id.Hex()))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var paid bool
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT paid FROM insurance_claims WHERE claim_id = ?`, id.Hex()).Scan(&paid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		recordSpanError(span, err)
		return false, false, err
	}
	return paid, true, nil
}

// SettleClaim records a claim outcome and the reserve after it in one write.
func (s *Store) SettleClaim(ctx context.Context, id common.Hash, paid bool, reserve *uint256.Int) error {
	ctx, span := s.startSpan(ctx, "sqlstore.SettleClaim",
		attribute.String("insurance.claim", id.Hex()),
		attribute.Bool("insurance.paid", paid),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	upsertClaim := s.dialect.Upsert("insurance_claims", []string{"claim_id"}, []string{"paid"})
	upsertState := s.dialect.Upsert("state", []string{"state_key"}, []string{"state_value"})
	err := s.inTx(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, upsertClaim, id.Hex(), paid); err != nil {
			return fmt.Errorf("write claim %s: %w", id.Hex(), err)
		}
		if _, err := q.ExecContext(ctx, upsertState, keyInsuranceReserve, domain.FormatAmount(reserve)); err != nil {
			return fmt.Errorf("write insurance reserve: %w", err)
		}
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", s.dialect.Name))
	return otel.Tracer("nativebridge/sqlstore").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
