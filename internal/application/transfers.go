package application

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// TransferLedger stores one record per (direction, chain, id). A second inbound
// write to a populated slot means the origin chain reorganized after the first
// delivery was settled: the displaced record is archived and the insurance fund
// is asked to absorb its native value at the current price.
type TransferLedger struct {
	records    map[domain.TransferKey]domain.TransferRecord
	reorgs     map[uint32][]domain.ReorgedTransfer
	exemptions map[domain.ReorgExemption]struct{}
	insurance  InsuranceFund
	observer   Observer
}

func NewTransferLedger(insurance InsuranceFund, observer Observer) *TransferLedger {
	return &TransferLedger{
		records:    make(map[domain.TransferKey]domain.TransferRecord),
		reorgs:     make(map[uint32][]domain.ReorgedTransfer),
		exemptions: make(map[domain.ReorgExemption]struct{}),
		insurance:  insurance,
		observer:   observer,
	}
}

func (l *TransferLedger) restore(entries []domain.TransferEntry, reorgs []domain.ReorgedTransfer, exemptions []domain.ReorgExemption) {
	l.records = make(map[domain.TransferKey]domain.TransferRecord, len(entries))
	for _, entry := range entries {
		l.records[entry.Key] = entry.Record
	}
	l.reorgs = make(map[uint32][]domain.ReorgedTransfer)
	for _, reorg := range reorgs {
		l.reorgs[reorg.Origin] = append(l.reorgs[reorg.Origin], reorg)
	}
	l.exemptions = make(map[domain.ReorgExemption]struct{}, len(exemptions))
	for _, exemption := range exemptions {
		l.exemptions[exemption] = struct{}{}
	}
}

// Record writes the slot unconditionally, handling a displaced inbound record first.
// It returns the archived record, if any.
func (l *TransferLedger) Record(u *unitOfWork, key domain.TransferKey, amount *uint256.Int, height uint64, price domain.Price) (*domain.ReorgedTransfer, error) {
	var displaced *domain.ReorgedTransfer
	existing, exists := l.records[key]
	if key.Direction == domain.Inbound && exists && existing.USDAmount != nil && !existing.USDAmount.IsZero() {
		reorg := domain.ReorgedTransfer{
			Origin:             key.Chain,
			USDAmount:          existing.USDAmount,
			OriginalHeight:     existing.RecordedAtHeight,
			OriginalTransferID: key.ID,
		}
		if err := l.compensate(u, reorg, price); err != nil {
			return nil, err
		}
		l.archive(u, reorg)
		displaced = &reorg
	}

	l.records[key] = domain.TransferRecord{USDAmount: domain.Clone(amount), RecordedAtHeight: height}
	u.transfers = append(u.transfers, key)
	u.onRevert(func() {
		if exists {
			l.records[key] = existing
		} else {
			delete(l.records, key)
		}
	})
	return displaced, nil
}

func (l *TransferLedger) archive(u *unitOfWork, reorg domain.ReorgedTransfer) {
	previous := l.reorgs[reorg.Origin]
	l.reorgs[reorg.Origin] = append(previous, reorg)
	u.reorgs = append(u.reorgs, reorg)
	u.onRevert(func() {
		if len(previous) == 0 {
			delete(l.reorgs, reorg.Origin)
			return
		}
		l.reorgs[reorg.Origin] = previous
	})
}

func (l *TransferLedger) compensate(u *unitOfWork, reorg domain.ReorgedTransfer, price domain.Price) error {
	if l.IsExempt(reorg.Origin, reorg.OriginalHeight) {
		slog.Info("reorg exempt from compensation",
			"origin", reorg.Origin,
			"transfer_id", reorg.OriginalTransferID,
			"height", reorg.OriginalHeight,
		)
		if l.observer != nil {
			u.deferEffect("reorg exemption", stageClaim, func(context.Context) error {
				l.observer.OnReorg(reorg.Origin, false)
				return nil
			}, nil)
		}
		return nil
	}
	native, err := toNative(reorg.USDAmount, price)
	if err != nil {
		return fmt.Errorf("value displaced transfer: %w", err)
	}
	claim := domain.ReorgClaim{
		ID:         claimID(reorg),
		Origin:     reorg.Origin,
		TransferID: reorg.OriginalTransferID,
		Height:     reorg.OriginalHeight,
		Native:     native,
	}
	u.deferEffect("reorg liquidation", stageClaim, func(ctx context.Context) error {
		ok, err := l.insurance.LiquidateForReorg(ctx, claim)
		if err != nil {
			return err
		}
		if !ok {
			slog.Warn("insurance fund declined reorg compensation",
				"origin", reorg.Origin,
				"transfer_id", reorg.OriginalTransferID,
				"native", domain.FormatAmount(native),
				"claim", claim.ID.Hex(),
			)
		}
		if l.observer != nil {
			l.observer.OnReorg(reorg.Origin, ok)
		}
		u.emit(domain.Event{
			Type:       domain.EventReorgCompensated,
			Chain:      reorg.Origin,
			TransferID: reorg.OriginalTransferID,
			USDAmount:  reorg.USDAmount,
			Amount:     native,
			Height:     reorg.OriginalHeight,
		})
		return nil
	}, nil)
	return nil
}

// claimID names the displaced record, so the same displacement is claimed
// once however many messages or retries report it.
func claimID(reorg domain.ReorgedTransfer) common.Hash {
	var key [20]byte
	binary.BigEndian.PutUint32(key[0:4], reorg.Origin)
	binary.BigEndian.PutUint64(key[4:12], reorg.OriginalTransferID)
	binary.BigEndian.PutUint64(key[12:20], reorg.OriginalHeight)
	return crypto.Keccak256Hash([]byte("reorg"), key[:])
}

// Exempt excludes displaced records recorded at (origin, height) from compensation.
func (l *TransferLedger) Exempt(u *unitOfWork, exemption domain.ReorgExemption) {
	if _, ok := l.exemptions[exemption]; ok {
		return
	}
	l.exemptions[exemption] = struct{}{}
	u.exemptions = append(u.exemptions, exemption)
	u.onRevert(func() { delete(l.exemptions, exemption) })
}

func (l *TransferLedger) IsExempt(origin uint32, height uint64) bool {
	_, ok := l.exemptions[domain.ReorgExemption{Origin: origin, Height: height}]
	return ok
}

func (l *TransferLedger) Lookup(key domain.TransferKey) (domain.TransferRecord, bool) {
	record, ok := l.records[key]
	return record, ok
}

// Reorgs returns a copy of the origin's reorg log in insertion order.
func (l *TransferLedger) Reorgs(origin uint32) []domain.ReorgedTransfer {
	log := l.reorgs[origin]
	out := make([]domain.ReorgedTransfer, len(log))
	copy(out, log)
	return out
}
