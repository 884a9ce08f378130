package application

import (
	"nativebridge/internal/domain"

	"github.com/holiman/uint256"
)

// FinalityTracker holds outbound transfers that are still inside the finality
// window. The set is unordered: sweeping removes entries by swapping the last
// entry into their slot.
type FinalityTracker struct {
	pending []domain.PendingTransfer
	amount  *uint256.Int
}

func NewFinalityTracker() *FinalityTracker {
	return &FinalityTracker{amount: domain.Zero()}
}

func (t *FinalityTracker) restore(pending []domain.PendingTransfer) {
	t.pending = make([]domain.PendingTransfer, 0, len(pending))
	t.amount = domain.Zero()
	for _, entry := range pending {
		t.pending = append(t.pending, entry)
		t.amount = new(uint256.Int).Add(t.amount, entry.USDAmount)
	}
}

func (t *FinalityTracker) snapshot(u *unitOfWork) {
	saved := make([]domain.PendingTransfer, len(t.pending))
	copy(saved, t.pending)
	u.pendingSet = true
	u.onRevert(func() { t.pending = saved })
}

func (t *FinalityTracker) Admit(u *unitOfWork, amount *uint256.Int, height uint64) error {
	total, err := add(t.amount, amount)
	if err != nil {
		return err
	}
	t.snapshot(u)
	t.pending = append(t.pending, domain.PendingTransfer{USDAmount: domain.Clone(amount), InitiatedAtHeight: height})
	u.setAmount(&t.amount, total)
	return nil
}

// Sweep releases every entry with InitiatedAtHeight+window <= height in one pass.
func (t *FinalityTracker) Sweep(u *unitOfWork, height, window uint64) (int, *uint256.Int) {
	released := domain.Zero()
	if !t.hasMatured(height, window) {
		return 0, released
	}
	t.snapshot(u)

	count := 0
	remaining := t.amount
	for i := 0; i < len(t.pending); {
		entry := t.pending[i]
		if !matured(entry, height, window) {
			i++
			continue
		}
		remaining = saturatingSub(remaining, entry.USDAmount)
		released = new(uint256.Int).Add(released, entry.USDAmount)
		last := len(t.pending) - 1
		t.pending[i] = t.pending[last]
		t.pending = t.pending[:last]
		count++
	}
	u.setAmount(&t.amount, remaining)
	return count, released
}

func (t *FinalityTracker) hasMatured(height, window uint64) bool {
	for _, entry := range t.pending {
		if matured(entry, height, window) {
			return true
		}
	}
	return false
}

func matured(entry domain.PendingTransfer, height, window uint64) bool {
	return entry.InitiatedAtHeight+window <= height
}

func (t *FinalityTracker) PendingAmount() *uint256.Int {
	return domain.Clone(t.amount)
}

func (t *FinalityTracker) Len() int {
	return len(t.pending)
}

// Pending returns a copy of the working set in its current (meaningless) order.
func (t *FinalityTracker) Pending() []domain.PendingTransfer {
	out := make([]domain.PendingTransfer, len(t.pending))
	copy(out, t.pending)
	return out
}
