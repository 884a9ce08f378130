package application

import (
	"context"
	"fmt"
	"log/slog"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// effectStage orders external interactions. Reversible effects run first and
// are undone if anything later fails. External effects cannot be undone and
// run inside the store write, right before commit. Claims run last so that a
// failed payout never leaves a compensation request behind.
type effectStage int

const (
	stageReversible effectStage = iota
	stageExternal
	stageClaim
)

type effect struct {
	name  string
	stage effectStage
	run   func(ctx context.Context) error
	undo  func(ctx context.Context) error
}

// unitOfWork journals one operation: undo closures for every state write,
// the keys it touched, deferred external interactions and the events it emits.
// Amount fields are replaced, never mutated in place, so undo can restore pointers.
type unitOfWork struct {
	// scope identifies the operation instance. Payout ids and claim ids derive
	// from it, so a retry of the same operation reproduces them.
	scope      common.Hash
	undo       []func()
	accounts   map[common.Address]struct{}
	transfers  []domain.TransferKey
	reorgs     []domain.ReorgedTransfer
	pendingSet bool
	exemptions []domain.ReorgExemption
	deliveries []common.Hash
	effects    []effect
	events     []domain.Event
	payouts    map[common.Address]*uint256.Int
	insured    *uint256.Int
	// reversed holds undo steps of reversible effects that already ran.
	reversed []effect
	external bool
}

func newUnitOfWork() *unitOfWork {
	return &unitOfWork{
		accounts: make(map[common.Address]struct{}),
		payouts:  make(map[common.Address]*uint256.Int),
		insured:  domain.Zero(),
	}
}

func (u *unitOfWork) onRevert(fn func()) {
	u.undo = append(u.undo, fn)
}

func (u *unitOfWork) setAmount(field **uint256.Int, value *uint256.Int) {
	old := *field
	*field = value
	u.onRevert(func() { *field = old })
}

// setValue journals a write to a plain field.
func setValue[T any](u *unitOfWork, field *T, value T) {
	old := *field
	*field = value
	u.onRevert(func() { *field = old })
}

func (u *unitOfWork) deferEffect(name string, stage effectStage, run, undo func(ctx context.Context) error) {
	u.effects = append(u.effects, effect{name: name, stage: stage, run: run, undo: undo})
}

func (u *unitOfWork) emit(event domain.Event) {
	u.events = append(u.events, event)
}

// derive hashes the operation scope with parts into a stable identifier.
func (u *unitOfWork) derive(parts ...[]byte) common.Hash {
	return crypto.Keccak256Hash(append([][]byte{u.scope.Bytes()}, parts...)...)
}

// runReversible runs the reversible stage. On failure the effects that
// already ran are undone before the error is returned.
func (u *unitOfWork) runReversible(ctx context.Context) error {
	for _, eff := range u.effects {
		if eff.stage != stageReversible {
			continue
		}
		if err := eff.run(ctx); err != nil {
			u.undoReversible(ctx)
			return fmt.Errorf("%s: %w", eff.name, err)
		}
		u.reversed = append(u.reversed, eff)
	}
	return nil
}

// runExternal runs the irreversible stages in order.
func (u *unitOfWork) runExternal(ctx context.Context) error {
	for _, stage := range []effectStage{stageExternal, stageClaim} {
		for _, eff := range u.effects {
			if eff.stage != stage {
				continue
			}
			u.external = true
			if err := eff.run(ctx); err != nil {
				return fmt.Errorf("%s: %w", eff.name, err)
			}
		}
	}
	return nil
}

func (u *unitOfWork) undoReversible(ctx context.Context) {
	for i := len(u.reversed) - 1; i >= 0; i-- {
		eff := u.reversed[i]
		if eff.undo == nil {
			continue
		}
		if err := eff.undo(ctx); err != nil {
			slog.Error("undo of external effect failed", "effect", eff.name, "err", err)
		}
	}
	u.reversed = nil
}

func (u *unitOfWork) revert() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
	u.effects = nil
	u.events = nil
	u.payouts = make(map[common.Address]*uint256.Int)
	u.insured = domain.Zero()
}
