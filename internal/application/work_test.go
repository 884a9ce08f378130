package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnitOfWorkUndoesReversibleEffectsOnFailure(t *testing.T) {
	ctx := context.Background()
	u := newUnitOfWork()
	var trail []string
	record := func(step string) func(context.Context) error {
		return func(context.Context) error {
			trail = append(trail, step)
			return nil
		}
	}
	u.deferEffect("first", stageReversible, record("run first"), record("undo first"))
	u.deferEffect("second", stageReversible, record("run second"), record("undo second"))
	u.deferEffect("third", stageReversible, func(context.Context) error { return errBoom }, record("undo third"))

	err := u.runReversible(ctx)
	require.ErrorIs(t, err, errBoom)
	require.ErrorContains(t, err, "third")
	require.Equal(t, []string{"run first", "run second", "undo second", "undo first"}, trail)
}

func TestUnitOfWorkRunsClaimsAfterExternalEffects(t *testing.T) {
	ctx := context.Background()
	u := newUnitOfWork()
	var trail []string
	u.deferEffect("claim", stageClaim, func(context.Context) error {
		trail = append(trail, "claim")
		return nil
	}, nil)
	u.deferEffect("payout", stageExternal, func(context.Context) error {
		trail = append(trail, "payout")
		return nil
	}, nil)
	u.deferEffect("deposit", stageReversible, func(context.Context) error {
		trail = append(trail, "deposit")
		return nil
	}, nil)

	require.NoError(t, runAll(ctx, u))
	require.Equal(t, []string{"deposit", "payout", "claim"}, trail)
	require.True(t, u.external)
}

func TestUnitOfWorkExternalFailureStopsLaterStages(t *testing.T) {
	u := newUnitOfWork()
	claimed := false
	u.deferEffect("payout", stageExternal, func(context.Context) error { return errBoom }, nil)
	u.deferEffect("claim", stageClaim, func(context.Context) error {
		claimed = true
		return nil
	}, nil)

	require.ErrorIs(t, u.runExternal(context.Background()), errBoom)
	require.False(t, claimed)
}
