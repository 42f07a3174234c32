package staking

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"rwastaking/core/events"
)

// TestEndToEndLifecycle walks one asset through rate changes, claims, an
// unstake and a restake with D = 10^18.
func TestEndToEndLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Stake at t=0 under 2 units per tick; settle at t=10.
	h.setRate(t, 2, 0, 0)
	_, err := h.engine.Stake(ctx, "A", h.alice, 0)
	require.NoError(t, err)
	settled, err := h.engine.Checkpoint(ctx, "A", h.alice, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(20), settled.Position.AccruedUnpaid.Uint64())

	// Rate becomes 5 at t=10; settle at t=20.
	h.setRate(t, 5, 10, 10)
	settled, err = h.engine.Checkpoint(ctx, "A", h.alice, 20)
	require.NoError(t, err)
	require.Equal(t, uint64(70), settled.Position.AccruedUnpaid.Uint64())

	// Claim at t=20 against a pool of 100.
	h.fund(t, 100)
	receipt, err := h.engine.Claim(ctx, "A", h.alice, 20)
	require.NoError(t, err)
	require.Equal(t, uint64(70), receipt.Amount.Uint64())
	require.Equal(t, uint64(30), receipt.Pool.Uint64())
	require.True(t, h.state.positions["A"].AccruedUnpaid.IsZero())
	require.Equal(t, uint64(70), h.bank.balance(h.alice).Uint64())

	// Claiming again with no elapsed time is a successful zero transfer.
	receipt, err = h.engine.Claim(ctx, "A", h.alice, 20)
	require.NoError(t, err)
	require.True(t, receipt.Amount.IsZero())
	require.Equal(t, uint64(30), h.state.pool.Uint64())

	// Unstake at t=25 freezes 25 more units; the position blocks restaking until claimed.
	pos, err := h.engine.Unstake(ctx, "A", h.alice, 25)
	require.NoError(t, err)
	require.False(t, pos.Active)
	require.Equal(t, uint64(25), pos.AccruedUnpaid.Uint64())
	require.False(t, h.registry.locked["A"])
	_, err = h.engine.Stake(ctx, "A", h.alice, 26)
	require.ErrorIs(t, err, ErrAlreadyStaked)

	// Accrual stays frozen while unstaked.
	preview, err := h.engine.Pending(ctx, "A", 1_000)
	require.NoError(t, err)
	require.Equal(t, uint64(25), preview.Position.AccruedUnpaid.Uint64())

	receipt, err = h.engine.Claim(ctx, "A", h.alice, 30)
	require.NoError(t, err)
	require.Equal(t, uint64(25), receipt.Amount.Uint64())
	require.True(t, receipt.Purged)
	_, ok := h.state.positions["A"]
	require.False(t, ok)

	_, err = h.engine.Stake(ctx, "A", h.alice, 31)
	require.NoError(t, err)
	require.Equal(t, uint64(5), h.state.pool.Uint64())
	require.Equal(t, uint64(95), h.state.totals.TotalPaid.Uint64())
}

func TestInsufficientPoolRetainsAccrual(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setRate(t, 2, 0, 0)
	h.fund(t, 10)
	_, err := h.engine.Stake(ctx, "A", h.alice, 0)
	require.NoError(t, err)

	_, err = h.engine.Claim(ctx, "A", h.alice, 10)
	require.ErrorIs(t, err, ErrInsufficientPool)
	stored := h.state.positions["A"]
	require.Equal(t, uint64(20), stored.AccruedUnpaid.Uint64())
	require.Equal(t, uint64(10), stored.StakedAt)
	require.Equal(t, uint64(10), h.state.pool.Uint64())
	require.True(t, h.bank.balance(h.alice).IsZero())

	// Retrying with the same clock does not settle twice.
	_, err = h.engine.Claim(ctx, "A", h.alice, 10)
	require.ErrorIs(t, err, ErrInsufficientPool)
	require.Equal(t, uint64(20), h.state.positions["A"].AccruedUnpaid.Uint64())

	h.fund(t, 15)
	receipt, err := h.engine.Claim(ctx, "A", h.alice, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(20), receipt.Amount.Uint64())
	require.Equal(t, uint64(5), receipt.Pool.Uint64())
}

func TestClaimsNeverExceedDeposits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registry.owners["C"] = h.alice
	h.setRate(t, 3, 0, 0)
	h.fund(t, 200)
	for _, id := range []string{"A", "C"} {
		_, err := h.engine.Stake(ctx, id, h.alice, 0)
		require.NoError(t, err)
	}
	_, err := h.engine.Stake(ctx, "B", h.bob, 5)
	require.NoError(t, err)

	type step struct {
		asset string
		now   uint64
	}
	for _, s := range []step{{"A", 10}, {"B", 12}, {"C", 20}, {"A", 30}, {"B", 40}, {"C", 60}, {"A", 90}} {
		owner := h.alice
		if s.asset == "B" {
			owner = h.bob
		}
		_, err := h.engine.Claim(ctx, s.asset, owner, s.now)
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientPool)
		}
	}

	totals, err := h.engine.Totals(ctx)
	require.NoError(t, err)
	require.True(t, totals.TotalPaid.Cmp(totals.TotalFunded) <= 0)
	paidOut := new(uint256.Int).Add(h.bank.balance(h.alice), h.bank.balance(h.bob))
	require.True(t, paidOut.Eq(totals.TotalPaid))
	remaining := new(uint256.Int).Sub(totals.TotalFunded, totals.TotalPaid)
	require.True(t, remaining.Eq(h.state.pool))
	require.True(t, h.bank.balance(h.engine.PoolAccount()).Eq(h.state.pool))
}

func TestClaimEventsCarryOriginalAttributes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setRate(t, 1, 0, 0)
	h.fund(t, 50)
	_, err := h.engine.Stake(ctx, "A", h.alice, 0)
	require.NoError(t, err)
	_, err = h.engine.Claim(ctx, "A", h.alice, 4)
	require.NoError(t, err)

	evts := h.recorder.Events()
	last, ok := evts[len(evts)-1].(events.StakeRewardsClaimed)
	require.True(t, ok)
	attrs := last.Event().Attributes
	require.Equal(t, "claim_rewards", attrs["action"])
	require.Equal(t, "A", attrs["token_id"])
	require.Equal(t, h.alice.String(), attrs["staker"])
	require.Equal(t, "4", attrs["rewards"])
}
