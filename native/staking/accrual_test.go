package staking

import (
	"errors"
	"math"
	"testing"

	"github.com/holiman/uint256"

	"rwastaking/crypto"
)

func activePosition(stakedAt uint64) *Position {
	return &Position{
		AssetID:       "asset",
		Owner:         crypto.ModuleAddress("test/owner"),
		StakedAt:      stakedAt,
		AccruedUnpaid: new(uint256.Int),
		Active:        true,
	}
}

func mustSchedule(t *testing.T, epochs ...RateEpoch) *Schedule {
	t.Helper()
	s, err := NewSchedule(epochs)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return s
}

func TestSettleAdvancesCheckpoint(t *testing.T) {
	s := mustSchedule(t, RateEpoch{EffectiveFrom: 0, Rate: units(2)})
	pos := activePosition(0)
	res, err := Settle(pos, s, 10)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Reward.Uint64() != 20 || res.Position.AccruedUnpaid.Uint64() != 20 || res.Position.StakedAt != 10 {
		t.Fatalf("unexpected settlement %+v / %+v", res.Reward, res.Position)
	}
	if pos.StakedAt != 0 || !pos.AccruedUnpaid.IsZero() {
		t.Fatalf("input position must not be mutated")
	}
}

func TestSettleNoDoubleCounting(t *testing.T) {
	s := mustSchedule(t, RateEpoch{EffectiveFrom: 0, Rate: units(2)})
	first, err := Settle(activePosition(0), s, 10)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	second, err := Settle(first.Position, s, 10)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if !second.Reward.IsZero() || second.Position.AccruedUnpaid.Uint64() != 20 || second.Position.StakedAt != 10 {
		t.Fatalf("second settle at same time must be a no-op: %+v", second.Position)
	}
}

func TestSettleAcrossRateChangeIndependentOfCadence(t *testing.T) {
	s := mustSchedule(t,
		RateEpoch{EffectiveFrom: 0, Rate: units(2)},
		RateEpoch{EffectiveFrom: 10, Rate: units(5)},
	)
	once, err := Settle(activePosition(0), s, 20)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if once.Position.AccruedUnpaid.Uint64() != 70 {
		t.Fatalf("expected 2*10 + 5*10 = 70, got %s", once.Position.AccruedUnpaid.Dec())
	}

	pos := activePosition(0)
	for _, now := range []uint64{3, 3, 7, 10, 11, 15, 19, 20} {
		res, err := Settle(pos, s, now)
		if err != nil {
			t.Fatalf("settle at %d: %v", now, err)
		}
		pos = res.Position
	}
	if pos.AccruedUnpaid.Uint64() != 70 {
		t.Fatalf("stepwise settle drifted: %s", pos.AccruedUnpaid.Dec())
	}
}

func TestSettleFractionalRateTruncationBounded(t *testing.T) {
	// 1.5 units per tick: stepwise truncation may lose at most one unit per step.
	rate := new(uint256.Int).Add(units(1), new(uint256.Int).Div(RateScale, uint256.NewInt(2)))
	s := mustSchedule(t, RateEpoch{EffectiveFrom: 0, Rate: rate})
	whole, err := Settle(activePosition(0), s, 100)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if whole.Reward.Uint64() != 150 {
		t.Fatalf("expected 150, got %s", whole.Reward.Dec())
	}
	pos := activePosition(0)
	steps := uint64(0)
	for now := uint64(1); now <= 100; now++ {
		res, err := Settle(pos, s, now)
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		pos = res.Position
		steps++
	}
	got := pos.AccruedUnpaid.Uint64()
	if got > 150 || 150-got > steps {
		t.Fatalf("stepwise accrual %d outside tolerance of 150", got)
	}
}

func TestSettleRejectsTimeTravel(t *testing.T) {
	s := mustSchedule(t, RateEpoch{EffectiveFrom: 0, Rate: units(1)})
	_, err := Settle(activePosition(10), s, 9)
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
	if _, err := Settle(nil, s, 9); err == nil {
		t.Fatalf("nil position must fail")
	}
}

func TestSettleInactiveIsFrozen(t *testing.T) {
	s := mustSchedule(t, RateEpoch{EffectiveFrom: 0, Rate: units(1)})
	pos := activePosition(10)
	pos.Active = false
	pos.AccruedUnpaid = uint256.NewInt(4)
	res, err := Settle(pos, s, 50)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !res.Reward.IsZero() || res.Position.StakedAt != 10 || res.Position.AccruedUnpaid.Uint64() != 4 {
		t.Fatalf("inactive position must not accrue: %+v", res.Position)
	}
}

func TestSettleChunksLongSegments(t *testing.T) {
	// The whole span overflows a single multiplication, so it is accrued in
	// chunks of MaxSegment ticks.
	rate := new(uint256.Int).Rsh(maxUint256, 10)
	s := mustSchedule(t, RateEpoch{EffectiveFrom: 0, Rate: rate})
	if MaxSegment(rate) != 1024 {
		t.Fatalf("unexpected segment limit %d", MaxSegment(rate))
	}

	res, err := Settle(activePosition(0), s, 1024)
	if err != nil {
		t.Fatalf("settle within limit: %v", err)
	}
	expected, err := Accrue(1024, rate)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !res.Reward.Eq(expected) {
		t.Fatalf("unexpected reward %s", res.Reward.Dec())
	}

	chunked, err := Settle(activePosition(0), s, 4096+3)
	if err != nil {
		t.Fatalf("chunked settle: %v", err)
	}
	tail, _ := Accrue(3, rate)
	want := new(uint256.Int).Mul(expected, uint256.NewInt(4))
	want.Add(want, tail)
	if !chunked.Reward.Eq(want) {
		t.Fatalf("chunked reward %s, want %s", chunked.Reward.Dec(), want.Dec())
	}
}

func TestSettleRunningSumOverflow(t *testing.T) {
	s := mustSchedule(t, RateEpoch{EffectiveFrom: 0, Rate: new(uint256.Int).Set(maxUint256)})
	_, err := Settle(activePosition(0), s, math.MaxUint64)
	if !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
}

func TestSettleOverflowLeavesPositionUntouched(t *testing.T) {
	s := mustSchedule(t, RateEpoch{EffectiveFrom: 0, Rate: units(1)})
	pos := activePosition(0)
	pos.AccruedUnpaid = new(uint256.Int).Set(maxUint256)
	_, err := Settle(pos, s, 10)
	if !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	if pos.StakedAt != 0 || !pos.AccruedUnpaid.Eq(maxUint256) {
		t.Fatalf("position mutated on failure")
	}
}
