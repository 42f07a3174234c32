package staking

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Settle integrates the reward owed for [pos.StakedAt, now) across every rate
// segment, adds it to AccruedUnpaid and advances StakedAt to now. The input is
// never mutated: on error the caller still holds the untouched position.
//
// Inactive positions are frozen; they report a zero settlement so long as now
// does not move behind their final checkpoint.
func Settle(pos *Position, schedule *Schedule, now uint64) (*Settlement, error) {
	if pos == nil {
		return nil, errNilPosition
	}
	if now < pos.StakedAt {
		return nil, fmt.Errorf("%w: now %d, checkpoint %d", ErrInvalidTimestamp, now, pos.StakedAt)
	}
	result := &Settlement{Position: pos.Clone(), Reward: new(uint256.Int), Dust: new(uint256.Int)}
	if !pos.Active || now == pos.StakedAt {
		return result, nil
	}

	for segment := range schedule.Segments(pos.StakedAt, now) {
		if err := accrueSegment(result, segment); err != nil {
			return nil, err
		}
	}

	total, overflow := new(uint256.Int).AddOverflow(result.Position.AccruedUnpaid, result.Reward)
	if overflow {
		return nil, fmt.Errorf("%w: accrued balance for %s", ErrArithmeticOverflow, pos.AssetID)
	}
	result.Position.AccruedUnpaid = total
	result.Position.StakedAt = now
	return result, nil
}

// accrueSegment adds one segment to the running settlement. Segments longer
// than MaxSegment are split into equal chunks so no single product leaves 256
// bits; every chunk is truncated on its own, exactly as if it had been settled
// separately.
func accrueSegment(result *Settlement, segment Segment) error {
	if segment.Rate == nil || segment.Rate.IsZero() {
		return nil
	}
	limit := MaxSegment(segment.Rate)
	duration := segment.Duration()
	chunks, rest := duration/limit, duration%limit

	reward, dust, err := accrueWithDust(rest, segment.Rate)
	if err != nil {
		return err
	}
	if chunks > 0 {
		chunkReward, chunkDust, err := accrueWithDust(limit, segment.Rate)
		if err != nil {
			return err
		}
		total, overflow := new(uint256.Int).MulOverflow(chunkReward, uint256.NewInt(chunks))
		if overflow {
			return fmt.Errorf("%w: segment [%d,%d)", ErrArithmeticOverflow, segment.Start, segment.End)
		}
		if reward, overflow = total.AddOverflow(total, reward); overflow {
			return fmt.Errorf("%w: segment [%d,%d)", ErrArithmeticOverflow, segment.Start, segment.End)
		}
		// Dust only feeds metrics, so it saturates instead of failing.
		if chunkDust, overflow = chunkDust.MulOverflow(chunkDust, uint256.NewInt(chunks)); !overflow {
			dust = saturatingAdd(dust, chunkDust)
		}
	}

	sum, overflow := new(uint256.Int).AddOverflow(result.Reward, reward)
	if overflow {
		return fmt.Errorf("%w: segment [%d,%d)", ErrArithmeticOverflow, segment.Start, segment.End)
	}
	result.Reward = sum
	result.Dust = saturatingAdd(result.Dust, dust)
	return nil
}

func saturatingAdd(x, y *uint256.Int) *uint256.Int {
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return new(uint256.Int).Set(maxUint256)
	}
	return sum
}
