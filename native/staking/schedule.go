package staking

import (
	"fmt"
	"iter"
	"sort"

	"github.com/holiman/uint256"
)

// Schedule is the ordered, append-only log of rate epochs.
type Schedule struct {
	epochs []RateEpoch
}

// NewSchedule builds a schedule from stored epochs, rejecting logs that are not
// strictly increasing by effective time.
func NewSchedule(epochs []RateEpoch) (*Schedule, error) {
	s := &Schedule{epochs: make([]RateEpoch, 0, len(epochs))}
	for i, epoch := range epochs {
		if epoch.Rate == nil {
			return nil, fmt.Errorf("%w: epoch %d has no rate", ErrInvalidAmount, i)
		}
		if i > 0 && epoch.EffectiveFrom <= epochs[i-1].EffectiveFrom {
			return nil, fmt.Errorf("%w: epoch %d at %d does not follow %d", ErrInvalidEffectiveTime, i, epoch.EffectiveFrom, epochs[i-1].EffectiveFrom)
		}
		s.epochs = append(s.epochs, epoch.Clone())
	}
	return s, nil
}

// Len returns the number of epochs.
func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	return len(s.epochs)
}

// Epochs returns a copy of the log.
func (s *Schedule) Epochs() []RateEpoch {
	if s == nil {
		return nil
	}
	out := make([]RateEpoch, len(s.epochs))
	for i, epoch := range s.epochs {
		out[i] = epoch.Clone()
	}
	return out
}

// Latest returns the most recently appended epoch.
func (s *Schedule) Latest() (RateEpoch, bool) {
	if s.Len() == 0 {
		return RateEpoch{}, false
	}
	return s.epochs[len(s.epochs)-1].Clone(), true
}

// CheckRate validates a prospective epoch without appending it. Rate changes
// are prospective only: effectiveFrom may not precede now and must move past
// the latest epoch.
func (s *Schedule) CheckRate(rate *uint256.Int, effectiveFrom, now uint64) error {
	if rate == nil {
		return fmt.Errorf("%w: rate required", ErrInvalidAmount)
	}
	if effectiveFrom < now {
		return fmt.Errorf("%w: %d is before current time %d", ErrInvalidEffectiveTime, effectiveFrom, now)
	}
	if latest, ok := s.Latest(); ok && effectiveFrom <= latest.EffectiveFrom {
		return fmt.Errorf("%w: %d does not follow latest epoch at %d", ErrInvalidEffectiveTime, effectiveFrom, latest.EffectiveFrom)
	}
	return nil
}

// SetRate appends a new epoch. Existing positions are not recomputed; they pick
// the change up the next time they are settled.
func (s *Schedule) SetRate(rate *uint256.Int, effectiveFrom, now uint64) (RateEpoch, error) {
	if err := s.CheckRate(rate, effectiveFrom, now); err != nil {
		return RateEpoch{}, err
	}
	epoch := RateEpoch{EffectiveFrom: effectiveFrom, Rate: cloneAmount(rate)}
	s.epochs = append(s.epochs, epoch)
	return epoch.Clone(), nil
}

// RateAt returns the rate in force at t. Before the first epoch the rate is zero.
func (s *Schedule) RateAt(t uint64) *uint256.Int {
	idx := s.indexAt(t)
	if idx < 0 {
		return new(uint256.Int)
	}
	return cloneAmount(s.epochs[idx].Rate)
}

// indexAt returns the index of the epoch governing t, or -1 before the first epoch.
func (s *Schedule) indexAt(t uint64) int {
	if s.Len() == 0 {
		return -1
	}
	n := sort.Search(len(s.epochs), func(i int) bool { return s.epochs[i].EffectiveFrom > t })
	return n - 1
}

// Segments partitions [from, to) by the epochs in force. Each iteration walks
// the log afresh, so the sequence can be ranged over any number of times.
// Time before the first epoch is reported as a zero-rate segment.
func (s *Schedule) Segments(from, to uint64) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		if from >= to {
			return
		}
		idx := s.indexAt(from)
		cursor := from
		for cursor < to {
			end := to
			if next := idx + 1; next < s.Len() && s.epochs[next].EffectiveFrom < end {
				end = s.epochs[next].EffectiveFrom
			}
			rate := new(uint256.Int)
			if idx >= 0 {
				rate.Set(s.epochs[idx].Rate)
			}
			if !yield(Segment{Start: cursor, End: end, Rate: rate}) {
				return
			}
			cursor = end
			idx++
		}
	}
}
