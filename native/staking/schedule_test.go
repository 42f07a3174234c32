package staking

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func collect(s *Schedule, from, to uint64) []Segment {
	var out []Segment
	for seg := range s.Segments(from, to) {
		out = append(out, seg)
	}
	return out
}

func TestScheduleSetRateOrdering(t *testing.T) {
	s, err := NewSchedule(nil)
	if err != nil {
		t.Fatalf("new schedule: %v", err)
	}
	if _, err := s.SetRate(units(2), 0, 0); err != nil {
		t.Fatalf("first epoch: %v", err)
	}
	if _, err := s.SetRate(units(3), 0, 0); !errors.Is(err, ErrInvalidEffectiveTime) {
		t.Fatalf("duplicate effective time must fail, got %v", err)
	}
	if _, err := s.SetRate(units(3), 5, 10); !errors.Is(err, ErrInvalidEffectiveTime) {
		t.Fatalf("retroactive epoch must fail, got %v", err)
	}
	if _, err := s.SetRate(nil, 20, 10); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil rate must fail, got %v", err)
	}
	epoch, err := s.SetRate(units(5), 10, 10)
	if err != nil {
		t.Fatalf("second epoch: %v", err)
	}
	if epoch.EffectiveFrom != 10 || s.Len() != 2 {
		t.Fatalf("unexpected schedule state: %+v len=%d", epoch, s.Len())
	}
	if got := s.RateAt(9); !got.Eq(units(2)) {
		t.Fatalf("rate at 9: %s", got.Dec())
	}
	if got := s.RateAt(10); !got.Eq(units(5)) {
		t.Fatalf("rate at 10: %s", got.Dec())
	}
}

func TestNewScheduleRejectsUnorderedLog(t *testing.T) {
	_, err := NewSchedule([]RateEpoch{{EffectiveFrom: 5, Rate: units(1)}, {EffectiveFrom: 5, Rate: units(2)}})
	if !errors.Is(err, ErrInvalidEffectiveTime) {
		t.Fatalf("expected ErrInvalidEffectiveTime, got %v", err)
	}
}

func TestSegmentsPartitionRange(t *testing.T) {
	s, err := NewSchedule([]RateEpoch{
		{EffectiveFrom: 10, Rate: units(1)},
		{EffectiveFrom: 20, Rate: units(2)},
		{EffectiveFrom: 30, Rate: units(3)},
	})
	if err != nil {
		t.Fatalf("new schedule: %v", err)
	}
	segs := collect(s, 5, 35)
	want := []struct {
		start, end, rate uint64
	}{{5, 10, 0}, {10, 20, 1}, {20, 30, 2}, {30, 35, 3}}
	if len(segs) != len(want) {
		t.Fatalf("expected %d segments, got %+v", len(want), segs)
	}
	for i, w := range want {
		if segs[i].Start != w.start || segs[i].End != w.end || !segs[i].Rate.Eq(units(w.rate)) {
			t.Fatalf("segment %d: got [%d,%d) rate %s", i, segs[i].Start, segs[i].End, segs[i].Rate.Dec())
		}
	}

	inner := collect(s, 22, 28)
	if len(inner) != 1 || inner[0].Start != 22 || inner[0].End != 28 {
		t.Fatalf("range inside one epoch: %+v", inner)
	}
	if len(collect(s, 28, 28)) != 0 || len(collect(s, 30, 20)) != 0 {
		t.Fatalf("empty ranges must yield nothing")
	}
}

func TestSegmentsRestartable(t *testing.T) {
	s, _ := NewSchedule([]RateEpoch{{EffectiveFrom: 0, Rate: units(1)}, {EffectiveFrom: 4, Rate: units(2)}})
	seq := s.Segments(0, 8)
	first, second := 0, 0
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	if first != 2 || second != 2 {
		t.Fatalf("sequence must restart: %d then %d", first, second)
	}
	// Early break stops iteration cleanly.
	for seg := range seq {
		if seg.Start != 0 {
			t.Fatalf("unexpected first segment %+v", seg)
		}
		break
	}
}

func TestSegmentsEmptySchedule(t *testing.T) {
	s, _ := NewSchedule(nil)
	segs := collect(s, 0, 10)
	if len(segs) != 1 || !segs[0].Rate.IsZero() || segs[0].Duration() != 10 {
		t.Fatalf("empty schedule must yield one zero-rate segment: %+v", segs)
	}
	if !s.RateAt(100).Eq(new(uint256.Int)) {
		t.Fatalf("empty schedule rate must be zero")
	}
}
