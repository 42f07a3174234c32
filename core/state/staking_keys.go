package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"rwastaking/crypto"
	"rwastaking/native/staking"
)

// storedPosition mirrors staking.Position in an RLP friendly layout. Amounts are
// kept as big integers so the encoding matches the rest of the state.
type storedPosition struct {
	AssetID       string
	Collection    string
	Owner         []byte
	StakedAt      uint64
	AccruedUnpaid *big.Int
	Active        bool
}

func newStoredPosition(pos *staking.Position) *storedPosition {
	return &storedPosition{
		AssetID:       pos.AssetID,
		Collection:    pos.Collection,
		Owner:         pos.Owner.Bytes(),
		StakedAt:      pos.StakedAt,
		AccruedUnpaid: toBig(pos.AccruedUnpaid),
		Active:        pos.Active,
	}
}

func (s *storedPosition) toPosition() (*staking.Position, error) {
	accrued, err := fromBig(s.AccruedUnpaid)
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", s.AssetID, err)
	}
	return &staking.Position{
		AssetID:       s.AssetID,
		Collection:    s.Collection,
		Owner:         crypto.BytesToAddress(s.Owner),
		StakedAt:      s.StakedAt,
		AccruedUnpaid: accrued,
		Active:        s.Active,
	}, nil
}

type storedEpoch struct {
	EffectiveFrom uint64
	Rate          *big.Int
}

type storedTotals struct {
	ActivePositions uint64
	TotalFunded     *big.Int
	TotalPaid       *big.Int
}

func newStoredTotals(t *staking.Totals) *storedTotals {
	t = t.Clone()
	return &storedTotals{
		ActivePositions: t.ActivePositions,
		TotalFunded:     toBig(t.TotalFunded),
		TotalPaid:       toBig(t.TotalPaid),
	}
}

func (s *storedTotals) toTotals() (*staking.Totals, error) {
	funded, err := fromBig(s.TotalFunded)
	if err != nil {
		return nil, fmt.Errorf("totals funded: %w", err)
	}
	paid, err := fromBig(s.TotalPaid)
	if err != nil {
		return nil, fmt.Errorf("totals paid: %w", err)
	}
	return &staking.Totals{ActivePositions: s.ActivePositions, TotalFunded: funded, TotalPaid: paid}, nil
}

type storedMeta struct {
	Name    string
	Version string
	Schema  uint32
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("state: amount %s out of range", v.String())
	}
	return out, nil
}
