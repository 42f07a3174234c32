package staking

import (
	"github.com/holiman/uint256"

	"rwastaking/crypto"
)

const (
	// ContractName identifies the ledger in stored metadata.
	ContractName = "rwa-staking"
	// ContractVersion is bumped whenever the stored layout changes.
	ContractVersion = "1.0.0"
	// ModuleName is used for pause toggles and the pool module account.
	ModuleName = "staking"
)

// Position is the bookkeeping record of one staked asset.
type Position struct {
	AssetID string
	// Collection is the NFT contract the asset was minted by. Informational only.
	Collection    string
	Owner         crypto.Address
	StakedAt      uint64
	AccruedUnpaid *uint256.Int
	Active        bool
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.AccruedUnpaid = cloneAmount(p.AccruedUnpaid)
	return &clone
}

// Settled reports whether nothing remains to pay or accrue, which makes the
// position eligible for purge.
func (p *Position) Settled() bool {
	return p != nil && !p.Active && (p.AccruedUnpaid == nil || p.AccruedUnpaid.IsZero())
}

// RateEpoch is one entry of the append-only rate log. Rate is reward units per
// unit time scaled by RateScale.
type RateEpoch struct {
	EffectiveFrom uint64
	Rate          *uint256.Int
}

// Clone returns a deep copy of the epoch.
func (r RateEpoch) Clone() RateEpoch {
	return RateEpoch{EffectiveFrom: r.EffectiveFrom, Rate: cloneAmount(r.Rate)}
}

// Segment is a half-open interval [Start, End) over which a single rate applies.
type Segment struct {
	Start uint64
	End   uint64
	Rate  *uint256.Int
}

// Duration returns End-Start.
func (s Segment) Duration() uint64 { return s.End - s.Start }

// Settlement is the outcome of settling a position up to a point in time.
type Settlement struct {
	Position *Position
	// Reward is the amount newly added to AccruedUnpaid.
	Reward *uint256.Int
	// Dust is the truncated remainder in units of 1/RateScale reward units.
	Dust *uint256.Int
}

// Totals aggregates ledger-wide counters.
type Totals struct {
	ActivePositions uint64
	TotalFunded     *uint256.Int
	TotalPaid       *uint256.Int
}

// Clone returns a deep copy of the totals.
func (t *Totals) Clone() *Totals {
	if t == nil {
		return &Totals{TotalFunded: new(uint256.Int), TotalPaid: new(uint256.Int)}
	}
	return &Totals{
		ActivePositions: t.ActivePositions,
		TotalFunded:     cloneAmount(t.TotalFunded),
		TotalPaid:       cloneAmount(t.TotalPaid),
	}
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
