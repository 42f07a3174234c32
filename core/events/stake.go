package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"rwastaking/core/types"
	"rwastaking/crypto"
)

const (
	// TypeStakeStaked is emitted when an asset enters custody and starts accruing.
	TypeStakeStaked = "staking.staked"
	// TypeStakeUnstaked is emitted when custody is released and accrual freezes.
	TypeStakeUnstaked = "staking.unstaked"
	// TypeStakeRewardsClaimed is emitted when accrued rewards leave the pool.
	TypeStakeRewardsClaimed = "staking.claimed"
	// TypeStakeRateSet is emitted when a new rate epoch is appended.
	TypeStakeRateSet = "staking.rate_set"
	// TypeStakePoolFunded is emitted when reward tokens are deposited into the pool.
	TypeStakePoolFunded = "staking.pool_funded"
	// TypeStakePaused is emitted when a mutation is rejected by the pause switch.
	TypeStakePaused = "staking.paused"

	// Action values mirror the response attributes of the original contract.
	ActionStake   = "stake_nft"
	ActionUnstake = "unstake_nft"
	ActionClaim   = "claim_rewards"
	ActionSetRate = "set_rate"
	ActionFund    = "fund_pool"
)

// StakeStaked captures a freshly opened position.
type StakeStaked struct {
	AssetID    string
	Collection string
	Staker     crypto.Address
	StakedAt   uint64
}

// EventType satisfies the Event interface.
func (StakeStaked) EventType() string { return TypeStakeStaked }

// Event converts the structured payload into a broadcastable event.
func (e StakeStaked) Event() *types.Event {
	attrs := map[string]string{
		"action":   ActionStake,
		"token_id": e.AssetID,
		"staker":   e.Staker.String(),
		"at":       strconv.FormatUint(e.StakedAt, 10),
	}
	if e.Collection != "" {
		attrs["nft_contract_address"] = e.Collection
	}
	return &types.Event{Type: TypeStakeStaked, Attributes: attrs}
}

// StakeUnstaked captures the final settlement of a position leaving custody.
type StakeUnstaked struct {
	AssetID string
	Staker  crypto.Address
	Accrued *uint256.Int
	Settled *uint256.Int
	At      uint64
	Purged  bool
}

// EventType satisfies the Event interface.
func (StakeUnstaked) EventType() string { return TypeStakeUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e StakeUnstaked) Event() *types.Event {
	attrs := map[string]string{
		"action":   ActionUnstake,
		"token_id": e.AssetID,
		"staker":   e.Staker.String(),
		"accrued":  formatAmount(e.Accrued),
		"settled":  formatAmount(e.Settled),
		"at":       strconv.FormatUint(e.At, 10),
	}
	if e.Purged {
		attrs["purged"] = "true"
	}
	return &types.Event{Type: TypeStakeUnstaked, Attributes: attrs}
}

// StakeRewardsClaimed captures a successful payout.
type StakeRewardsClaimed struct {
	AssetID string
	Staker  crypto.Address
	Rewards *uint256.Int
	Pool    *uint256.Int
	At      uint64
	Purged  bool
}

// EventType satisfies the Event interface.
func (StakeRewardsClaimed) EventType() string { return TypeStakeRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsClaimed) Event() *types.Event {
	attrs := map[string]string{
		"action":   ActionClaim,
		"token_id": e.AssetID,
		"staker":   e.Staker.String(),
		"rewards":  formatAmount(e.Rewards),
		"pool":     formatAmount(e.Pool),
		"at":       strconv.FormatUint(e.At, 10),
	}
	if e.Purged {
		attrs["purged"] = "true"
	}
	return &types.Event{Type: TypeStakeRewardsClaimed, Attributes: attrs}
}

// StakeRateSet captures a new rate epoch.
type StakeRateSet struct {
	Admin         crypto.Address
	Rate          *uint256.Int
	EffectiveFrom uint64
}

// EventType satisfies the Event interface.
func (StakeRateSet) EventType() string { return TypeStakeRateSet }

// Event converts the structured payload into a broadcastable event.
func (e StakeRateSet) Event() *types.Event {
	return &types.Event{Type: TypeStakeRateSet, Attributes: map[string]string{
		"action":         ActionSetRate,
		"admin":          e.Admin.String(),
		"rate":           formatAmount(e.Rate),
		"effective_from": strconv.FormatUint(e.EffectiveFrom, 10),
	}}
}

// StakePoolFunded captures a deposit into the reward pool.
type StakePoolFunded struct {
	Funder  crypto.Address
	Amount  *uint256.Int
	Balance *uint256.Int
}

// EventType satisfies the Event interface.
func (StakePoolFunded) EventType() string { return TypeStakePoolFunded }

// Event converts the structured payload into a broadcastable event.
func (e StakePoolFunded) Event() *types.Event {
	return &types.Event{Type: TypeStakePoolFunded, Attributes: map[string]string{
		"action":  ActionFund,
		"funder":  e.Funder.String(),
		"amount":  formatAmount(e.Amount),
		"balance": formatAmount(e.Balance),
	}}
}

// StakePaused captures a staking request rejected due to the pause switch.
type StakePaused struct {
	Account   crypto.Address
	Operation string
}

// EventType satisfies the Event interface.
func (StakePaused) EventType() string { return TypeStakePaused }

// Event converts the structured payload into a broadcastable event.
func (e StakePaused) Event() *types.Event {
	attrs := map[string]string{"operation": e.Operation}
	if !e.Account.IsZero() {
		attrs["addr"] = e.Account.String()
	}
	return &types.Event{Type: TypeStakePaused, Attributes: attrs}
}
