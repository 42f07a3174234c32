package staking

import stderrors "errors"

var (
	// ErrNotOwner is returned when the caller does not own the asset or the position.
	ErrNotOwner = stderrors.New("staking: caller is not the owner")
	// ErrAlreadyStaked is returned when a position already exists for the asset,
	// including an unstaked position still awaiting its final claim.
	ErrAlreadyStaked = stderrors.New("staking: asset already staked")
	// ErrNotFound is returned when no active position matches the request.
	ErrNotFound = stderrors.New("staking: position not found")
	// ErrInvalidEffectiveTime is returned when a rate epoch would not extend the schedule forward.
	ErrInvalidEffectiveTime = stderrors.New("staking: invalid effective time")
	// ErrInvalidTimestamp is returned when the supplied logical time precedes a checkpoint.
	ErrInvalidTimestamp = stderrors.New("staking: timestamp precedes checkpoint")
	// ErrArithmeticOverflow is returned when accrual exceeds the 256-bit range.
	ErrArithmeticOverflow = stderrors.New("staking: arithmetic overflow")
	// ErrInsufficientPool is returned when the reward pool cannot cover a claim.
	ErrInsufficientPool = stderrors.New("staking: insufficient reward pool")
	// ErrExternalCallFailed wraps collaborator failures (registry lock or token transfer).
	ErrExternalCallFailed = stderrors.New("staking: external call failed")

	// ErrUnauthorized is returned when an admin-only action is invoked by a non-admin.
	ErrUnauthorized = stderrors.New("staking: caller not authorized")
	// ErrInvalidAmount is returned for nil or zero amounts and rates that cannot be used.
	ErrInvalidAmount = stderrors.New("staking: invalid amount")
	// ErrInvalidAsset is returned for empty asset identifiers.
	ErrInvalidAsset = stderrors.New("staking: invalid asset id")
	// ErrReentrantCall is returned when a collaborator calls back into the engine mid-operation.
	ErrReentrantCall = stderrors.New("staking: reentrant call rejected")
	// ErrPaused is returned when staking mutations are paused.
	ErrPaused = stderrors.New("staking: module paused")

	errNilState      = stderrors.New("staking: state not configured")
	errNilRegistry   = stderrors.New("staking: asset registry not configured")
	errNilTokens     = stderrors.New("staking: token transfer not configured")
	errNilPosition   = stderrors.New("staking: nil position")
	errEpochRollback = stderrors.New("staking: rate epochs cannot be rolled back")
)

// ErrorCode maps an engine error onto a stable, machine-readable code used in
// metrics labels and API responses.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, ErrExternalCallFailed):
		return "external_call_failed"
	case stderrors.Is(err, ErrNotOwner):
		return "not_owner"
	case stderrors.Is(err, ErrAlreadyStaked):
		return "already_staked"
	case stderrors.Is(err, ErrNotFound):
		return "not_found"
	case stderrors.Is(err, ErrInvalidEffectiveTime):
		return "invalid_effective_time"
	case stderrors.Is(err, ErrInvalidTimestamp):
		return "invalid_timestamp"
	case stderrors.Is(err, ErrArithmeticOverflow):
		return "arithmetic_overflow"
	case stderrors.Is(err, ErrInsufficientPool):
		return "insufficient_pool"
	case stderrors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case stderrors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case stderrors.Is(err, ErrInvalidAsset):
		return "invalid_asset"
	case stderrors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	case stderrors.Is(err, ErrPaused):
		return "paused"
	default:
		return "internal"
	}
}
