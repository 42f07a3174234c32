package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rwastaking/core/events"
	"rwastaking/crypto"
	"rwastaking/native/common"
	"rwastaking/observability/metrics"
)

// NFTRegistry is the asset registry holding title to staked assets.
type NFTRegistry interface {
	VerifyOwner(ctx context.Context, assetID string, caller crypto.Address) (bool, error)
	Lock(ctx context.Context, assetID string) error
	Unlock(ctx context.Context, assetID string, to crypto.Address) error
}

// CollectionResolver is optionally implemented by registries that know which
// collection an asset was minted in.
type CollectionResolver interface {
	Collection(ctx context.Context, assetID string) (string, error)
}

// TokenTransfer moves reward tokens between accounts.
type TokenTransfer interface {
	Transfer(ctx context.Context, from, to crypto.Address, amount *uint256.Int) error
}

// Authorizer gates admin-only actions.
type Authorizer interface {
	IsAuthorized(ctx context.Context, caller crypto.Address) bool
}

// ClaimReceipt describes the outcome of a successful claim.
type ClaimReceipt struct {
	AssetID string
	Owner   crypto.Address
	Amount  *uint256.Int
	Pool    *uint256.Int
	At      uint64
	// Purged is set when the claim removed an unstaked position from the ledger.
	Purged bool
}

type engineCallKey struct{}

// Engine coordinates stake, unstake and claim against the position ledger, the
// rate schedule and the external collaborators. Operations are serialised; each
// one commits its ledger writes in a single batch before calling out, and
// reverts that batch if the collaborator fails.
type Engine struct {
	mu sync.Mutex

	state       LedgerState
	registry    NFTRegistry
	tokens      TokenTransfer
	auth        Authorizer
	pauses      common.PauseView
	emitter     events.Emitter
	poolAccount crypto.Address
	nowFn       func() uint64
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewEngine creates an engine with a no-op emitter and a wall-clock time source.
func NewEngine() *Engine {
	return &Engine{
		emitter:     events.NoopEmitter{},
		poolAccount: crypto.ModuleAddress(ModuleName + "/pool"),
		nowFn:       wallClock,
		logger:      slog.Default(),
		tracer:      otel.Tracer("rwastaking/native/staking"),
	}
}

func wallClock() uint64 { return uint64(time.Now().Unix()) }

// SetState configures the ledger backend.
func (e *Engine) SetState(state LedgerState) { e.state = state }

// SetRegistry configures the asset registry collaborator.
func (e *Engine) SetRegistry(registry NFTRegistry) { e.registry = registry }

// SetTokenTransfer configures the reward-token transfer collaborator.
func (e *Engine) SetTokenTransfer(tokens TokenTransfer) { e.tokens = tokens }

// SetAuthorizer configures the admin check. Without one every admin action is refused.
func (e *Engine) SetAuthorizer(auth Authorizer) { e.auth = auth }

// SetPauses wires the pause switch consulted before every mutation.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetPoolAccount overrides the account holding the reward pool's tokens.
func (e *Engine) SetPoolAccount(addr crypto.Address) { e.poolAccount = addr }

// PoolAccount returns the account holding the reward pool's tokens.
func (e *Engine) PoolAccount() crypto.Address { return e.poolAccount }

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the logical clock returned by Now. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		now = wallClock
	}
	e.nowFn = now
}

// Now returns the engine's logical time.
func (e *Engine) Now() uint64 {
	if e == nil || e.nowFn == nil {
		return wallClock()
	}
	return e.nowFn()
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// run executes one serialised operation. Reentrant calls made by a
// collaborator with the context it was handed are refused.
func (e *Engine) run(ctx context.Context, op string, caller crypto.Address, mutating bool, fn func(context.Context) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, _ := ctx.Value(engineCallKey{}).(*Engine); owner == e {
		return fmt.Errorf("%w: %s", ErrReentrantCall, op)
	}
	ctx, span := e.tracer.Start(ctx, "staking."+op, trace.WithAttributes(
		attribute.String("staking.caller", caller.String()),
	))
	started := time.Now()
	defer func() {
		outcome := ErrorCode(err)
		metrics.Staking().ObserveOperation(op, outcome, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	if e.state == nil {
		return errNilState
	}
	if mutating {
		if guardErr := common.Guard(e.pauses, ModuleName); guardErr != nil {
			e.emit(events.StakePaused{Account: caller, Operation: op})
			return ErrPaused
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(context.WithValue(ctx, engineCallKey{}, e))
}

func (e *Engine) schedule() (*Schedule, error) {
	epochs, err := e.state.StakingRateEpochs()
	if err != nil {
		return nil, fmt.Errorf("staking: load rate epochs: %w", err)
	}
	return NewSchedule(epochs)
}

func (e *Engine) commit(tx *ledgerTx) error {
	changes := tx.Changes()
	if changes.Empty() {
		return nil
	}
	if err := e.state.StakingCommit(changes); err != nil {
		return fmt.Errorf("staking: commit: %w", err)
	}
	return nil
}

// rollback restores the records tx committed and returns cause, joined with
// any error hit while reverting.
func (e *Engine) rollback(tx *ledgerTx, cause error) error {
	inverse, err := tx.Inverse()
	if err == nil {
		err = e.state.StakingCommit(inverse)
	}
	metrics.Staking().ObserveRollback(err == nil)
	if err != nil {
		e.logger.Error("staking: revert ledger after collaborator failure", "error", err, "cause", cause)
		return errors.Join(cause, fmt.Errorf("staking: rollback: %w", err))
	}
	return cause
}

func externalErr(action string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalCallFailed, action, err)
}

func normalizeAssetID(assetID string) (string, error) {
	normalized, err := common.NormalizeAssetID(assetID)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, assetID)
	}
	return normalized, nil
}

// Stake places assetID in custody and opens a position for owner at now.
func (e *Engine) Stake(ctx context.Context, assetID string, owner crypto.Address, now uint64) (*Position, error) {
	assetID, err := normalizeAssetID(assetID)
	if err != nil {
		return nil, err
	}
	var staked *Position
	err = e.run(ctx, "stake", owner, true, func(ctx context.Context) error {
		if e.registry == nil {
			return errNilRegistry
		}
		tx := newLedgerTx(e.state)
		if _, exists, err := tx.Position(assetID); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s", ErrAlreadyStaked, assetID)
		}
		isOwner, err := e.registry.VerifyOwner(ctx, assetID, owner)
		if err != nil {
			return externalErr("verify owner", err)
		}
		if !isOwner {
			return fmt.Errorf("%w: %s", ErrNotOwner, assetID)
		}
		var collection string
		if resolver, ok := e.registry.(CollectionResolver); ok {
			if collection, err = resolver.Collection(ctx, assetID); err != nil {
				return externalErr("resolve collection", err)
			}
		}

		pos := &Position{
			AssetID:       assetID,
			Collection:    collection,
			Owner:         owner,
			StakedAt:      now,
			AccruedUnpaid: new(uint256.Int),
			Active:        true,
		}
		if err := tx.PutPosition(pos); err != nil {
			return err
		}
		totals, err := tx.Totals()
		if err != nil {
			return err
		}
		totals.ActivePositions++
		if err := tx.SetTotals(totals); err != nil {
			return err
		}
		if err := e.commit(tx); err != nil {
			return err
		}
		if err := e.registry.Lock(ctx, assetID); err != nil {
			return e.rollback(tx, externalErr("lock asset", err))
		}

		staked = pos
		e.emit(events.StakeStaked{AssetID: assetID, Collection: collection, Staker: owner, StakedAt: now})
		metrics.Staking().SetActivePositions(totals.ActivePositions)
		e.logger.Info("staking: position opened", "asset", assetID, "owner", owner.String(), "at", now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return staked.Clone(), nil
}

// Unstake settles the position up to now, freezes further accrual and releases
// custody back to the owner. Positions with nothing left to claim are purged.
func (e *Engine) Unstake(ctx context.Context, assetID string, caller crypto.Address, now uint64) (*Position, error) {
	assetID, err := normalizeAssetID(assetID)
	if err != nil {
		return nil, err
	}
	var result *Position
	err = e.run(ctx, "unstake", caller, true, func(ctx context.Context) error {
		if e.registry == nil {
			return errNilRegistry
		}
		tx := newLedgerTx(e.state)
		pos, exists, err := tx.Position(assetID)
		if err != nil {
			return err
		}
		if !exists || !pos.Active {
			return fmt.Errorf("%w: %s", ErrNotFound, assetID)
		}
		if pos.Owner != caller {
			return fmt.Errorf("%w: %s", ErrNotOwner, assetID)
		}
		schedule, err := e.schedule()
		if err != nil {
			return err
		}
		settlement, err := Settle(pos, schedule, now)
		if err != nil {
			return err
		}

		next := settlement.Position
		next.Active = false
		purged := next.Settled()
		if purged {
			err = tx.PurgePosition(assetID)
		} else {
			err = tx.PutPosition(next)
		}
		if err != nil {
			return err
		}
		totals, err := tx.Totals()
		if err != nil {
			return err
		}
		if totals.ActivePositions > 0 {
			totals.ActivePositions--
		}
		if err := tx.SetTotals(totals); err != nil {
			return err
		}
		if err := e.commit(tx); err != nil {
			return err
		}
		if err := e.registry.Unlock(ctx, assetID, pos.Owner); err != nil {
			return e.rollback(tx, externalErr("unlock asset", err))
		}

		result = next
		e.emit(events.StakeUnstaked{
			AssetID: assetID,
			Staker:  caller,
			Accrued: next.AccruedUnpaid,
			Settled: settlement.Reward,
			At:      now,
			Purged:  purged,
		})
		e.observeSettlement(settlement)
		metrics.Staking().SetActivePositions(totals.ActivePositions)
		e.logger.Info("staking: position unstaked", "asset", assetID, "owner", caller.String(), "accrued", next.AccruedUnpaid.Dec(), "purged", purged)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Clone(), nil
}

// Claim settles an active position and pays everything accrued out of the pool.
// When the pool is short the settlement is still persisted and
// ErrInsufficientPool is returned so the claim can be retried later.
func (e *Engine) Claim(ctx context.Context, assetID string, caller crypto.Address, now uint64) (*ClaimReceipt, error) {
	assetID, err := normalizeAssetID(assetID)
	if err != nil {
		return nil, err
	}
	var receipt *ClaimReceipt
	err = e.run(ctx, "claim", caller, true, func(ctx context.Context) error {
		if e.tokens == nil {
			return errNilTokens
		}
		tx := newLedgerTx(e.state)
		pos, exists, err := tx.Position(assetID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, assetID)
		}
		if pos.Owner != caller {
			return fmt.Errorf("%w: %s", ErrNotOwner, assetID)
		}
		schedule, err := e.schedule()
		if err != nil {
			return err
		}
		settlement, err := Settle(pos, schedule, now)
		if err != nil {
			return err
		}
		next := settlement.Position
		amount := cloneAmount(next.AccruedUnpaid)
		pool, err := tx.Pool()
		if err != nil {
			return err
		}

		if pool.Lt(amount) {
			if next.StakedAt != pos.StakedAt {
				if err := tx.PutPosition(next); err != nil {
					return err
				}
				if err := e.commit(tx); err != nil {
					return err
				}
				e.observeSettlement(settlement)
			}
			e.logger.Warn("staking: claim exceeds reward pool", "asset", assetID, "owed", amount.Dec(), "available", pool.Dec())
			return fmt.Errorf("%w: owed %s, available %s", ErrInsufficientPool, amount.Dec(), pool.Dec())
		}

		next.AccruedUnpaid = new(uint256.Int)
		purged := next.Settled()
		if purged {
			err = tx.PurgePosition(assetID)
		} else if next.StakedAt != pos.StakedAt || !amount.IsZero() {
			err = tx.PutPosition(next)
		}
		if err != nil {
			return err
		}
		if !amount.IsZero() {
			if err := tx.SetPool(new(uint256.Int).Sub(pool, amount)); err != nil {
				return err
			}
			totals, err := tx.Totals()
			if err != nil {
				return err
			}
			paid, overflow := new(uint256.Int).AddOverflow(totals.TotalPaid, amount)
			if overflow {
				return fmt.Errorf("%w: total paid", ErrArithmeticOverflow)
			}
			totals.TotalPaid = paid
			if err := tx.SetTotals(totals); err != nil {
				return err
			}
		}
		if err := e.commit(tx); err != nil {
			return err
		}
		if !amount.IsZero() {
			if err := e.tokens.Transfer(ctx, e.poolAccount, caller, amount); err != nil {
				return e.rollback(tx, externalErr("transfer reward", err))
			}
		}

		remaining, err := tx.Pool()
		if err != nil {
			return err
		}
		receipt = &ClaimReceipt{AssetID: assetID, Owner: caller, Amount: amount, Pool: remaining, At: now, Purged: purged}
		e.emit(events.StakeRewardsClaimed{AssetID: assetID, Staker: caller, Rewards: amount, Pool: remaining, At: now, Purged: purged})
		e.observeSettlement(settlement)
		metrics.Staking().AddClaimed(amount.Float64())
		metrics.Staking().SetPoolBalance(remaining.Float64())
		e.logger.Info("staking: rewards claimed", "asset", assetID, "owner", caller.String(), "amount", amount.Dec(), "pool", remaining.Dec())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Checkpoint settles an active position up to now and persists the result
// without paying anything out. Only the owner or an admin may checkpoint, since
// every checkpoint truncates.
func (e *Engine) Checkpoint(ctx context.Context, assetID string, caller crypto.Address, now uint64) (*Settlement, error) {
	assetID, err := normalizeAssetID(assetID)
	if err != nil {
		return nil, err
	}
	var settlement *Settlement
	err = e.run(ctx, "checkpoint", caller, true, func(ctx context.Context) error {
		tx := newLedgerTx(e.state)
		pos, exists, err := tx.Position(assetID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, assetID)
		}
		if pos.Owner != caller && !e.authorized(ctx, caller) {
			return fmt.Errorf("%w: %s", ErrNotOwner, assetID)
		}
		schedule, err := e.schedule()
		if err != nil {
			return err
		}
		if settlement, err = Settle(pos, schedule, now); err != nil {
			return err
		}
		if settlement.Position.StakedAt == pos.StakedAt {
			return nil
		}
		if err := tx.PutPosition(settlement.Position); err != nil {
			return err
		}
		if err := e.commit(tx); err != nil {
			return err
		}
		e.observeSettlement(settlement)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// SetRate appends a rate epoch. Only authorized callers may change the rate,
// and only prospectively.
func (e *Engine) SetRate(ctx context.Context, caller crypto.Address, rate *uint256.Int, effectiveFrom, now uint64) (RateEpoch, error) {
	var epoch RateEpoch
	err := e.run(ctx, "set_rate", caller, true, func(ctx context.Context) error {
		if !e.authorized(ctx, caller) {
			return ErrUnauthorized
		}
		schedule, err := e.schedule()
		if err != nil {
			return err
		}
		if epoch, err = schedule.SetRate(rate, effectiveFrom, now); err != nil {
			return err
		}
		tx := newLedgerTx(e.state)
		tx.AppendEpoch(epoch)
		if err := e.commit(tx); err != nil {
			return err
		}
		e.emit(events.StakeRateSet{Admin: caller, Rate: epoch.Rate, EffectiveFrom: epoch.EffectiveFrom})
		e.logger.Info("staking: rate epoch appended", "rate", FormatRate(epoch.Rate), "effective_from", epoch.EffectiveFrom, "admin", caller.String())
		return nil
	})
	if err != nil {
		return RateEpoch{}, err
	}
	return epoch, nil
}

// FundPool moves amount from the caller into the pool account and credits the
// pool balance.
func (e *Engine) FundPool(ctx context.Context, caller crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	var balance *uint256.Int
	err := e.run(ctx, "fund_pool", caller, true, func(ctx context.Context) error {
		if !e.authorized(ctx, caller) {
			return ErrUnauthorized
		}
		if amount == nil || amount.IsZero() {
			return fmt.Errorf("%w: funding amount must be positive", ErrInvalidAmount)
		}
		if e.tokens == nil {
			return errNilTokens
		}
		tx := newLedgerTx(e.state)
		pool, err := tx.Pool()
		if err != nil {
			return err
		}
		next, overflow := new(uint256.Int).AddOverflow(pool, amount)
		if overflow {
			return fmt.Errorf("%w: pool balance", ErrArithmeticOverflow)
		}
		totals, err := tx.Totals()
		if err != nil {
			return err
		}
		funded, overflow := new(uint256.Int).AddOverflow(totals.TotalFunded, amount)
		if overflow {
			return fmt.Errorf("%w: total funded", ErrArithmeticOverflow)
		}
		totals.TotalFunded = funded
		if err := tx.SetPool(next); err != nil {
			return err
		}
		if err := tx.SetTotals(totals); err != nil {
			return err
		}
		if err := e.commit(tx); err != nil {
			return err
		}
		if err := e.tokens.Transfer(ctx, caller, e.poolAccount, amount); err != nil {
			return e.rollback(tx, externalErr("deposit reward", err))
		}

		balance = next
		e.emit(events.StakePoolFunded{Funder: caller, Amount: amount, Balance: next})
		metrics.Staking().AddFunded(amount.Float64())
		metrics.Staking().SetPoolBalance(next.Float64())
		e.logger.Info("staking: pool funded", "funder", caller.String(), "amount", amount.Dec(), "balance", next.Dec())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (e *Engine) authorized(ctx context.Context, caller crypto.Address) bool {
	return e.auth != nil && e.auth.IsAuthorized(ctx, caller)
}

func (e *Engine) observeSettlement(s *Settlement) {
	if s == nil || s.Dust.IsZero() {
		return
	}
	whole, frac := new(uint256.Int), new(uint256.Int)
	whole.DivMod(s.Dust, RateScale, frac)
	metrics.Staking().AddDust(whole.Float64() + frac.Float64()/RateScale.Float64())
}

// Position returns the stored position for assetID.
func (e *Engine) Position(ctx context.Context, assetID string) (*Position, error) {
	assetID, err := normalizeAssetID(assetID)
	if err != nil {
		return nil, err
	}
	var pos *Position
	err = e.run(ctx, "position", crypto.ZeroAddress, false, func(context.Context) error {
		stored, ok, err := e.state.StakingPosition(assetID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, assetID)
		}
		pos = stored
		return nil
	})
	return pos, err
}

// PositionsByOwner lists every position, active or awaiting claim, held by owner.
func (e *Engine) PositionsByOwner(ctx context.Context, owner crypto.Address) ([]*Position, error) {
	var out []*Position
	err := e.run(ctx, "positions_by_owner", owner, false, func(context.Context) error {
		var err error
		out, err = e.state.StakingPositionsByOwner(owner)
		return err
	})
	return out, err
}

// Pending previews the settlement a claim at now would produce without
// persisting anything.
func (e *Engine) Pending(ctx context.Context, assetID string, now uint64) (*Settlement, error) {
	assetID, err := normalizeAssetID(assetID)
	if err != nil {
		return nil, err
	}
	var settlement *Settlement
	err = e.run(ctx, "pending", crypto.ZeroAddress, false, func(context.Context) error {
		pos, ok, err := e.state.StakingPosition(assetID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, assetID)
		}
		schedule, err := e.schedule()
		if err != nil {
			return err
		}
		settlement, err = Settle(pos, schedule, now)
		return err
	})
	return settlement, err
}

// RateEpochs returns the full rate log.
func (e *Engine) RateEpochs(ctx context.Context) ([]RateEpoch, error) {
	var epochs []RateEpoch
	err := e.run(ctx, "rate_epochs", crypto.ZeroAddress, false, func(context.Context) error {
		schedule, err := e.schedule()
		if err != nil {
			return err
		}
		epochs = schedule.Epochs()
		return nil
	})
	return epochs, err
}

// PoolBalance returns the reward units available for claims.
func (e *Engine) PoolBalance(ctx context.Context) (*uint256.Int, error) {
	var balance *uint256.Int
	err := e.run(ctx, "pool_balance", crypto.ZeroAddress, false, func(context.Context) error {
		var err error
		balance, err = e.state.StakingPoolBalance()
		return err
	})
	return balance, err
}

// Totals returns ledger-wide counters.
func (e *Engine) Totals(ctx context.Context) (*Totals, error) {
	var totals *Totals
	err := e.run(ctx, "totals", crypto.ZeroAddress, false, func(context.Context) error {
		var err error
		totals, err = e.state.StakingTotals()
		return err
	})
	return totals, err
}
