package staking

import (
	"github.com/holiman/uint256"

	"rwastaking/crypto"
)

// LedgerState is the durable backing of the position ledger: the positions
// table keyed by asset id, the rate_epochs log and the pool balance scalar.
type LedgerState interface {
	StakingPosition(assetID string) (*Position, bool, error)
	StakingPositionsByOwner(owner crypto.Address) ([]*Position, error)
	StakingRateEpochs() ([]RateEpoch, error)
	StakingPoolBalance() (*uint256.Int, error)
	StakingTotals() (*Totals, error)
	// StakingCommit applies every change in one atomic write.
	StakingCommit(changes *Changes) error
}

// Changes is the staged write set of one engine operation.
type Changes struct {
	// Positions maps asset ids to their new record. A nil record purges the asset.
	Positions map[string]*Position
	// Epochs are appended to the rate log in order.
	Epochs []RateEpoch
	// Pool replaces the pool balance when non-nil.
	Pool *uint256.Int
	// Totals replaces the ledger counters when non-nil.
	Totals *Totals
}

// Empty reports whether the change set writes nothing.
func (c *Changes) Empty() bool {
	return c == nil || (len(c.Positions) == 0 && len(c.Epochs) == 0 && c.Pool == nil && c.Totals == nil)
}

// ledgerTx stages reads and writes for a single operation. It remembers the
// first value observed for every touched record so a committed change set can
// be reverted if a collaborator call fails afterwards.
type ledgerTx struct {
	state LedgerState

	positions map[string]*Position
	original  map[string]*Position
	order     []string

	epochs     []RateEpoch
	pool       *uint256.Int
	origPool   *uint256.Int
	totals     *Totals
	origTotals *Totals
}

func newLedgerTx(state LedgerState) *ledgerTx {
	return &ledgerTx{
		state:     state,
		positions: make(map[string]*Position),
		original:  make(map[string]*Position),
	}
}

func (tx *ledgerTx) remember(assetID string) error {
	if _, seen := tx.original[assetID]; seen {
		return nil
	}
	pos, ok, err := tx.state.StakingPosition(assetID)
	if err != nil {
		return err
	}
	if !ok {
		pos = nil
	}
	tx.original[assetID] = pos
	tx.order = append(tx.order, assetID)
	return nil
}

// Position returns the staged view of the asset's position.
func (tx *ledgerTx) Position(assetID string) (*Position, bool, error) {
	if staged, ok := tx.positions[assetID]; ok {
		return staged.Clone(), staged != nil, nil
	}
	if err := tx.remember(assetID); err != nil {
		return nil, false, err
	}
	orig := tx.original[assetID]
	return orig.Clone(), orig != nil, nil
}

// PutPosition stages an insert or update.
func (tx *ledgerTx) PutPosition(pos *Position) error {
	if err := tx.remember(pos.AssetID); err != nil {
		return err
	}
	tx.positions[pos.AssetID] = pos.Clone()
	return nil
}

// PurgePosition stages removal of the asset's position.
func (tx *ledgerTx) PurgePosition(assetID string) error {
	if err := tx.remember(assetID); err != nil {
		return err
	}
	tx.positions[assetID] = nil
	return nil
}

// Pool returns the staged pool balance.
func (tx *ledgerTx) Pool() (*uint256.Int, error) {
	if tx.pool != nil {
		return cloneAmount(tx.pool), nil
	}
	balance, err := tx.state.StakingPoolBalance()
	if err != nil {
		return nil, err
	}
	tx.origPool = cloneAmount(balance)
	tx.pool = cloneAmount(balance)
	return cloneAmount(balance), nil
}

// SetPool stages a new pool balance.
func (tx *ledgerTx) SetPool(balance *uint256.Int) error {
	if _, err := tx.Pool(); err != nil {
		return err
	}
	tx.pool = cloneAmount(balance)
	return nil
}

// Totals returns the staged ledger counters.
func (tx *ledgerTx) Totals() (*Totals, error) {
	if tx.totals != nil {
		return tx.totals.Clone(), nil
	}
	totals, err := tx.state.StakingTotals()
	if err != nil {
		return nil, err
	}
	tx.origTotals = totals.Clone()
	tx.totals = totals.Clone()
	return totals.Clone(), nil
}

// SetTotals stages new ledger counters.
func (tx *ledgerTx) SetTotals(totals *Totals) error {
	if _, err := tx.Totals(); err != nil {
		return err
	}
	tx.totals = totals.Clone()
	return nil
}

// AppendEpoch stages a rate epoch.
func (tx *ledgerTx) AppendEpoch(epoch RateEpoch) {
	tx.epochs = append(tx.epochs, epoch.Clone())
}

// Changes returns the forward write set.
func (tx *ledgerTx) Changes() *Changes {
	changes := &Changes{Positions: make(map[string]*Position, len(tx.positions))}
	for _, id := range tx.order {
		if staged, ok := tx.positions[id]; ok {
			changes.Positions[id] = staged.Clone()
		}
	}
	for _, epoch := range tx.epochs {
		changes.Epochs = append(changes.Epochs, epoch.Clone())
	}
	if tx.pool != nil && (tx.origPool == nil || !tx.pool.Eq(tx.origPool)) {
		changes.Pool = cloneAmount(tx.pool)
	}
	if tx.totals != nil {
		changes.Totals = tx.totals.Clone()
	}
	return changes
}

// Inverse returns the write set restoring every record this transaction
// changed. Appended epochs cannot be reverted.
func (tx *ledgerTx) Inverse() (*Changes, error) {
	if len(tx.epochs) > 0 {
		return nil, errEpochRollback
	}
	inverse := &Changes{Positions: make(map[string]*Position, len(tx.positions))}
	for id := range tx.positions {
		inverse.Positions[id] = tx.original[id].Clone()
	}
	if tx.origPool != nil {
		inverse.Pool = cloneAmount(tx.origPool)
	}
	if tx.origTotals != nil {
		inverse.Totals = tx.origTotals.Clone()
	}
	return inverse, nil
}
