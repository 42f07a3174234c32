package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"rwastaking/crypto"
	"rwastaking/native/staking"
	"rwastaking/storage"
)

// StakingStore persists the staking ledger tables (positions, rate_epochs and
// the reward pool balance) in a key/value database. Every change set lands in a
// single batch write.
type StakingStore struct {
	db   storage.Database
	meta *storedMeta
}

var _ staking.LedgerState = (*StakingStore)(nil)

// NewStakingStore opens the ledger on db, stamping the schema version on first use.
func NewStakingStore(db storage.Database) (*StakingStore, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	meta, err := ensureVersion(db)
	if err != nil {
		return nil, err
	}
	return &StakingStore{db: db, meta: meta}, nil
}

// ContractVersion returns the ledger version recorded when the store was created.
func (s *StakingStore) ContractVersion() string {
	if s == nil || s.meta == nil {
		return ""
	}
	return s.meta.Version
}

func (s *StakingStore) get(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// StakingPosition loads the position recorded for assetID.
func (s *StakingStore) StakingPosition(assetID string) (*staking.Position, bool, error) {
	stored := new(storedPosition)
	ok, err := s.get(stakingPositionKey(assetID), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	pos, err := stored.toPosition()
	if err != nil {
		return nil, false, err
	}
	return pos, true, nil
}

// StakingPositionsByOwner walks the owner index.
func (s *StakingStore) StakingPositionsByOwner(owner crypto.Address) ([]*staking.Position, error) {
	var ids []string
	if err := s.db.Iterate(stakingOwnerPrefix(owner), func(_, value []byte) bool {
		ids = append(ids, string(value))
		return true
	}); err != nil {
		return nil, err
	}
	out := make([]*staking.Position, 0, len(ids))
	for _, id := range ids {
		pos, ok, err := s.StakingPosition(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *StakingStore) epochCount() (uint64, error) {
	raw, err := s.db.Get(stakingEpochCountKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: corrupt epoch count")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// StakingRateEpochs returns the rate log in append order.
func (s *StakingStore) StakingRateEpochs() ([]staking.RateEpoch, error) {
	count, err := s.epochCount()
	if err != nil {
		return nil, err
	}
	epochs := make([]staking.RateEpoch, 0, count)
	for i := uint64(0); i < count; i++ {
		stored := new(storedEpoch)
		ok, err := s.get(stakingEpochKey(i), stored)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("state: rate epoch %d missing", i)
		}
		rate, err := fromBig(stored.Rate)
		if err != nil {
			return nil, fmt.Errorf("rate epoch %d: %w", i, err)
		}
		epochs = append(epochs, staking.RateEpoch{EffectiveFrom: stored.EffectiveFrom, Rate: rate})
	}
	return epochs, nil
}

// StakingPoolBalance returns the reward pool balance, zero when never funded.
func (s *StakingStore) StakingPoolBalance() (*uint256.Int, error) {
	balance := new(big.Int)
	ok, err := s.get(stakingPoolKey, balance)
	if err != nil || !ok {
		return new(uint256.Int), err
	}
	return fromBig(balance)
}

// StakingTotals returns the ledger counters.
func (s *StakingStore) StakingTotals() (*staking.Totals, error) {
	stored := new(storedTotals)
	ok, err := s.get(stakingTotalsKey, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (*staking.Totals)(nil).Clone(), nil
	}
	return stored.toTotals()
}

// StakingCommit writes the change set atomically, maintaining the owner index.
func (s *StakingStore) StakingCommit(changes *staking.Changes) error {
	if changes.Empty() {
		return nil
	}
	batch := storage.NewBatch()
	for assetID, pos := range changes.Positions {
		existing, ok, err := s.StakingPosition(assetID)
		if err != nil {
			return err
		}
		if ok && (pos == nil || existing.Owner != pos.Owner) {
			batch.Delete(stakingOwnerKey(existing.Owner, assetID))
		}
		if pos == nil {
			batch.Delete(stakingPositionKey(assetID))
			continue
		}
		encoded, err := rlp.EncodeToBytes(newStoredPosition(pos))
		if err != nil {
			return fmt.Errorf("state: encode position %s: %w", assetID, err)
		}
		batch.Put(stakingPositionKey(assetID), encoded)
		batch.Put(stakingOwnerKey(pos.Owner, assetID), []byte(assetID))
	}
	if len(changes.Epochs) > 0 {
		count, err := s.epochCount()
		if err != nil {
			return err
		}
		for _, epoch := range changes.Epochs {
			encoded, err := rlp.EncodeToBytes(&storedEpoch{EffectiveFrom: epoch.EffectiveFrom, Rate: toBig(epoch.Rate)})
			if err != nil {
				return fmt.Errorf("state: encode rate epoch: %w", err)
			}
			batch.Put(stakingEpochKey(count), encoded)
			count++
		}
		batch.Put(stakingEpochCountKey, binary.BigEndian.AppendUint64(nil, count))
	}
	if changes.Pool != nil {
		encoded, err := rlp.EncodeToBytes(toBig(changes.Pool))
		if err != nil {
			return fmt.Errorf("state: encode pool: %w", err)
		}
		batch.Put(stakingPoolKey, encoded)
	}
	if changes.Totals != nil {
		encoded, err := rlp.EncodeToBytes(newStoredTotals(changes.Totals))
		if err != nil {
			return fmt.Errorf("state: encode totals: %w", err)
		}
		batch.Put(stakingTotalsKey, encoded)
	}
	return s.db.Write(batch)
}
